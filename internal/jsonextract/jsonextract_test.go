package jsonextract

import "testing"

func TestObject_DirectParse(t *testing.T) {
	var v map[string]any
	if !Object(`{"reasoning": "because", "search_queries": ["a", "b"]}`, &v) {
		t.Fatal("expected direct parse to succeed")
	}
	if v["reasoning"] != "because" {
		t.Errorf("unexpected reasoning: %v", v["reasoning"])
	}
}

func TestObject_StripsMarkdownFence(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"reasoning\": \"x\", \"search_queries\": []}\n```\nThanks."
	var v map[string]any
	if !Object(text, &v) {
		t.Fatal("expected fenced object to parse")
	}
}

func TestObject_FallsBackToBraceScrape(t *testing.T) {
	text := `Sure, here's my answer: {"is_grounded": true, "unsupported_claims": []} hope that helps`
	var v map[string]any
	if !Object(text, &v) {
		t.Fatal("expected brace-delimited object to parse")
	}
}

func TestObject_NoJSON_ReturnsFalse(t *testing.T) {
	var v map[string]any
	if Object("I could not find an answer.", &v) {
		t.Error("expected no match")
	}
}

func TestStringArray_DirectParse(t *testing.T) {
	arr := StringArray(`["one", "two", "three"]`)
	if len(arr) != 3 || arr[0] != "one" {
		t.Errorf("unexpected array: %v", arr)
	}
}

func TestStringArray_BracketScrape(t *testing.T) {
	arr := StringArray("Variations:\n[\"login handler\", \"auth middleware\"]\nDone.")
	if len(arr) != 2 {
		t.Fatalf("expected 2 variations, got %v", arr)
	}
}

func TestStringArray_TakesFirstArrayWhenTextHasMoreBrackets(t *testing.T) {
	text := "Here you go:\n[\"session handling\", \"cookie parsing\"]\n(see [RFC 6265] for details)"
	arr := StringArray(text)
	if len(arr) != 2 || arr[0] != "session handling" || arr[1] != "cookie parsing" {
		t.Fatalf("expected the first complete array, got %v", arr)
	}
}

func TestStringArray_QuotedStringFallback(t *testing.T) {
	arr := StringArray(`I suggest "login handler code" and "JWT validation logic" as queries.`)
	if len(arr) != 2 {
		t.Fatalf("expected fallback to scrape 2 quoted strings, got %v", arr)
	}
}
