// Package jsonextract pulls JSON values out of LLM text responses that may
// wrap the payload in prose or markdown fences. It is shared by the planner,
// verifier and strategist, which all parse tolerant LLM output the same way.
package jsonextract

import (
	"encoding/json"
	"regexp"
)

var (
	fenceJSONRE = regexp.MustCompile("(?s)```json\\s*")
	fenceRE     = regexp.MustCompile("(?s)```\\s*")
	objectRE    = regexp.MustCompile(`(?s)\{.*\}`)
	// Non-greedy: take the first complete array, not first-'['-to-last-']'
	// across the whole response.
	arrayRE = regexp.MustCompile(`(?s)\[.*?\]`)
	quotedRE    = regexp.MustCompile(`"([^"]+)"`)
)

func stripFences(text string) string {
	text = fenceJSONRE.ReplaceAllString(text, "")
	text = fenceRE.ReplaceAllString(text, "")
	return text
}

// Object extracts a JSON object from text into v, trying: a direct parse of
// the (fence-stripped) text, then the first brace-delimited substring.
// Returns false if no stage produces valid JSON.
func Object(text string, v any) bool {
	clean := stripFences(text)

	if err := json.Unmarshal([]byte(trimSpace(clean)), v); err == nil {
		return true
	}

	if m := objectRE.FindString(clean); m != "" {
		if err := json.Unmarshal([]byte(m), v); err == nil {
			return true
		}
	}

	return false
}

// StringArray extracts a JSON array of strings from text, trying: a direct
// parse, then a bracket-delimited substring, then a fallback scrape of every
// quoted substring in the text (which tolerates a response that lists its
// items without ever producing valid JSON).
func StringArray(text string) []string {
	clean := stripFences(text)

	var direct []string
	if err := json.Unmarshal([]byte(trimSpace(clean)), &direct); err == nil {
		return direct
	}

	if m := arrayRE.FindString(clean); m != "" {
		var arr []string
		if err := json.Unmarshal([]byte(m), &arr); err == nil {
			return arr
		}
	}

	var quoted []string
	for _, match := range quotedRE.FindAllStringSubmatch(clean, -1) {
		quoted = append(quoted, match[1])
	}
	return quoted
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
