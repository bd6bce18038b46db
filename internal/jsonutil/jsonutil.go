// Package jsonutil extracts JSON payloads from freeform text produced by
// coding-agent CLIs.
//
// Agents asked to emit JSON routinely wrap it in markdown code fences,
// prepend prose, or leave ANSI escape codes in the stream. Extract applies
// a sequence of strategies (code fence, balanced object/array matching) so
// callers get the first valid JSON value without caring how it was framed.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes caps the input size to prevent memory exhaustion on
// runaway agent output.
const maxInputBytes = 10 * 1024 * 1024

// reANSI matches CSI escape sequences that agent CLIs may embed in output.
var reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

// reCodeFence matches a markdown code fence, optionally tagged "json". The
// fenced content is captured in subgroup 1. Dot-all mode with a non-greedy
// quantifier stops at the first closing fence.
var reCodeFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// Extract returns the first valid JSON object or array found in text.
// Strategies, in order of reliability:
//  1. markdown code fence content
//  2. balanced top-level { } or [ ] spans
//
// An error is returned when no valid JSON is found or the input exceeds
// the 10 MB cap.
func Extract(text string) (json.RawMessage, error) {
	cleaned, err := sanitize(text)
	if err != nil {
		return nil, err
	}

	for _, m := range reCodeFence.FindAllStringSubmatch(cleaned, -1) {
		candidate := strings.TrimSpace(m[1])
		if isValidJSON(candidate) {
			return json.RawMessage(candidate), nil
		}
	}

	for _, candidate := range balancedSpans(cleaned) {
		if isValidJSON(candidate) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("jsonutil: no valid JSON found in text")
}

// ExtractInto extracts the first valid JSON value from text and unmarshals
// it into v.
func ExtractInto(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("jsonutil: decoding extracted JSON: %w", err)
	}
	return nil
}

// sanitize strips a leading UTF-8 BOM and ANSI escape codes, enforcing the
// size cap.
func sanitize(text string) (string, error) {
	if len(text) > maxInputBytes {
		return "", fmt.Errorf("jsonutil: input exceeds maximum size of %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	return reANSI.ReplaceAllString(text, ""), nil
}

func isValidJSON(s string) bool {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	var probe any
	return json.Unmarshal([]byte(s), &probe) == nil
}

// balancedSpans scans text for top-level '{' and '[' characters and returns
// each substring that ends at the matching close delimiter, in order of
// appearance. Quoted strings and escape sequences are respected.
func balancedSpans(text string) []string {
	var spans []string
	n := len(text)
	for i := 0; i < n; i++ {
		open := text[i]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchingClose(text, i); end >= 0 {
			spans = append(spans, text[i:end+1])
		}
	}
	return spans
}

// matchingClose returns the index of the delimiter that closes the one at
// start, or -1 when the text ends before balance is restored. Only the
// delimiter kind at start participates in depth counting; mixed nesting is
// handled by the JSON validity check on the caller side.
func matchingClose(text string, start int) int {
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
