// Package llmjson pulls a JSON object out of free-form model output.
//
// Models wrap JSON in markdown fences, prepend commentary, or emit <think>
// blocks before the answer. Extract tolerates all three; anything else is a
// malformed payload.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPayload means no JSON object was found in the text.
	ErrNoPayload = errors.New("no JSON object in model output")
	// ErrMalformed means a JSON object was found but could not be decoded.
	ErrMalformed = errors.New("malformed JSON in model output")
)

// StripReasoning removes the reasoning from the content indicated by <think> and </think> tags.
func StripReasoning(content string) string {
	reasoningStart := strings.Index(content, "<think>")
	if reasoningStart != -1 {
		reasoningEnd := strings.Index(content, "</think>")
		if reasoningEnd != -1 && reasoningEnd > reasoningStart {
			content = content[:reasoningStart] + content[reasoningEnd+len("</think>"):]
		}
	}
	return strings.TrimSpace(content)
}

// stripFence returns the body of the first fenced code block, or text
// unchanged when there is none.
func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}
	body := text[start+3:]
	// Drop the info string (```json).
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	} else {
		return text
	}
	end := strings.Index(body, "```")
	if end == -1 {
		return body
	}
	return body[:end]
}

// Extract returns the first complete JSON object in text.
func Extract(text string) (string, error) {
	text = stripFence(StripReasoning(text))

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", ErrNoPayload
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated object", ErrMalformed)
}

// Decode extracts the JSON object from text and unmarshals it into target.
func Decode(text string, target any) error {
	payload, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
