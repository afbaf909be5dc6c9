package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

func trimPayload(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "json:"))
}

// DecodeDocuments parses a payload holding one JSON object or an array of
// objects. The json: prefix is accepted and ignored.
func DecodeDocuments(s string) ([]map[string]any, error) {
	s = trimPayload(s)
	if s == "" || !utf8.ValidString(s) {
		return nil, ErrInvalidJSON
	}

	if strings.HasPrefix(s, "[") {
		var docs []map[string]any
		if err := json.Unmarshal([]byte(s), &docs); err != nil {
			return nil, ErrInvalidJSON
		}
		for _, d := range docs {
			if d == nil {
				return nil, ErrInvalidJSON
			}
		}
		return docs, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil || doc == nil {
		return nil, ErrInvalidJSON
	}
	return []map[string]any{doc}, nil
}

// DecodeObject parses a payload that must be a single JSON object.
func DecodeObject(s string) (map[string]any, error) {
	if strings.HasPrefix(trimPayload(s), "[") {
		return nil, ErrInvalidJSON
	}
	docs, err := DecodeDocuments(s)
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func IsJSON(s string) bool {
	return json.Valid([]byte(s))
}
