// Package store holds the encoding helpers shared by the postgres and
// sqlite implementations of the pipeline store.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeFields serializes a mapped field set as a JSON object. A nil map
// encodes as "{}".
func EncodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return b, nil
}

// DecodeFields parses a JSON object written by EncodeFields. Numbers decode
// as float64.
func DecodeFields(b []byte) (map[string]any, error) {
	fields := make(map[string]any)
	if len(bytes.TrimSpace(b)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// EncodeList serializes a string list as a JSON array, "[]" when empty.
func EncodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// DecodeList parses a JSON array written by EncodeList. Empty input
// decodes to nil.
func DecodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return list, nil
}

// EncodeArgs serializes transform arguments, "{}" when empty.
func EncodeArgs(args map[string]string) string {
	if len(args) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(args)
	return string(b)
}

// DecodeArgs parses transform arguments written by EncodeArgs.
func DecodeArgs(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("decode transform args: %w", err)
	}
	return args, nil
}
