// Package jsonutil is the JSON codec used for migration_log columns and CLI
// output.
package jsonutil

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// JSON behaves like encoding/json (sorted map keys, HTML escaping).
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v any) ([]byte, error)    { return JSON.Marshal(v) }
func Unmarshal(data []byte, v any) error { return JSON.Unmarshal(data, v) }

// MarshalIndent encodes v with two-space indentation and no trailing newline.
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := JSON.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteIndented writes v to w as indented JSON followed by a newline.
func WriteIndented(w io.Writer, v any) error {
	b, err := MarshalIndent(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
