// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf16"

	"github.com/bureau-foundation/defang/lib/ipc"
)

// wireText prints a decrypted string without losing code units. Paired
// surrogates print as the character they encode; an unpaired surrogate
// prints as a \uXXXX escape in both text and JSON output.
type wireText ipc.WireString

// escape writes the units between quotes. quoteRune returns the quoted
// form of one valid rune, including its surrounding quote marks.
func (w wireText) escape(quoteRune func(rune) string) string {
	out := []byte{'"'}
	for i := 0; i < len(w); i++ {
		r := rune(w[i])
		if utf16.IsSurrogate(r) {
			paired := unicode.ReplacementChar
			if i+1 < len(w) {
				paired = utf16.DecodeRune(r, rune(w[i+1]))
			}
			if paired == unicode.ReplacementChar {
				out = fmt.Appendf(out, `\u%04x`, w[i])
				continue
			}
			r = paired
			i++
		}
		quoted := quoteRune(r)
		out = append(out, quoted[1:len(quoted)-1]...)
	}
	return string(append(out, '"'))
}

// Quote returns the Go-quoted form used by text output.
func (w wireText) Quote() string {
	return w.escape(func(r rune) string { return strconv.Quote(string(r)) })
}

// String decodes the units, replacing unpaired surrogates.
func (w wireText) String() string {
	return ipc.WireString(w).String()
}

func (w wireText) MarshalJSON() ([]byte, error) {
	var failed error
	text := w.escape(func(r rune) string {
		encoded, err := json.Marshal(string(r))
		if err != nil {
			failed = err
			return `""`
		}
		return string(encoded)
	})
	if failed != nil {
		return nil, failed
	}
	return []byte(text), nil
}

func (w *wireText) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*w = wireText(ipc.NewWireString(text))
	return nil
}
