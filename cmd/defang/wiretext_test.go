// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bureau-foundation/defang/lib/ipc"
)

func TestWireTextKeepsEveryCodeUnit(t *testing.T) {
	tests := []struct {
		name  string
		units ipc.WireString
		text  string
		json  string
	}{
		{"plain", ipc.NewWireString("ab"), `"ab"`, `"ab"`},
		{"quote", ipc.NewWireString(`a"b`), `"a\"b"`, `"a\"b"`},
		{"embedded nul", ipc.WireString{0, 'a'}, `"\x00a"`, `"\u0000a"`},
		{"surrogate pair", ipc.NewWireString("😀"), `"😀"`, `"😀"`},
		{"unpaired high", ipc.WireString{0xD800, 'x'}, `"\ud800x"`, `"\ud800x"`},
		{"trailing high", ipc.WireString{'a', 0xDBFF}, `"a\udbff"`, `"a\udbff"`},
		{"reversed pair", ipc.WireString{0xDC00, 0xD800}, `"\udc00\ud800"`, `"\udc00\ud800"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			value := wireText(test.units)
			if got := value.Quote(); got != test.text {
				t.Errorf("Quote() = %s, want %s", got, test.text)
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(encoded) != test.json {
				t.Errorf("JSON = %s, want %s", encoded, test.json)
			}
			if !json.Valid(encoded) {
				t.Errorf("JSON %s is not valid", encoded)
			}
		})
	}
}

func TestStringResultJSONKeepsUnpairedSurrogate(t *testing.T) {
	result := stringResult{Decrypter: 0x06000001, Result: wireText{'a', 0xD800}}
	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"result":"a\ud800"`) {
		t.Errorf("JSON = %s, want the unpaired surrogate escaped", encoded)
	}

	var decoded stringResult
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Result.String() != "a\uFFFD" {
		t.Errorf("decoded = %q", decoded.Result.String())
	}
}
