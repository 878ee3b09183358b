// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// job is a batch of string decryption calls against one module. Job
// files are JSON with comments:
//
//	{
//	  // relative to the job file
//	  "module": "sample.wasm",
//	  "strategy": "emulate",
//	  "calls": [
//	    {"decrypter": "0x06000002", "args": [5], "caller": "0x06000004"},
//	    {"decrypter": 100663298, "args": ["text", {"hex": "00ff"}]}
//	  ]
//	}
type job struct {
	Module   string `json:"module"`
	Strategy string `json:"strategy"`
	Calls    []call `json:"calls"`
}

type call struct {
	Decrypter token `json:"decrypter"`
	Caller    token `json:"caller,omitempty"`
	Args      []any `json:"args"`
}

// token is a method token, written as a number or as a string in any
// base strconv accepts with base 0.
type token uint32

func (t *token) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	value, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		return fmt.Errorf("method token %s: %w", data, err)
	}
	*t = token(value)
	return nil
}

func (t token) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%#08x", uint32(t)))
}

func (t token) String() string { return fmt.Sprintf("%#08x", uint32(t)) }

// readJob parses the job file at path. A relative module path is
// taken relative to the job file.
func readJob(path string) (*job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	var parsed job
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing job %s: %w", path, err)
	}
	for i := range parsed.Calls {
		for j, arg := range parsed.Calls[i].Args {
			value, err := jobArgument(arg)
			if err != nil {
				return nil, fmt.Errorf("job %s: call %d argument %d: %w", path, i, j, err)
			}
			parsed.Calls[i].Args[j] = value
		}
	}
	if parsed.Module != "" && !filepath.IsAbs(parsed.Module) {
		parsed.Module = filepath.Join(filepath.Dir(path), parsed.Module)
	}
	return &parsed, nil
}

// jobArgument converts a decoded JSON argument to the value sent to
// the worker. Integers stay exact; {"hex": "..."} is a byte buffer.
func jobArgument(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		if integer, err := v.Int64(); err == nil {
			return integer, nil
		}
		if unsigned, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return unsigned, nil
		}
		float, err := v.Float64()
		if err != nil || math.IsInf(float, 0) {
			return nil, fmt.Errorf("number %s is out of range", v)
		}
		return float, nil
	case string, bool:
		return v, nil
	case map[string]any:
		encoded, ok := v["hex"].(string)
		if !ok || len(v) != 1 {
			return nil, fmt.Errorf(`object arguments must be {"hex": "..."}`)
		}
		return hex.DecodeString(encoded)
	default:
		return nil, fmt.Errorf("unsupported argument %v", value)
	}
}

// parseArgument converts a --arg value. "str:" and "hex:" force a
// string or byte buffer; otherwise integers and floats are numbers and
// anything else is a string.
func parseArgument(text string) (any, error) {
	if rest, ok := strings.CutPrefix(text, "str:"); ok {
		return rest, nil
	}
	if rest, ok := strings.CutPrefix(text, "hex:"); ok {
		data, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", text, err)
		}
		return data, nil
	}
	if integer, err := strconv.ParseInt(text, 0, 64); err == nil {
		return integer, nil
	}
	if unsigned, err := strconv.ParseUint(text, 0, 64); err == nil {
		return unsigned, nil
	}
	if float, err := strconv.ParseFloat(text, 64); err == nil {
		return float, nil
	}
	return text, nil
}
