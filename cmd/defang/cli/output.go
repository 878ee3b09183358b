// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"golang.org/x/term"
)

// Output is embedded in a command's params to select how results are
// written. "auto" writes text to a terminal and JSON to anything else.
type Output struct {
	Format string `flag:"output,o" default:"auto" desc:"result format: auto, text, or json"`
}

// JSON reports whether results go to w as JSON.
func (o *Output) JSON(w io.Writer) (bool, error) {
	switch o.Format {
	case "json":
		return true, nil
	case "text":
		return false, nil
	case "", "auto":
		file, ok := w.(*os.File)
		return !ok || !term.IsTerminal(int(file.Fd())), nil
	default:
		return false, fmt.Errorf("unknown output format %q (want auto, text, or json)", o.Format)
	}
}

// Emit writes result to w as indented JSON, or calls text when the
// output is for a human.
func (o *Output) Emit(w io.Writer, result any, text func(io.Writer) error) error {
	asJSON, err := o.JSON(w)
	if err != nil {
		return err
	}
	if !asJSON {
		return text(w)
	}
	return WriteJSON(w, result)
}

// WriteJSON writes value as indented JSON. A nil slice is written as
// [] rather than null.
func WriteJSON(w io.Writer, value any) error {
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
