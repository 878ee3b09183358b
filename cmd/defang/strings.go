// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/process"
)

type stringsParams struct {
	workerParams
	Strategy  string   `flag:"strategy" default:"direct" desc:"invocation strategy: direct or emulate"`
	Decrypter uint32   `flag:"decrypter,d" desc:"method token of the decryption routine"`
	Caller    uint32   `flag:"caller" desc:"method token of the call site (emulate only)"`
	Args      []string `flag:"arg,a" desc:"routine argument; repeat for each (str: and hex: force a string or bytes)"`
	Job       string   `flag:"job" desc:"JSON-with-comments file describing a batch of calls"`
}

// stringResult is one decrypted call site.
type stringResult struct {
	Decrypter token    `json:"decrypter"`
	Caller    token    `json:"caller,omitempty"`
	Args      []any    `json:"args"`
	Result    wireText `json:"result"`
}

func (a *app) stringsCommand() *cli.Command {
	var params stringsParams
	return &cli.Command{
		Name:    "strings",
		Summary: "Decrypt strings with a module's string decryption routines",
		Usage:   "defang strings [<module>] [flags]",
		Examples: []cli.Example{
			{Description: "Decrypt one call site", Command: "defang strings sample.wasm -d 0x06000002 -a 5"},
			{Description: "Run a batch of calls; the job's strategy, if any, wins over --strategy", Command: "defang strings --job calls.jsonc"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("strings", &params) },
		Run:   func(args []string) error { return a.runStrings(&params, args) },
	}
}

func (a *app) runStrings(params *stringsParams, args []string) error {
	batch, err := stringsJob(params, args)
	if err != nil {
		return err
	}
	strategy, err := ipc.ParseStrategy(batch.Strategy)
	if err != nil {
		return process.Usagef("%v", err)
	}

	session, err := a.openSession(&params.workerParams)
	if err != nil {
		return err
	}
	defer session.close()

	decrypter, err := session.factory.StringDecrypter(a.ctx)
	if err != nil {
		return err
	}
	defer decrypter.Dispose(a.ctx)

	if err := decrypter.Load(a.ctx, batch.Module); err != nil {
		return err
	}
	if err := decrypter.SetStrategy(a.ctx, strategy); err != nil {
		return err
	}

	indices := make(map[token]int)
	for _, c := range batch.Calls {
		if _, ok := indices[c.Decrypter]; ok {
			continue
		}
		index, err := decrypter.DefineDecrypter(a.ctx, uint32(c.Decrypter))
		if err != nil {
			return fmt.Errorf("defining decrypter %v: %w", c.Decrypter, err)
		}
		indices[c.Decrypter] = index
	}

	// One decrypt request per (decrypter, caller) pair, results put
	// back in the order the calls were given.
	type group struct {
		decrypter, caller token
	}
	positions := make(map[group][]int)
	var order []group
	for i, c := range batch.Calls {
		key := group{c.Decrypter, c.Caller}
		if _, ok := positions[key]; !ok {
			order = append(order, key)
		}
		positions[key] = append(positions[key], i)
	}

	results := make([]stringResult, len(batch.Calls))
	for _, key := range order {
		callArgs := make([][]any, 0, len(positions[key]))
		for _, i := range positions[key] {
			callArgs = append(callArgs, batch.Calls[i].Args)
		}
		decrypted, err := decrypter.Decrypt(a.ctx, indices[key.decrypter], callArgs, uint32(key.caller))
		if err != nil {
			return fmt.Errorf("decrypting with %v: %w", key.decrypter, err)
		}
		if len(decrypted) != len(callArgs) {
			return fmt.Errorf("decrypting with %v: got %d results for %d calls", key.decrypter, len(decrypted), len(callArgs))
		}
		for n, i := range positions[key] {
			results[i] = stringResult{
				Decrypter: key.decrypter,
				Caller:    key.caller,
				Args:      batch.Calls[i].Args,
				Result:    wireText(decrypted[n]),
			}
		}
	}

	return params.Emit(a.stdout, results, func(w io.Writer) error {
		for _, result := range results {
			if _, err := fmt.Fprintf(w, "%v(%s) = %s\n",
				result.Decrypter, formatArgs(result.Args), result.Result.Quote()); err != nil {
				return err
			}
		}
		return nil
	})
}

// stringsJob builds the batch from --job or from the single-call
// flags.
func stringsJob(params *stringsParams, args []string) (*job, error) {
	if params.Job != "" {
		batch, err := readJob(params.Job)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			if batch.Module, err = modulePath(args, "strings"); err != nil {
				return nil, err
			}
		}
		if batch.Module == "" {
			return nil, process.Usagef("job %s names no module and none was given", params.Job)
		}
		if batch.Module, err = filepath.Abs(batch.Module); err != nil {
			return nil, err
		}
		if batch.Strategy == "" {
			batch.Strategy = params.Strategy
		}
		if len(batch.Calls) == 0 {
			return nil, process.Usagef("job %s has no calls", params.Job)
		}
		return batch, nil
	}

	module, err := modulePath(args, "strings")
	if err != nil {
		return nil, err
	}
	if params.Decrypter == 0 {
		return nil, process.Usagef("--decrypter is required without --job")
	}
	single := call{Decrypter: token(params.Decrypter), Caller: token(params.Caller)}
	for _, text := range params.Args {
		value, err := parseArgument(text)
		if err != nil {
			return nil, process.Usagef("%v", err)
		}
		single.Args = append(single.Args, value)
	}
	return &job{Module: module, Strategy: params.Strategy, Calls: []call{single}}, nil
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			parts[i] = strconv.Quote(v)
		case []byte:
			parts[i] = fmt.Sprintf("hex:%x", v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ", ")
}
