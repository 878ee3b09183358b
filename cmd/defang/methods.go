// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/ipc"
	"github.com/bureau-foundation/defang/lib/process"
)

type methodsParams struct {
	workerParams
	Tokens []string `flag:"token,t" desc:"method token to decrypt; repeat for each (default: every export)"`
}

type methodResult struct {
	Token  token  `json:"token"`
	Header string `json:"header"`
	Body   string `json:"body"`
}

func (a *app) methodsCommand() *cli.Command {
	var params methodsParams
	return &cli.Command{
		Name:    "methods",
		Summary: "Recover encrypted method bodies through the module's own decrypter",
		Description: `Installs the body hook in a fresh worker, loads the obfuscated module
under it, and runs the body decrypter the module registers on every
requested method. Header and body are printed as hex.`,
		Usage: "defang methods <module> [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("methods", &params) },
		Run:   func(args []string) error { return a.runMethods(&params, args) },
	}
}

func (a *app) runMethods(params *methodsParams, args []string) error {
	module, err := modulePath(args, "methods")
	if err != nil {
		return err
	}
	var info ipc.DecryptMethodsInfo
	for _, text := range params.Tokens {
		value, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return process.Usagef("--token %q: %v", text, err)
		}
		info.Tokens = append(info.Tokens, uint32(value))
	}

	session, err := a.openSession(&params.workerParams)
	if err != nil {
		return err
	}
	defer session.close()

	decrypter, err := session.factory.MethodDecrypter(a.ctx)
	if err != nil {
		return err
	}
	defer decrypter.Dispose(a.ctx)

	if err := decrypter.InstallHook(a.ctx, info); err != nil {
		return err
	}
	if err := decrypter.LoadObfuscator(a.ctx, module); err != nil {
		return err
	}
	ok, err := decrypter.CanDecrypt(a.ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("the module registered no body decrypter while loading")
	}
	bodies, err := decrypter.DecryptAll(a.ctx)
	if err != nil {
		return err
	}

	results := make([]methodResult, len(bodies))
	for i, body := range bodies {
		results[i] = methodResult{
			Token:  token(body.Token),
			Header: hex.EncodeToString(body.Header),
			Body:   hex.EncodeToString(body.Body),
		}
	}
	return params.Emit(a.stdout, results, func(w io.Writer) error {
		table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(table, "TOKEN\tHEADER\tBODY")
		for i, body := range bodies {
			fmt.Fprintf(table, "%v\t%d bytes\t%d bytes  %s\n",
				results[i].Token, len(body.Header), len(body.Body), abbreviate(results[i].Body, 32))
		}
		return table.Flush()
	})
}

func abbreviate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
