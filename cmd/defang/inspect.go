// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/extension"
)

type inspectParams struct {
	workerParams
	Sections []string `flag:"section" desc:"custom section to dump as hex; repeat for each"`
}

type inspectResult struct {
	Module   string             `json:"module"`
	Digest   string             `json:"digest"`
	Exports  []extension.Export `json:"exports"`
	Sections map[string]*string `json:"sections,omitempty"`
}

func (a *app) inspectCommand() *cli.Command {
	var params inspectParams
	return &cli.Command{
		Name:    "inspect",
		Summary: "List a module's exports and method tokens inside a generic worker",
		Usage:   "defang inspect <module> [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("inspect", &params) },
		Run:     func(args []string) error { return a.runInspect(&params, args) },
	}
}

func (a *app) runInspect(params *inspectParams, args []string) error {
	module, err := modulePath(args, "inspect")
	if err != nil {
		return err
	}

	session, err := a.openSession(&params.workerParams)
	if err != nil {
		return err
	}
	defer session.close()

	generic, err := session.factory.Generic(a.ctx)
	if err != nil {
		return err
	}
	defer generic.Dispose(a.ctx)

	if err := generic.LoadExtension(a.ctx, extension.InspectType); err != nil {
		return err
	}
	if err := generic.Load(a.ctx, module); err != nil {
		return err
	}

	result := inspectResult{Module: module}
	if err := generic.DispatchInto(a.ctx, extension.InspectExports, &result.Exports); err != nil {
		return err
	}
	var digest []byte
	if err := generic.DispatchInto(a.ctx, extension.InspectDigest, &digest); err != nil {
		return err
	}
	result.Digest = hex.EncodeToString(digest)

	for _, name := range params.Sections {
		if result.Sections == nil {
			result.Sections = make(map[string]*string)
		}
		var section []byte
		if err := generic.DispatchInto(a.ctx, extension.InspectCustomSection, &section, name); err != nil {
			return err
		}
		if section == nil {
			result.Sections[name] = nil
			continue
		}
		encoded := hex.EncodeToString(section)
		result.Sections[name] = &encoded
	}

	return params.Emit(a.stdout, result, func(w io.Writer) error {
		fmt.Fprintf(w, "%s\nblake3 %s\n\n", result.Module, result.Digest)
		table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(table, "TOKEN\tNAME\tSIGNATURE\tSTRING-LIKE")
		for _, export := range result.Exports {
			fmt.Fprintf(table, "%v\t%s\t%s\t%t\n", token(export.Token), export.Name, export.Signature, export.StringLike)
		}
		if err := table.Flush(); err != nil {
			return err
		}
		for _, name := range params.Sections {
			if section := result.Sections[name]; section != nil {
				fmt.Fprintf(w, "\nsection %s: %s\n", name, *section)
			} else {
				fmt.Fprintf(w, "\nsection %s: absent\n", name)
			}
		}
		return nil
	})
}
