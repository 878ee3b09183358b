// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/version"
)

func (a *app) versionCommand() *cli.Command {
	var params struct {
		cli.Output
	}
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("version", &params) },
		Run: func([]string) error {
			build := version.Current()
			return params.Emit(a.stdout, build, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "defang %s\n", build.Full())
				return err
			})
		},
	}
}
