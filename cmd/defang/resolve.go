// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/bureau-foundation/defang/cmd/defang/cli"
	"github.com/bureau-foundation/defang/lib/modfile"
	"github.com/bureau-foundation/defang/lib/process"
	"github.com/bureau-foundation/defang/lib/resolver"
	"github.com/bureau-foundation/defang/lib/target"
)

type resolveParams struct {
	cli.Output
	configParams
	Search []string `flag:"search,s" desc:"extra directory to probe for dependencies; repeat for each"`
}

// Resolution states.
const (
	resolved   = "resolved"
	builtin    = "builtin"
	unresolved = "missing"
)

type resolution struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Path     string `json:"path,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

func (a *app) resolveCommand() *cli.Command {
	var params resolveParams
	return &cli.Command{
		Name:    "resolve",
		Summary: "Show where a module's imports resolve, without starting a worker",
		Description: `Probes for the dependencies a module imports the way a worker does:
the module's own directory, the probing paths of <module>.config, the
configured resolver.search_paths, and any --search directories. Names
given after the module are resolved instead of its imports.`,
		Usage: "defang resolve <module> [name...] [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("resolve", &params) },
		Run:   func(args []string) error { return a.runResolve(&params, args) },
	}
}

func (a *app) runResolve(params *resolveParams, args []string) error {
	if len(args) == 0 {
		return process.Usagef("usage: defang resolve <module> [name...] [flags]")
	}
	module, err := modulePath(args[:1], "resolve")
	if err != nil {
		return err
	}
	cfg, err := params.load()
	if err != nil {
		return err
	}

	results, err := resolveImports(a.ctx, module, args[1:], cfg.Samples.IdentityFile,
		slices.Concat(cfg.Resolver.SearchPaths, params.Search), a.logger)
	if err != nil {
		return err
	}

	missing := 0
	for _, result := range results {
		if result.Status == unresolved {
			missing++
		}
	}
	err = params.Emit(a.stdout, results, func(w io.Writer) error {
		table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(table, "NAME\tSTATUS\tPATH")
		for _, result := range results {
			fmt.Fprintf(table, "%s\t%s\t%s\n", result.Name, result.Status, result.Path)
		}
		return table.Flush()
	})
	if err != nil {
		return err
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d dependencies unresolved", missing, len(results))
	}
	return nil
}

// resolveImports resolves names, or every import of the module at
// path when names is empty, with a resolver set up as a worker would
// set one up after loading path.
func resolveImports(ctx context.Context, path string, names []string, identityFile string, searchPaths []string, logger *slog.Logger) ([]resolution, error) {
	reader, err := modfile.NewReader(identityFile)
	if err != nil {
		return nil, fmt.Errorf("loading sample identities: %w", err)
	}
	// Resolution only compiles, so the interpreter's cheap compilation
	// is enough.
	runtime, err := target.NewRuntime(ctx, target.Options{Engine: target.EngineInterpreter})
	if err != nil {
		return nil, err
	}
	defer runtime.Close(ctx)

	dependencies := resolver.New(func(ctx context.Context, candidate string) (*target.Module, error) {
		return runtime.LoadDependency(ctx, candidate, reader)
	}, logger)
	for _, dir := range searchPaths {
		dependencies.AddSearchPath(dir)
	}

	if len(names) == 0 {
		data, err := reader.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading module: %w", err)
		}
		compiled, err := runtime.Compile(ctx, target.SimpleName(path), path, data)
		if err != nil {
			return nil, err
		}
		names = compiled.Imports()
	}
	dependencies.AddModulePath(path)
	logger.Debug("resolving", "module", path, "names", names, "search_paths", dependencies.SearchPaths())

	results := make([]resolution, 0, len(names))
	for _, name := range names {
		if name == wasi_snapshot_preview1.ModuleName || name == target.HostModule {
			results = append(results, resolution{Name: name, Status: builtin})
			continue
		}
		dependency, ok := dependencies.Resolve(ctx, name)
		if !ok {
			results = append(results, resolution{Name: name, Status: unresolved})
			continue
		}
		results = append(results, resolution{
			Name:     name,
			Status:   resolved,
			Path:     dependency.Path(),
			FullName: dependency.FullName(),
		})
	}
	return results, nil
}
