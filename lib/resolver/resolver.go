// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver locates the dependencies a target module imports.
//
// Lookup never fails loudly. [Resolver.Resolve] reports false when a
// name cannot be resolved so the caller's own fallback (for a runtime,
// reporting the missing import) can take over. Candidates that exist
// but fail to load are skipped, and unreadable or malformed probing
// configs contribute no paths.
//
// Search order for a name:
//
//  1. an already-resolved dependency with that exact (full) name
//  2. an already-resolved dependency with the same simple name, the
//     text before the first comma
//  3. for each search path in registration order, for each module
//     extension, the file <path>/<simple name><extension>
//
// A dependency found on disk is registered under both its simple and
// full names, and its own config file (<path>.config) is read for
// further probing directories.
package resolver

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/defang/lib/modfile"
)

// ConfigSuffix is appended to a module path to find its probing config.
const ConfigSuffix = ".config"

// Dependency is a loaded module the resolver can cache.
type Dependency interface {
	Name() string
	FullName() string
}

// LoadFunc loads the module file at path. Any error skips the
// candidate.
type LoadFunc[D Dependency] func(ctx context.Context, path string) (D, error)

// Resolver caches dependencies and the directories they are probed
// in. It is safe for concurrent use.
type Resolver[D Dependency] struct {
	load   LoadFunc[D]
	logger *slog.Logger

	mu          sync.Mutex
	searchPaths []string
	byName      map[string]D
}

// New returns a resolver that loads candidates with load.
func New[D Dependency](load LoadFunc[D], logger *slog.Logger) *Resolver[D] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver[D]{
		load:   load,
		logger: logger,
		byName: make(map[string]D),
	}
}

// AddSearchPath appends dir to the search paths. Duplicates are
// ignored.
func (r *Resolver[D]) AddSearchPath(dir string) {
	if dir == "" {
		return
	}
	dir = filepath.Clean(dir)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.searchPaths, dir) {
		r.searchPaths = append(r.searchPaths, dir)
	}
}

// SearchPaths returns a copy of the current search paths.
func (r *Resolver[D]) SearchPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.searchPaths)
}

// AddModulePath registers the directory of a loaded module file, and
// the probing directories of its config file, as search paths.
func (r *Resolver[D]) AddModulePath(path string) {
	r.AddSearchPath(filepath.Dir(path))
	for _, dir := range ProbingPaths(path + ConfigSuffix) {
		r.AddSearchPath(dir)
	}
}

// Register caches dependency under its simple and full names.
func (r *Resolver[D]) Register(dependency D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[dependency.Name()] = dependency
	r.byName[dependency.FullName()] = dependency
}

// SimpleName returns the part of a possibly qualified name before the
// first comma.
func SimpleName(name string) string {
	if comma := strings.IndexByte(name, ','); comma >= 0 {
		name = name[:comma]
	}
	return strings.TrimSpace(name)
}

// Resolve returns the dependency called name.
func (r *Resolver[D]) Resolve(ctx context.Context, name string) (D, bool) {
	var zero D
	simple := SimpleName(name)
	if simple == "" || strings.ContainsAny(simple, `/\`) {
		return zero, false
	}

	r.mu.Lock()
	if dependency, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return dependency, true
	}
	if dependency, ok := r.byName[simple]; ok {
		r.mu.Unlock()
		return dependency, true
	}
	searchPaths := slices.Clone(r.searchPaths)
	r.mu.Unlock()

	for _, dir := range searchPaths {
		for _, extension := range modfile.Extensions {
			candidate := filepath.Join(dir, simple+extension)
			info, err := os.Stat(candidate)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}

			dependency, err := r.load(ctx, candidate)
			if err != nil {
				r.logger.Debug("skipping dependency candidate",
					"name", name,
					"path", candidate,
					"error", err,
				)
				continue
			}

			r.Register(dependency)
			r.AddModulePath(candidate)
			r.logger.Debug("dependency resolved",
				"name", name,
				"path", candidate,
				"full_name", dependency.FullName(),
			)
			return dependency, true
		}
	}
	return zero, false
}

// ProbingPaths reads the probing directories declared in the XML
// config file at configPath: every privatePath attribute of a probing
// element, split on ';', relative to the config's directory. A missing,
// unreadable, or malformed file yields nil.
func ProbingPaths(configPath string) []string {
	file, err := os.Open(configPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	base := filepath.Dir(configPath)
	var paths []string
	decoder := xml.NewDecoder(file)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return paths
		}
		if err != nil {
			return nil
		}
		element, ok := token.(xml.StartElement)
		if !ok || element.Name.Local != "probing" {
			continue
		}
		for _, attribute := range element.Attr {
			if attribute.Name.Local != "privatePath" {
				continue
			}
			for _, entry := range strings.Split(attribute.Value, ";") {
				entry = strings.TrimSpace(entry)
				if entry == "" {
					continue
				}
				entry = filepath.FromSlash(entry)
				if !filepath.IsAbs(entry) {
					entry = filepath.Join(base, entry)
				}
				paths = append(paths, entry)
			}
		}
	}
}
