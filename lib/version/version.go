// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for defang binaries.
//
// Release builds inject the variables below with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/defang/lib/version.Version=0.2.0"
//
// Development builds leave them unset; the commit and build time then
// come from the VCS stamp the Go toolchain embeds, when present.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// GitCommit is the short git SHA of the build.
	GitCommit = ""

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = ""

	// BuildTime is the UTC timestamp of the build.
	BuildTime = ""

	// Version is the semantic version, set for releases.
	Version = "0.1.0-dev"
)

// Build is a snapshot of the build information.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	buildOnce sync.Once
	build     Build
)

// Current returns the build information, filling commit and time from
// the embedded VCS stamp where -ldflags left them empty.
func Current() Build {
	buildOnce.Do(func() {
		build = Build{
			Version:   Version,
			Commit:    GitCommit,
			Dirty:     GitDirty == "true",
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if build.Commit == "" {
					build.Commit = shortRevision(setting.Value)
				}
			case "vcs.time":
				if build.BuildTime == "" {
					build.BuildTime = setting.Value
				}
			case "vcs.modified":
				if GitDirty == "" {
					build.Dirty = setting.Value == "true"
				}
			}
		}
	})
	return build
}

func shortRevision(revision string) string {
	if len(revision) > 7 {
		return revision[:7]
	}
	return revision
}

// Info returns the one-line form used by --version.
func (b Build) Info() string {
	commit := b.Commit
	if commit == "" {
		commit = "unknown"
	}
	if b.Dirty {
		commit += "-dirty"
	}
	buildTime := b.BuildTime
	if buildTime == "" {
		buildTime = "unknown"
	}
	return fmt.Sprintf("%s (%s, %s)", b.Version, commit, buildTime)
}

// Full adds the Go version and platform to Info.
func (b Build) Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s", b.Info(), b.GoVersion, b.Platform)
}

// Info is shorthand for Current().Info().
func Info() string { return Current().Info() }
