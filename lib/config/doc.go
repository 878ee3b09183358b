// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for defang
// components.
//
// Configuration is loaded from a single file named by either the
// DEFANG_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). When neither names a file, [Default] applies. There
// is no ~/.config discovery and no per-field environment override.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded.
//
// Durations are YAML strings in [time.ParseDuration] syntax and are
// read through the typed accessors on each section ([ClientConfig].Timing,
// [LoaderConfig].JoinTimeout, and so on) after [Config.Validate] has
// accepted them.
//
// This package depends on no other defang packages.
package config
