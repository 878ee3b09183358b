// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package namegen draws channel identities for workers.
//
// Names are pronounceable-looking runs of ASCII letters, 15 to 20
// characters long: an uppercase letter followed by one to four
// lowercase letters, repeated. The alphabet and length give well over
// 2^70 possible names, which is enough that concurrently running
// clients on one host never collide in practice.
//
// The package-level [Identity] draws from a process-wide generator
// seeded once from crypto/rand. Tests construct their own [Generator]
// with [NewSeeded] for deterministic names.
package namegen

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/bureau-foundation/defang/lib/ipc"
)

const (
	minLength = 15
	maxLength = 20
	maxLower  = 4
)

// Generator produces random alphabetic names. It is safe for
// concurrent use.
type Generator struct {
	mu     sync.Mutex
	random *rand.Rand
}

// New returns a generator seeded from the operating system's entropy
// source.
func New() *Generator {
	var seed [32]byte
	// crypto/rand.Read never returns an error on supported platforms.
	cryptorand.Read(seed[:])
	return &Generator{random: rand.New(rand.NewChaCha8(seed))}
}

// NewSeeded returns a generator whose output is fully determined by
// seed.
func NewSeeded(seed [32]byte) *Generator {
	return &Generator{random: rand.New(rand.NewChaCha8(seed))}
}

// Name returns a fresh random name.
func (g *Generator) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nameLocked()
}

// Identity returns a fresh channel identity: independent random name
// and uri.
func (g *Generator) Identity() ipc.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ipc.Identity{Name: g.nameLocked(), URI: g.nameLocked()}
}

func (g *Generator) nameLocked() string {
	length := minLength + g.random.IntN(maxLength-minLength+1)

	var builder strings.Builder
	builder.Grow(length)
	for builder.Len() < length {
		builder.WriteByte(byte('A' + g.random.IntN(26)))
		lowers := 1 + g.random.IntN(maxLower)
		for i := 0; i < lowers && builder.Len() < length; i++ {
			builder.WriteByte(byte('a' + g.random.IntN(26)))
		}
	}
	return builder.String()
}

var (
	defaultOnce      sync.Once
	defaultGenerator *Generator
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() {
		defaultGenerator = New()
	})
	return defaultGenerator
}

// Name draws a name from the process-wide generator.
func Name() string {
	return Default().Name()
}

// Identity draws a channel identity from the process-wide generator.
func Identity() ipc.Identity {
	return Default().Identity()
}
