// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// fakeModule stands in for a loaded module: its content is the file
// body, and a body starting with "bad" fails to load.
type fakeModule struct {
	name string
	path string
}

func (m *fakeModule) Name() string { return m.name }
func (m *fakeModule) FullName() string {
	return m.name + ", Digest=" + fmt.Sprintf("%08x", len(m.path))
}

func loadFake(_ context.Context, path string) (*fakeModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data), "bad") {
		return nil, errors.New("structurally invalid")
	}
	base := filepath.Base(path)
	return &fakeModule{name: base[:strings.IndexByte(base, '.')], path: path}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestResolveFindsEveryPathExtensionCombination(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "a"), filepath.Join(root, "b"), filepath.Join(root, "c")}
	extensions := []string{".wasm", ".wasm.zst", ".wasm.lz4", ".wasm.age"}

	for _, placed := range dirs {
		for _, extension := range extensions {
			t.Run(filepath.Base(placed)+extension, func(t *testing.T) {
				for _, dir := range dirs {
					os.RemoveAll(dir)
					os.MkdirAll(dir, 0755)
				}
				want := filepath.Join(placed, "helpers"+extension)
				writeFile(t, want, "module")

				resolver := New(loadFake, nil)
				for _, dir := range dirs {
					resolver.AddSearchPath(dir)
				}

				found, ok := resolver.Resolve(context.Background(), "helpers")
				if !ok {
					t.Fatalf("helpers not found at %s", want)
				}
				if found.path != want {
					t.Errorf("found %s, want %s", found.path, want)
				}
			})
		}
	}
}

func TestResolveMissesAbsentDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "other.wasm"), "module")
	writeFile(t, filepath.Join(root, "helpers.txt"), "module")
	writeFile(t, filepath.Join(root, "elsewhere", "helpers.wasm"), "module")

	resolver := New(loadFake, nil)
	resolver.AddSearchPath(root)

	if _, ok := resolver.Resolve(context.Background(), "helpers"); ok {
		t.Error("resolved a dependency that is not at any search path and extension")
	}
}

func TestResolveSkipsUnloadableCandidates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "first", "helpers.wasm"), "bad image")
	writeFile(t, filepath.Join(root, "first", "helpers.wasm.zst"), "module")
	writeFile(t, filepath.Join(root, "second", "helpers.wasm"), "module")

	resolver := New(loadFake, nil)
	resolver.AddSearchPath(filepath.Join(root, "first"))
	resolver.AddSearchPath(filepath.Join(root, "second"))

	found, ok := resolver.Resolve(context.Background(), "helpers")
	if !ok {
		t.Fatal("helpers not found")
	}
	if want := filepath.Join(root, "first", "helpers.wasm.zst"); found.path != want {
		t.Errorf("found %s, want %s (the bad candidate should be skipped)", found.path, want)
	}
}

func TestResolveCachesBySimpleAndFullName(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "helpers.wasm")
	writeFile(t, path, "module")

	loads := 0
	counting := func(ctx context.Context, path string) (*fakeModule, error) {
		loads++
		return loadFake(ctx, path)
	}
	resolver := New(counting, nil)
	resolver.AddSearchPath(root)

	first, ok := resolver.Resolve(context.Background(), "helpers")
	if !ok {
		t.Fatal("helpers not found")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"helpers", first.FullName(), "helpers, Digest=ffffffff"} {
		again, ok := resolver.Resolve(context.Background(), name)
		if !ok || again != first {
			t.Errorf("Resolve(%q) = %v, %v; want the cached dependency", name, again, ok)
		}
	}
	if loads != 1 {
		t.Errorf("loaded %d times, want 1", loads)
	}
}

func TestResolveRejectsPathNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "helpers.wasm"), "module")
	resolver := New(loadFake, nil)
	resolver.AddSearchPath(root)

	for _, name := range []string{"", "sub/helpers", "../helpers", " , Digest=00"} {
		if _, ok := resolver.Resolve(context.Background(), name); ok {
			t.Errorf("Resolve(%q) succeeded", name)
		}
	}
}

func TestProbingConfig(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "target.wasm.config")
	writeFile(t, configPath, `<?xml version="1.0"?>
<configuration>
  <runtime>
    <assemblyBinding xmlns="urn:schemas-microsoft-com:asm.v1">
      <probing privatePath="lib;plugins/crypto; ;"/>
    </assemblyBinding>
    <probing privatePath="extra"/>
  </runtime>
</configuration>`)

	got := ProbingPaths(configPath)
	want := []string{
		filepath.Join(root, "lib"),
		filepath.Join(root, "plugins", "crypto"),
		filepath.Join(root, "extra"),
	}
	if !slices.Equal(got, want) {
		t.Errorf("ProbingPaths = %v, want %v", got, want)
	}
}

func TestProbingConfigFailuresYieldNothing(t *testing.T) {
	root := t.TempDir()
	malformed := filepath.Join(root, "malformed.config")
	writeFile(t, malformed, `<configuration><probing privatePath="lib"/><unclosed>`)

	if got := ProbingPaths(malformed); got != nil {
		t.Errorf("malformed config yielded %v", got)
	}
	if got := ProbingPaths(filepath.Join(root, "absent.config")); got != nil {
		t.Errorf("missing config yielded %v", got)
	}
}

func TestAddModulePathFollowsConfig(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "app", "target.wasm")
	writeFile(t, target, "module")
	writeFile(t, target+ConfigSuffix, `<configuration><probing privatePath="deps"/></configuration>`)
	writeFile(t, filepath.Join(root, "app", "deps", "helpers.wasm.lz4"), "module")

	resolver := New(loadFake, nil)
	resolver.AddModulePath(target)

	want := []string{filepath.Join(root, "app"), filepath.Join(root, "app", "deps")}
	if got := resolver.SearchPaths(); !slices.Equal(got, want) {
		t.Errorf("SearchPaths = %v, want %v", got, want)
	}
	if _, ok := resolver.Resolve(context.Background(), "helpers"); !ok {
		t.Error("helpers in a probing directory was not found")
	}
}

func TestResolvedDependencyConfigExtendsSearch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "first.wasm"), "module")
	writeFile(t, filepath.Join(root, "first.wasm"+ConfigSuffix), `<configuration><probing privatePath="nested"/></configuration>`)
	writeFile(t, filepath.Join(root, "nested", "second.wasm"), "module")

	resolver := New(loadFake, nil)
	resolver.AddSearchPath(root)

	if _, ok := resolver.Resolve(context.Background(), "second"); ok {
		t.Fatal("second resolved before first's config was read")
	}
	if _, ok := resolver.Resolve(context.Background(), "first"); !ok {
		t.Fatal("first not found")
	}
	if _, ok := resolver.Resolve(context.Background(), "second"); !ok {
		t.Error("second not found through first's probing config")
	}
}
