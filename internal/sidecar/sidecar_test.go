package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBinary(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func TestResolveNextToExecutable(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, exeName("locus-backend"))
	writeBinary(t, want, 0o755)

	got, err := Resolve("locus-backend", ResolveOptions{ExecutableDir: dir})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolvePlatformSuffixedName(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, exeName(fmt.Sprintf("locus-backend-%s-%s", runtime.GOOS, runtime.GOARCH)))
	writeBinary(t, want, 0o755)

	got, err := Resolve("locus-backend", ResolveOptions{ExecutableDir: dir})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "custom-backend")
	writeBinary(t, override, 0o755)

	got, err := Resolve("locus-backend", ResolveOptions{Override: override, ExecutableDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, override, got)

	_, err = Resolve("locus-backend", ResolveOptions{Override: filepath.Join(dir, "nope")})
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve("locus-backend", ResolveOptions{ExecutableDir: t.TempDir()})
	require.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Contains(t, err.Error(), "locus-backend")

	_, err = Resolve("", ResolveOptions{})
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestResolveNotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no exec bit on windows")
	}
	dir := t.TempDir()
	writeBinary(t, filepath.Join(dir, "locus-backend"), 0o644)

	_, err := Resolve("locus-backend", ResolveOptions{ExecutableDir: dir})
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestResolveDirectoryIsNotExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, exeName("locus-backend")), 0o755))

	_, err := Resolve("locus-backend", ResolveOptions{ExecutableDir: dir})
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestFactoryCommandCopiesInputs(t *testing.T) {
	dir := t.TempDir()
	writeBinary(t, filepath.Join(dir, exeName("locus-backend")), 0o755)

	f := &Factory{
		Name:    "locus-backend",
		Resolve: ResolveOptions{ExecutableDir: dir},
		Args:    []string{"--port", "8000"},
		Env:     map[string]string{"LOCUS_INSTANCE_ID": "x"},
	}
	cmd, err := f.Command()
	require.NoError(t, err)

	cmd.Args[0] = "mutated"
	cmd.Env["LOCUS_INSTANCE_ID"] = "y"
	assert.Equal(t, "--port", f.Args[0])
	assert.Equal(t, "x", f.Env["LOCUS_INSTANCE_ID"])
}
