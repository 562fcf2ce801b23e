// Package sidecar resolves and spawns the backend executable that ships
// next to the desktop shell.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrBinaryNotFound = errors.New("sidecar binary not found")
	ErrNotExecutable  = errors.New("sidecar binary is not executable")
)

// Command is a fully resolved sidecar invocation.
type Command struct {
	Name string
	Path string
	Args []string
	Env  map[string]string
	Dir  string

	// EventBuffer sizes the child's event channel. Zero means DefaultEventBuffer.
	EventBuffer int
}

// ResolveOptions control where Resolve looks for the binary.
type ResolveOptions struct {
	// Override is an explicit path. When set nothing else is tried.
	Override string
	// ExecutableDir replaces the directory of the running executable.
	ExecutableDir string
	// SearchPath falls back to $PATH.
	SearchPath bool
}

// Resolve finds the sidecar binary. It looks next to the running
// executable, first under the plain name and then under the
// platform-suffixed bundle name (locus-backend-linux-amd64).
func Resolve(name string, opts ResolveOptions) (string, error) {
	if name == "" && opts.Override == "" {
		return "", fmt.Errorf("%w: empty name", ErrBinaryNotFound)
	}

	if opts.Override != "" {
		if err := checkExecutable(opts.Override); err != nil {
			return "", err
		}
		return opts.Override, nil
	}

	dir := opts.ExecutableDir
	if dir == "" {
		d, err := executableDir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
		}
		dir = d
	}

	var tried []string
	for _, candidate := range candidates(dir, name) {
		tried = append(tried, candidate)
		err := checkExecutable(candidate)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, ErrNotExecutable) {
			return "", err
		}
	}

	if opts.SearchPath {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
		tried = append(tried, "$PATH")
	}

	return "", fmt.Errorf("%w: %s (tried %s)", ErrBinaryNotFound, name, strings.Join(tried, ", "))
}

func candidates(dir, name string) []string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	return []string{
		filepath.Join(dir, name+ext),
		filepath.Join(dir, fmt.Sprintf("%s-%s-%s%s", name, runtime.GOOS, runtime.GOARCH, ext)),
	}
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNotExecutable, path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}
	return nil
}

// Factory builds and spawns one kind of sidecar. The launcher uses the two
// steps separately so it can tell construction failures from spawn failures.
type Factory struct {
	Name    string
	Resolve ResolveOptions
	Args    []string
	Env     map[string]string
	Dir     string
}

// Command resolves the binary and returns the invocation.
func (f *Factory) Command() (*Command, error) {
	path, err := Resolve(f.Name, f.Resolve)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(f.Env))
	for k, v := range f.Env {
		env[k] = v
	}

	return &Command{
		Name: f.Name,
		Path: path,
		Args: append([]string(nil), f.Args...),
		Env:  env,
		Dir:  f.Dir,
	}, nil
}

func (f *Factory) Spawn(ctx context.Context, cmd *Command) (*Child, error) {
	return Spawn(ctx, cmd)
}

// Start is Command followed by Spawn.
func (f *Factory) Start(ctx context.Context) (*Child, error) {
	cmd, err := f.Command()
	if err != nil {
		return nil, err
	}
	return Spawn(ctx, cmd)
}

// Path resolves the binary without building a command. Used to watch it.
func (f *Factory) Path() (string, error) {
	return Resolve(f.Name, f.Resolve)
}

func envList(env map[string]string) []string {
	out := os.Environ()
	if len(env) == 0 {
		return out
	}
	extra := make([]string, 0, len(env))
	for k, v := range env {
		extra = append(extra, k+"="+v)
	}
	sort.Strings(extra)
	return append(out, extra...)
}
