package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pakr/internal/pakr"
)

// FakeCompiler records the files it is asked to compile. When a file's
// base name is listed in Fail, the call reports the compiler failure code.
// When OutputDir is set, each compiled source produces
// <Root>/<OutputDir>/<name>.pex like the real compiler.
type FakeCompiler struct {
	Fail      map[string]bool
	Root      string
	OutputDir string

	mu    sync.Mutex
	calls [][]string
}

var _ pakr.Compiler = (*FakeCompiler)(nil)

func (c *FakeCompiler) Compile(files []string) (*pakr.CompileResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &pakr.CompileResult{Success: true}
	if len(files) == 0 {
		return res, nil
	}
	c.calls = append(c.calls, append([]string(nil), files...))

	for _, f := range files {
		name := filepath.Base(f)
		if c.Fail[name] {
			res.Success = false
			res.ExitCode = 1
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%s(1,1): syntax error", name))
			continue
		}
		res.Compiled = append(res.Compiled, "compiled "+name)
		if c.OutputDir != "" {
			if err := c.writeOutput(f); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func (c *FakeCompiler) writeOutput(src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".pex"
	out := filepath.Join(c.Root, c.OutputDir, name)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte("PEX:"), data...), 0644)
}

// Calls returns the file lists of every non-empty Compile call.
func (c *FakeCompiler) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.calls...)
}

// Compiled returns the base names of every file compiled so far, sorted.
func (c *FakeCompiler) Compiled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, call := range c.calls {
		for _, f := range call {
			names = append(names, filepath.Base(f))
		}
	}
	sort.Strings(names)
	return names
}

// FakePacker writes both outputs of a group, with content derived from the
// group's source files, like the real packer. Groups listed in Fail report
// PackFailed, groups in NoOutput report PackNoOutput. Safe for concurrent
// use.
type FakePacker struct {
	Assets   pakr.AssetSettings
	Fail     map[string]bool
	NoOutput map[string]bool

	mu     sync.Mutex
	packed []string
}

var _ pakr.Packer = (*FakePacker)(nil)

func (p *FakePacker) Pack(root, dest, source string) (*pakr.PackResult, error) {
	group := filepath.Base(source)
	p.mu.Lock()
	p.packed = append(p.packed, group)
	p.mu.Unlock()

	switch {
	case p.Fail[group]:
		return &pakr.PackResult{Status: pakr.PackFailed, ExitCode: 1, Output: []string{"bad texture in " + group}}, nil
	case p.NoOutput[group]:
		return &pakr.PackResult{Status: pakr.PackNoOutput, ExitCode: 2}, nil
	}

	var content strings.Builder
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(source, e.Name()))
		if err != nil {
			continue
		}
		fmt.Fprintf(&content, "%s:%s\n", e.Name(), data)
	}

	preview := filepath.Join(root, p.Assets.PreviewDir, group+p.Assets.PreviewExt)
	for _, out := range []string{filepath.Join(root, dest), preview} {
		if err := os.WriteFile(out, []byte(content.String()), 0644); err != nil {
			return nil, err
		}
	}
	return &pakr.PackResult{Status: pakr.PackOK, Output: []string{"packed " + group}}, nil
}

// Packed returns the groups the packer was invoked for, sorted.
func (p *FakePacker) Packed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedCopy(p.packed)
}

// Reset forgets recorded invocations.
func (p *FakePacker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packed = nil
}

// StubVCS answers version-control questions from fixed values.
type StubVCS struct {
	Unavailable error
	Ref         string
	Changed     []string
	Err         error
}

var _ pakr.VersionControl = (*StubVCS)(nil)

func (v *StubVCS) Available() error { return v.Unavailable }

func (v *StubVCS) CurrentRef(dir string) (string, error) {
	return v.Ref, v.Err
}

func (v *StubVCS) ChangedFiles(dir, from, to string) ([]string, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	return append([]string(nil), v.Changed...), nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
