package toolchain

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"pakr/internal/pakr"
)

// Defaults applied when the configuration leaves a value at zero.
const (
	DefaultMaxCommandLength = 8191
	DefaultFailureExitCode  = 1
)

// Compiler invokes the script compiler once per build for all changed
// scripts.
type Compiler struct {
	program          string
	args             []string
	failureExitCode  int
	maxCommandLength int
	dir              string
	logger           pakr.Logger
}

// Compile-time check that Compiler implements pakr.Compiler.
var _ pakr.Compiler = (*Compiler)(nil)

// NewCompiler creates a compiler gateway running in dir.
func NewCompiler(s pakr.ScriptSettings, dir string, logger pakr.Logger) *Compiler {
	c := &Compiler{
		program:          s.Compiler,
		args:             append([]string(nil), s.Args...),
		failureExitCode:  s.FailureExitCode,
		maxCommandLength: s.MaxCommandLength,
		dir:              dir,
		logger:           logger,
	}
	if c.failureExitCode == 0 {
		c.failureExitCode = DefaultFailureExitCode
	}
	if c.maxCommandLength <= 0 {
		c.maxCommandLength = DefaultMaxCommandLength
	}
	if c.logger == nil {
		c.logger = pakr.NewNopLogger()
	}
	return c
}

// Compile runs the compiler over files in a single process. When the
// command line would be too long the paths are handed over in a list file
// passed with -f.
func (c *Compiler) Compile(files []string) (*pakr.CompileResult, error) {
	if len(files) == 0 {
		return &pakr.CompileResult{Success: true}, nil
	}
	if c.program == "" {
		return nil, fmt.Errorf("no script compiler configured")
	}

	args := append([]string(nil), c.args...)
	usedListFile := false
	if n := CommandLength(c.program, c.args, files); n > c.maxCommandLength {
		listFile, err := writeListFile(files)
		if err != nil {
			return nil, err
		}
		defer os.Remove(listFile)
		c.logger.Debug("compiler command line too long, using list file", "length", n, "list_file", listFile)
		args = append(args, "-f", listFile)
		usedListFile = true
	} else {
		args = append(args, files...)
	}

	c.logger.Debug("running script compiler", "program", c.program, "files", len(files))
	res, err := runProcess(c.dir, c.program, args...)
	if err != nil {
		return nil, err
	}

	return &pakr.CompileResult{
		Success:      res.ExitCode != c.failureExitCode,
		ExitCode:     res.ExitCode,
		Compiled:     res.Stdout,
		Diagnostics:  res.Stderr,
		UsedListFile: usedListFile,
	}, nil
}

// CommandLength returns the length of the command line program args "f1" "f2"...
func CommandLength(program string, args, files []string) int {
	parts := make([]string, 0, 1+len(args)+len(files))
	parts = append(parts, program)
	parts = append(parts, args...)
	for _, f := range files {
		parts = append(parts, strconv.Quote(f))
	}
	return len(strings.Join(parts, " "))
}

// writeListFile writes one path per line to a temp file and returns its path.
func writeListFile(files []string) (string, error) {
	f, err := os.CreateTemp("", "pakr-compile-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating compiler list file: %w", err)
	}
	if _, err := f.WriteString(strings.Join(files, "\n") + "\n"); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing compiler list file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing compiler list file: %w", err)
	}
	return f.Name(), nil
}
