// Package toolchain runs the external script compiler and asset packer.
package toolchain

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// processResult is the captured outcome of one external process.
type processResult struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
}

// runProcess runs program to completion in dir. A non-zero exit is reported
// through ExitCode; an error means the process could not be run at all.
func runProcess(dir, program string, args ...string) (*processResult, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s: %w", program, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &processResult{
		ExitCode: exitCode,
		Stdout:   splitLines(stdout.String()),
		Stderr:   splitLines(stderr.String()),
	}, nil
}

// splitLines splits process output into non-empty lines.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
