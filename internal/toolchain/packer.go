package toolchain

import (
	"fmt"

	"pakr/internal/pakr"
)

// Packer invokes the asset packer for one derived-asset group. It holds no
// mutable state and may be called from several goroutines at once.
type Packer struct {
	program         string
	failureExitCode int
}

// Compile-time check that Packer implements pakr.Packer.
var _ pakr.Packer = (*Packer)(nil)

// NewPacker creates a packer gateway.
func NewPacker(s pakr.AssetSettings) *Packer {
	p := &Packer{
		program:         s.Packer,
		failureExitCode: s.FailureExitCode,
	}
	if p.failureExitCode == 0 {
		p.failureExitCode = DefaultFailureExitCode
	}
	return p
}

// Pack runs `<packer> pack <root> <dest> <source>` in root.
func (p *Packer) Pack(root, dest, source string) (*pakr.PackResult, error) {
	if p.program == "" {
		return nil, fmt.Errorf("no asset packer configured")
	}

	res, err := runProcess(root, p.program, "pack", root, dest, source)
	if err != nil {
		return nil, err
	}

	out := append(append([]string(nil), res.Stdout...), res.Stderr...)
	status := pakr.PackNoOutput
	switch res.ExitCode {
	case 0:
		status = pakr.PackOK
	case p.failureExitCode:
		status = pakr.PackFailed
	}
	return &pakr.PackResult{Status: status, ExitCode: res.ExitCode, Output: out}, nil
}
