package pakr

// CompileResult is the outcome of one script compiler invocation.
type CompileResult struct {
	// Success is false only when the compiler exited with its failure code.
	Success  bool
	ExitCode int
	// Compiled holds the compiler's standard output, one line per file.
	Compiled []string
	// Diagnostics holds the compiler's standard error lines.
	Diagnostics []string
	// UsedListFile is set when the file list was passed through a list file.
	UsedListFile bool
}

// Compiler runs the external script compiler.
type Compiler interface {
	// Compile compiles the given absolute source paths in a single process
	// call. An empty list succeeds without starting a process.
	Compile(files []string) (*CompileResult, error)
}

// PackStatus classifies an asset packer exit.
type PackStatus int

const (
	// PackOK means the packer produced its outputs.
	PackOK PackStatus = iota
	// PackNoOutput means the packer exited non-zero without signalling an
	// error; nothing was produced but the group is not failed.
	PackNoOutput
	// PackFailed means the packer signalled an error.
	PackFailed
)

func (s PackStatus) String() string {
	switch s {
	case PackOK:
		return "ok"
	case PackNoOutput:
		return "no-output"
	case PackFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PackResult is the outcome of one asset packer invocation.
type PackResult struct {
	Status   PackStatus
	ExitCode int
	Output   []string
}

// Packer runs the external asset packer for one derived-asset group.
type Packer interface {
	// Pack packs the source folder into dest. root is the project root and
	// dest is relative to it.
	Pack(root, dest, source string) (*PackResult, error)
}

// VersionControl answers questions about the project's repository.
type VersionControl interface {
	// Available returns an error when the version-control tool cannot be used.
	Available() error

	// CurrentRef returns the name of the checked-out reference in dir.
	CurrentRef(dir string) (string, error)

	// ChangedFiles lists files that differ between from and to, as
	// normalized paths relative to dir. Files outside dir are omitted.
	ChangedFiles(dir, from, to string) ([]string, error)
}
