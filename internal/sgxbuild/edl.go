package sgxbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// EDLOutputDir is where generated stubs land, relative to OUT_DIR.
const EDLOutputDir = "_sgxbuild_edl_output"

// Role selects which side of the enclave boundary edger8r generates.
type Role int

const (
	Untrusted Role = iota
	Trusted
)

func (r Role) String() string {
	if r == Trusted {
		return "trusted"
	}
	return "untrusted"
}

// Edger8rCommand is one sgx_edger8r invocation.
type Edger8rCommand struct {
	Bin    string
	EDL    EDL
	Role   Role
	OutDir string
}

// Args builds the edger8r argument list. Search paths are passed in the
// order they appear in EDL.SearchPaths.
func (c Edger8rCommand) Args() []string {
	args := make([]string, 0, 2*len(c.EDL.SearchPaths)+4)
	for _, sp := range c.EDL.SearchPaths {
		args = append(args, "--search-path", sp)
	}

	role := c.Role.String()
	args = append(args,
		"--"+role, c.EDL.Path,
		"--"+role+"-dir", c.OutDir,
	)
	return args
}

// GeneratedSource is the stub source edger8r writes for this role.
func (c Edger8rCommand) GeneratedSource() string {
	if c.Role == Trusted {
		return filepath.Join(c.OutDir, c.EDL.TrustedSource())
	}
	return filepath.Join(c.OutDir, c.EDL.UntrustedSource())
}

// GeneratedHeader is the stub header edger8r writes for this role.
func (c Edger8rCommand) GeneratedHeader() string {
	if c.Role == Trusted {
		return filepath.Join(c.OutDir, c.EDL.TrustedHeader())
	}
	return filepath.Join(c.OutDir, c.EDL.UntrustedHeader())
}

// Run generates the stubs. Failure to launch or a non-zero exit is fatal.
func (c Edger8rCommand) Run(r Runner) error {
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating edl output dir: %v", ErrExternalTool, err)
	}
	cmd := exec.Command(c.Bin, c.Args()...)
	debugf("Running %s %v\n", c.Bin, cmd.Args[1:])
	if err := r.Run(cmd); err != nil {
		return fmt.Errorf("%w: sgx_edger8r (%s): %v", ErrExternalTool, c.Role, err)
	}
	return nil
}
