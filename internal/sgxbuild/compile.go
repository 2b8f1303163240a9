package sgxbuild

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Toolset names the native compiler and archiver.
type Toolset struct {
	CC string
	AR string
}

// SplitFlags splits a make-style flag string on whitespace, dropping empties.
func SplitFlags(s string) []string {
	return strings.Fields(s)
}

// CompileUnit is a set of C sources compiled into one static archive.
type CompileUnit struct {
	Name     string // archive is lib<Name>.a
	Flags    []string
	Includes []string
	Sources  []string
	OutDir   string
}

// ArchivePath is where Compile leaves the static library.
func (u *CompileUnit) ArchivePath() string {
	return filepath.Join(u.OutDir, "lib"+u.Name+".a")
}

func (u *CompileUnit) objectPath(src string) string {
	base := filepath.Base(src)
	return filepath.Join(u.OutDir, strings.TrimSuffix(base, filepath.Ext(base))+".o")
}

// CompileArgs is the compiler command line for one source file.
func (u *CompileUnit) CompileArgs(src string) []string {
	args := make([]string, 0, len(u.Flags)+2*len(u.Includes)+4)
	args = append(args, u.Flags...)
	for _, inc := range u.Includes {
		args = append(args, "-I", inc)
	}
	return append(args, "-c", src, "-o", u.objectPath(src))
}

// Compile builds every source into an object, then archives them.
func (u *CompileUnit) Compile(r Runner, tools Toolset) (string, error) {
	if len(u.Sources) == 0 {
		return "", fmt.Errorf("%w: compile unit %s has no sources", ErrMissingConfiguration, u.Name)
	}

	objects := make([]string, 0, len(u.Sources))
	for _, src := range u.Sources {
		cmd := exec.Command(tools.CC, u.CompileArgs(src)...)
		cmd.Dir = u.OutDir
		debugf("Compiling %s\n", src)
		if err := r.Run(cmd); err != nil {
			return "", fmt.Errorf("%w: %s %s: %v", ErrExternalTool, tools.CC, filepath.Base(src), err)
		}
		objects = append(objects, u.objectPath(src))
	}

	archive := u.ArchivePath()
	arArgs := append([]string{"crs", archive}, objects...)
	cmd := exec.Command(tools.AR, arArgs...)
	cmd.Dir = u.OutDir
	if err := r.Run(cmd); err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrExternalTool, tools.AR, filepath.Base(archive), err)
	}
	return archive, nil
}
