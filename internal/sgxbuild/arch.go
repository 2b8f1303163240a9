package sgxbuild

import (
	"fmt"
	"os"
	"runtime"
)

// Arch is the enclave target architecture.
type Arch int

const (
	ArchX86 Arch = iota
	ArchX86_64
)

func (a Arch) String() string {
	if a == ArchX86 {
		return "x86"
	}
	return "x86_64"
}

// SGXArch is the value the SDK makefiles expect in SGX_ARCH.
func (a Arch) SGXArch() string {
	if a == ArchX86 {
		return "x86"
	}
	return "x64"
}

// ParseArch accepts both target-triple style and GOARCH style names.
func ParseArch(name string) (Arch, error) {
	switch name {
	case "x86", "386", "i386", "i686":
		return ArchX86, nil
	case "x86_64", "amd64":
		return ArchX86_64, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedArch, name)
}

// BuildEnv is the process environment the host build system hands us.
// It is read once at start and passed down; nothing else consults os.Getenv.
type BuildEnv struct {
	Profile string
	OutDir  string
	Arch    Arch
}

// LoadBuildEnv reads PROFILE, OUT_DIR and TARGET_ARCH.
// TARGET_ARCH falls back to the host architecture when unset.
func LoadBuildEnv(getenv func(string) string) (BuildEnv, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var env BuildEnv

	env.Profile = getenv("PROFILE")
	if env.Profile == "" {
		return env, fmt.Errorf("%w: PROFILE is not set", ErrMissingConfiguration)
	}

	outDir := getenv("OUT_DIR")
	if outDir == "" {
		return env, fmt.Errorf("%w: OUT_DIR is not set", ErrMissingConfiguration)
	}
	resolved, err := Canonicalize(outDir, ".")
	if err != nil {
		return env, err
	}
	env.OutDir = resolved

	archName := getenv("TARGET_ARCH")
	if archName == "" {
		archName = runtime.GOARCH
	}
	env.Arch, err = ParseArch(archName)
	if err != nil {
		return env, err
	}
	return env, nil
}
