package sgxbuild

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Names of the probe variables the pipeline reads.
const (
	KeyEdger8r   = "SGX_EDGER8R"
	KeyAppCFlags = "App_C_Flags"
	KeySGXMode   = "SGX_MODE"
)

const (
	probeDirPrefix   = "_sgxbuild_probe-"
	probeMakefile    = "Makefile"
	frameworkRootVar = "SGXBUILD_FRAMEWORK_SDK"
)

// ProbeMakefile pulls in the framework's buildenv.mk, derives the few
// variables the SDK sample makefiles normally compute, then prints every
// variable make knows about as "name = value".
const ProbeMakefile = `include $(SGXBUILD_FRAMEWORK_SDK)/buildenv.mk

ifeq ($(shell getconf LONG_BIT), 32)
  SGX_ARCH := x86
else ifeq ($(findstring -m32, $(CXXFLAGS)), -m32)
  SGX_ARCH := x86
endif

ifeq ($(SGX_ARCH), x86)
  SGX_COMMON_CFLAGS := -m32
  SGX_LIBRARY_PATH := $(SGX_SDK)/lib
  SGX_BIN_PATH := $(SGX_SDK)/bin/x86
else
  SGX_COMMON_CFLAGS := -m64
  SGX_LIBRARY_PATH := $(SGX_SDK)/lib64
  SGX_BIN_PATH := $(SGX_SDK)/bin/x64
endif

ifeq ($(SGX_DEBUG), 1)
  SGX_COMMON_CFLAGS += -O0 -g
else
  SGX_COMMON_CFLAGS += -O2
endif

SGX_EDGER8R := $(SGX_BIN_PATH)/sgx_edger8r
ifneq ($(SGX_MODE), HYPER)
  SGX_ENCLAVE_SIGNER := $(SGX_BIN_PATH)/sgx_sign
else
  SGX_ENCLAVE_SIGNER := $(SGX_BIN_PATH)/sgx_sign_hyper
  SGX_EDGER8R_MODE := --sgx-mode $(SGX_MODE)
endif

FRAMEWORK_EDL_PATH := $(SGXBUILD_FRAMEWORK_SDK)/sgx_edl/edl
FRAMEWORK_COMMON_PATH := $(SGXBUILD_FRAMEWORK_SDK)/common

App_Include_Paths := -I$(SGX_SDK)/include -I$(FRAMEWORK_COMMON_PATH)/inc -I$(FRAMEWORK_EDL_PATH)
App_C_Flags := $(CFLAGS) $(SGX_COMMON_CFLAGS) -fPIC -Wno-attributes $(App_Include_Paths)

all:
	@$(foreach v, $(.VARIABLES), $(info $(v) = $($(v))))
	@echo ""
`

var flagLine = regexp.MustCompile(`^(\S+) = (.*)$`)

// ToolchainFlags is the variable dump of one probe run. Read-only once built.
type ToolchainFlags map[string]string

// ParseFlags turns probe output into flags. Lines that are not
// "<key> = <value>" or that have an empty value are dropped.
func ParseFlags(out string) (ToolchainFlags, error) {
	flags := make(ToolchainFlags)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSuffix(line, "\r")
		m := flagLine.FindStringSubmatch(line)
		if m == nil || m[1] == "" || m[2] == "" {
			continue
		}
		flags[m[1]] = m[2]
	}
	if len(flags) == 0 {
		return nil, fmt.Errorf("%w: probe output has no variable lines", ErrParse)
	}
	return flags, nil
}

// Lookup returns a required variable.
func (f ToolchainFlags) Lookup(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("%w: %s not defined by the SDK build environment", ErrLookup, key)
	}
	return v, nil
}

// Edger8r is the interface compiler binary.
func (f ToolchainFlags) Edger8r() (string, error) { return f.Lookup(KeyEdger8r) }

// AppCFlags is the compiler flag string for host-side code.
func (f ToolchainFlags) AppCFlags() (string, error) { return f.Lookup(KeyAppCFlags) }

// SGXMode is the mode string the build environment settled on (HW, SIM, HYPER...).
func (f ToolchainFlags) SGXMode() (string, error) { return f.Lookup(KeySGXMode) }

// Keys returns the variable names in sorted order.
func (f ToolchainFlags) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProbeInput is everything the probe result depends on.
type ProbeInput struct {
	FrameworkSDK string
	PlatformSDK  string
	Mode         Mode
	Arch         Arch
}

// env is the environment handed to make, on top of our own.
func (in ProbeInput) env() []string {
	return []string{
		frameworkRootVar + "=" + in.FrameworkSDK,
		"SGX_SDK=" + in.PlatformSDK,
		"SGX_MODE=" + in.Mode.SGXMode(),
		"SGX_DEBUG=" + in.Mode.SGXDebug(),
		"SGX_ARCH=" + in.Arch.SGXArch(),
	}
}

// Prober recovers toolchain flags by letting make evaluate the SDK's own
// build environment instead of duplicating its logic.
type Prober struct {
	Runner      Runner
	Make        string
	ScratchRoot string
	Cache       *ProbeCache // nil disables caching
	Environ     []string    // base environment for make, nil means os.Environ()
}

// makeEnv is the complete environment make runs with: the base environment
// followed by the SDK roots and mode selectors, which take precedence.
func (p *Prober) makeEnv(in ProbeInput) []string {
	base := p.Environ
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+5)
	env = append(env, base...)
	return append(env, in.env()...)
}

// Extract runs the probe, or answers from the cache when enabled.
func (p *Prober) Extract(in ProbeInput) (ToolchainFlags, error) {
	env := p.makeEnv(in)

	var cacheKey string
	if p.Cache != nil {
		key, err := p.Cache.Key(in, env)
		if err != nil {
			debugf("Probe cache disabled for this run: %v\n", err)
		} else {
			cacheKey = key
			if flags, ok := p.Cache.Get(key); ok {
				debugf("Probe cache hit %s\n", key)
				return flags, nil
			}
		}
	}

	out, err := p.run(env)
	if err != nil {
		return nil, err
	}
	flags, err := ParseFlags(out)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := p.Cache.Put(cacheKey, flags); err != nil {
			debugf("Warning: failed to store probe result: %v\n", err)
		}
	}
	return flags, nil
}

func (p *Prober) run(env []string) (string, error) {
	// 1. scratch dir unique to this invocation, left for the host to clean
	dir := filepath.Join(p.ScratchRoot, probeDirPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating probe dir: %v", ErrExternalTool, err)
	}

	// 2. probe makefile
	if err := os.WriteFile(filepath.Join(dir, probeMakefile), []byte(ProbeMakefile), 0o644); err != nil {
		return "", fmt.Errorf("%w: writing probe makefile: %v", ErrExternalTool, err)
	}

	// 3. make with the SDK roots and mode selectors
	makeBin := p.Make
	if makeBin == "" {
		makeBin = "make"
	}
	var stdout bytes.Buffer
	cmd := exec.Command(makeBin, "--no-print-directory")
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = &stdout
	debugf("Probing SDK build environment in %s\n", dir)
	if err := p.Runner.Run(cmd); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExternalTool, makeBin, err)
	}

	// 4. captured stdout must be text
	if !utf8.Valid(stdout.Bytes()) {
		return "", fmt.Errorf("%w: make output is not valid UTF-8", ErrParse)
	}
	return stdout.String(), nil
}
