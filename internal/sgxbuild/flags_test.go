package sgxbuild

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	out := strings.Join([]string{
		"FOO = bar baz",
		"EQUALS = a = b",
		"CRLF = windows\r",
		"no separator here",
		"EMPTY = ",
		" = orphan value",
		"",
	}, "\n")

	flags, err := ParseFlags(out)
	require.NoError(t, err)
	require.Equal(t, ToolchainFlags{
		"FOO":    "bar baz",
		"EQUALS": "a = b",
		"CRLF":   "windows",
	}, flags)
}

func TestParseFlagsSkipsContinuationLines(t *testing.T) {
	// Multi-line values (exported shell functions) spill their body onto
	// following lines of the dump.
	out := strings.Join([]string{
		"BASH_FUNC_setup%% = () {  local x = 1;",
		"    x = 1",
		"  y = 2",
		"}",
		"SGX_MODE = SIM",
	}, "\n")

	flags, err := ParseFlags(out)
	require.NoError(t, err)
	require.Equal(t, ToolchainFlags{
		"BASH_FUNC_setup%%": "() {  local x = 1;",
		"SGX_MODE":          "SIM",
	}, flags)
}

func TestParseFlagsNothingUsable(t *testing.T) {
	for _, out := range []string{"", "\n\n", "make: Nothing to be done for 'all'.\nEMPTY = \n"} {
		_, err := ParseFlags(out)
		require.ErrorIs(t, err, ErrParse)
	}
}

func TestToolchainFlagsLookup(t *testing.T) {
	flags := ToolchainFlags{
		KeyEdger8r:   "/opt/intel/sgxsdk/bin/x64/sgx_edger8r",
		KeyAppCFlags: "-m64 -O2",
		KeySGXMode:   "HW",
	}

	bin, err := flags.Edger8r()
	require.NoError(t, err)
	assert.Equal(t, "/opt/intel/sgxsdk/bin/x64/sgx_edger8r", bin)

	cflags, err := flags.AppCFlags()
	require.NoError(t, err)
	assert.Equal(t, "-m64 -O2", cflags)

	mode, err := flags.SGXMode()
	require.NoError(t, err)
	assert.Equal(t, "HW", mode)

	_, err = flags.Lookup("SGX_SIGNER")
	require.ErrorIs(t, err, ErrLookup)
	require.Contains(t, err.Error(), "SGX_SIGNER")

	assert.Equal(t, []string{KeyAppCFlags, KeyEdger8r, KeySGXMode}, flags.Keys())
}

func TestProbeMakefileShape(t *testing.T) {
	require.True(t, strings.HasPrefix(ProbeMakefile, "include $(SGXBUILD_FRAMEWORK_SDK)/buildenv.mk\n"))
	require.Contains(t, ProbeMakefile, "FRAMEWORK_EDL_PATH := $(SGXBUILD_FRAMEWORK_SDK)/sgx_edl/edl")
	require.Contains(t, ProbeMakefile, "App_C_Flags :=")
	require.Contains(t, ProbeMakefile, "\t@$(foreach v, $(.VARIABLES), $(info $(v) = $($(v))))\n")
}

func TestProberExtract(t *testing.T) {
	f := newSDKFixture(t)
	runner := &fakeRunner{handle: func(cmd *exec.Cmd) error {
		_, err := cmd.Stdout.Write([]byte(f.makeOutput("SIM")))
		return err
	}}
	prober := &Prober{Runner: runner, Make: "gmake", ScratchRoot: f.outDir}

	flags, err := prober.Extract(ProbeInput{
		FrameworkSDK: f.framework,
		PlatformSDK:  f.platform,
		Mode:         Mode{Hardware: true, Debug: false},
		Arch:         ArchX86_64,
	})
	require.NoError(t, err)
	require.Equal(t, "SIM", flags[KeySGXMode])
	require.Equal(t, "all", flags[".DEFAULT_GOAL"])
	require.NotContains(t, flags, "EMPTY_VAR")

	require.Len(t, runner.calls, 1)
	cmd := runner.calls[0]
	require.Equal(t, []string{"gmake", "--no-print-directory"}, cmd.Args)
	require.Equal(t, f.outDir, filepath.Dir(cmd.Dir))
	require.True(t, strings.HasPrefix(filepath.Base(cmd.Dir), "_sgxbuild_probe-"))

	makefile, err := os.ReadFile(filepath.Join(cmd.Dir, "Makefile"))
	require.NoError(t, err)
	require.Equal(t, ProbeMakefile, string(makefile))

	require.Subset(t, cmd.Env, []string{
		"SGXBUILD_FRAMEWORK_SDK=" + f.framework,
		"SGX_SDK=" + f.platform,
		"SGX_MODE=HW",
		"SGX_DEBUG=0",
		"SGX_ARCH=x64",
	})
}

func TestProberUsesFreshScratchDirs(t *testing.T) {
	f := newSDKFixture(t)
	runner := &fakeRunner{handle: func(cmd *exec.Cmd) error {
		_, err := cmd.Stdout.Write([]byte("A = 1\n"))
		return err
	}}
	prober := &Prober{Runner: runner, ScratchRoot: f.outDir}
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform}

	_, err := prober.Extract(in)
	require.NoError(t, err)
	_, err = prober.Extract(in)
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	require.Equal(t, "make", runner.calls[0].Args[0])
	require.NotEqual(t, runner.calls[0].Dir, runner.calls[1].Dir)
}

func TestProberFailures(t *testing.T) {
	f := newSDKFixture(t)
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform}

	failing := &fakeRunner{handle: func(*exec.Cmd) error { return errors.New("exit status 2") }}
	_, err := (&Prober{Runner: failing, ScratchRoot: f.outDir}).Extract(in)
	require.ErrorIs(t, err, ErrExternalTool)

	binary := &fakeRunner{handle: func(cmd *exec.Cmd) error {
		_, err := cmd.Stdout.Write([]byte{'A', ' ', '=', ' ', 0xff, 0xfe})
		return err
	}}
	_, err = (&Prober{Runner: binary, ScratchRoot: f.outDir}).Extract(in)
	require.ErrorIs(t, err, ErrParse)

	silent := &fakeRunner{}
	_, err = (&Prober{Runner: silent, ScratchRoot: f.outDir}).Extract(in)
	require.ErrorIs(t, err, ErrParse)

	blocked := filepath.Join(f.root, "file-not-dir")
	writeFile(t, blocked, "")
	_, err = (&Prober{Runner: silent, ScratchRoot: blocked}).Extract(in)
	require.ErrorIs(t, err, ErrExternalTool)
}
