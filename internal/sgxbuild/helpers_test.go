package sgxbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRunner records commands and lets a test script their behavior.
type fakeRunner struct {
	calls  []*exec.Cmd
	handle func(cmd *exec.Cmd) error
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error {
	f.calls = append(f.calls, cmd)
	if f.handle != nil {
		return f.handle(cmd)
	}
	return nil
}

// programs returns the program name of every recorded call.
func (f *fakeRunner) programs() []string {
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Args[0])
	}
	return names
}

// sdkFixture is an on-disk layout good enough to resolve a configuration.
type sdkFixture struct {
	root      string
	platform  string
	framework string
	pkgDir    string
	edlFile   string
	outDir    string
}

func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newSDKFixture(t *testing.T) *sdkFixture {
	t.Helper()
	root := canonicalTempDir(t)
	f := &sdkFixture{
		root:      root,
		platform:  filepath.Join(root, "sgxsdk"),
		framework: filepath.Join(root, "framework"),
		pkgDir:    filepath.Join(root, "app"),
		outDir:    filepath.Join(root, "out"),
	}
	mkdirs(t,
		filepath.Join(f.platform, "lib64"),
		filepath.Join(f.platform, "lib"),
		filepath.Join(f.framework, "common", "inc"),
		filepath.Join(f.framework, "sgx_edl", "edl"),
		filepath.Join(f.pkgDir, "edl"),
		f.outDir,
	)
	writeFile(t, filepath.Join(f.framework, "buildenv.mk"), "CFLAGS += -Wall\n")
	f.edlFile = filepath.Join(f.pkgDir, "enclave", "service.edl")
	writeFile(t, f.edlFile, "enclave { };\n")
	return f
}

// packageBlock declares everything from the package directory with relative paths.
func (f *sdkFixture) packageBlock() Block {
	raw := fmt.Sprintf(`{
		"platform_sdk": {"path": %q},
		"framework_sdk": {"path": "../framework"},
		"edl": {"path": "enclave/service.edl", "search_paths": ["edl"]}
	}`, f.platform)
	return Block{Raw: []byte(raw), Origin: f.pkgDir}
}

// makeOutput is captured output of the probe makefile for this fixture.
func (f *sdkFixture) makeOutput(sgxMode string) string {
	lines := []string{
		"MAKEFILE_LIST =  Makefile " + f.framework + "/buildenv.mk",
		"SGX_SDK = " + f.platform,
		"SGX_MODE = " + sgxMode,
		"SGX_DEBUG = 1",
		"SGX_EDGER8R = " + f.platform + "/bin/x64/sgx_edger8r",
		"App_C_Flags = -Wall  -m64 -O0 -g -fPIC -Wno-attributes -I" + f.platform + "/include",
		"CURDIR = /tmp/probe",
		".DEFAULT_GOAL = all",
		"EMPTY_VAR = ",
		"",
	}
	return strings.Join(lines, "\n")
}

// argAfter returns the argument following flag in args.
func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
