package sgxbuild

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeCacheKey(t *testing.T) {
	f := newSDKFixture(t)
	cache := NewProbeCache(canonicalTempDir(t))
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform, Arch: ArchX86_64}

	key, err := cache.Key(in, nil)
	require.NoError(t, err)
	require.Len(t, key, 64)

	same, err := cache.Key(in, nil)
	require.NoError(t, err)
	require.Equal(t, key, same)

	hw := in
	hw.Mode = Mode{Hardware: true}
	other, err := cache.Key(hw, nil)
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	// An SDK upgrade rewrites buildenv.mk.
	writeFile(t, filepath.Join(f.framework, "buildenv.mk"), "CFLAGS += -Wall -Werror\n")
	upgraded, err := cache.Key(in, nil)
	require.NoError(t, err)
	require.NotEqual(t, key, upgraded)

	_, err = cache.Key(ProbeInput{FrameworkSDK: filepath.Join(f.root, "nope")}, nil)
	require.Error(t, err)
}

func TestCacheKeyCoversEnvironment(t *testing.T) {
	f := newSDKFixture(t)
	cache := NewProbeCache(canonicalTempDir(t))
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform}

	base, err := cache.Key(in, []string{"PATH=/usr/bin", "CFLAGS=-DFIRST"})
	require.NoError(t, err)

	reordered, err := cache.Key(in, []string{"CFLAGS=-DFIRST", "PATH=/usr/bin"})
	require.NoError(t, err)
	require.Equal(t, base, reordered)

	changed, err := cache.Key(in, []string{"PATH=/usr/bin", "CFLAGS=-DSECOND"})
	require.NoError(t, err)
	require.NotEqual(t, base, changed)

	// The last assignment of a variable is the one make sees.
	overridden, err := cache.Key(in, []string{"PATH=/usr/bin", "CFLAGS=-DSECOND", "CFLAGS=-DFIRST"})
	require.NoError(t, err)
	require.Equal(t, base, overridden)

	cxx, err := cache.Key(in, []string{"PATH=/usr/bin", "CFLAGS=-DFIRST", "CXXFLAGS=-m32"})
	require.NoError(t, err)
	require.NotEqual(t, base, cxx)
}

func TestProbeCacheRoundTrip(t *testing.T) {
	dir := canonicalTempDir(t)
	cache := NewProbeCache(dir)
	require.Equal(t, filepath.Join(dir, "probe"), cache.Dir)

	_, ok := cache.Get("absent")
	require.False(t, ok)

	want := ToolchainFlags{KeySGXMode: "HW", KeyAppCFlags: "-m64 -O2 -fPIC"}
	require.NoError(t, cache.Put("k1", want))

	got, ok := cache.Get("k1")
	require.True(t, ok)
	require.Equal(t, want, got)

	_, err := os.Stat(filepath.Join(cache.Dir, "k1.json.zst"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cache.Dir, "k1.json.zst.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestProbeCacheCorruptEntryIsMiss(t *testing.T) {
	cache := NewProbeCache(canonicalTempDir(t))
	writeFile(t, filepath.Join(cache.Dir, "bad.json.zst"), "not zstd at all")

	_, ok := cache.Get("bad")
	require.False(t, ok)
}

func TestProberAnswersFromCache(t *testing.T) {
	f := newSDKFixture(t)
	runner := &fakeRunner{handle: func(cmd *exec.Cmd) error {
		_, err := cmd.Stdout.Write([]byte(f.makeOutput("HW")))
		return err
	}}
	prober := &Prober{
		Runner:      runner,
		ScratchRoot: f.outDir,
		Cache:       NewProbeCache(canonicalTempDir(t)),
	}
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform, Mode: Mode{Hardware: true}}

	first, err := prober.Extract(in)
	require.NoError(t, err)
	second, err := prober.Extract(in)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, runner.calls, 1)

	// A different mode misses.
	in.Mode = Mode{}
	_, err = prober.Extract(in)
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)
}

func TestExtractCacheMissesWhenCFLAGSChange(t *testing.T) {
	f := newSDKFixture(t)
	// Echo CFLAGS into App_C_Flags the way buildenv.mk does.
	runner := &fakeRunner{handle: func(cmd *exec.Cmd) error {
		cflags := ""
		for _, kv := range cmd.Env {
			if v, ok := strings.CutPrefix(kv, "CFLAGS="); ok {
				cflags = v
			}
		}
		_, err := cmd.Stdout.Write([]byte("App_C_Flags = " + cflags + " -m64 -fPIC\n"))
		return err
	}}
	prober := &Prober{
		Runner:      runner,
		ScratchRoot: f.outDir,
		Cache:       NewProbeCache(canonicalTempDir(t)),
	}
	in := ProbeInput{FrameworkSDK: f.framework, PlatformSDK: f.platform}

	prober.Environ = []string{"PATH=/usr/bin", "CFLAGS=-DFIRST"}
	first, err := prober.Extract(in)
	require.NoError(t, err)
	require.Equal(t, "-DFIRST -m64 -fPIC", first[KeyAppCFlags])

	prober.Environ = []string{"PATH=/usr/bin", "CFLAGS=-DSECOND"}
	second, err := prober.Extract(in)
	require.NoError(t, err)
	require.Equal(t, "-DSECOND -m64 -fPIC", second[KeyAppCFlags])
	require.Len(t, runner.calls, 2)

	prober.Environ = []string{"PATH=/usr/bin", "CFLAGS=-DFIRST"}
	again, err := prober.Extract(in)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Len(t, runner.calls, 2)
}
