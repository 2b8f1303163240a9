package sgxbuild

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(canonicalTempDir(t), "sgxbuild.conf")
	writeFile(t, path, `
# tool overrides
SGXBUILD_CC = "clang"
SGXBUILD_AR='llvm-ar'
SGXBUILD_PROBE_CACHE=1
not a pair
R2_BUCKET_NAME = stubs
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "clang", cfg.Values["SGXBUILD_CC"])
	assert.Equal(t, "llvm-ar", cfg.Values["SGXBUILD_AR"])
	assert.Equal(t, "1", cfg.Values["SGXBUILD_PROBE_CACHE"])
	assert.Equal(t, "stubs", cfg.Values["R2_BUCKET_NAME"])
	assert.NotContains(t, cfg.Values, "not a pair")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(canonicalTempDir(t), "absent.conf"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Values)
}

func TestMergeEnvOverrides(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"SGXBUILD_CC":   "clang",
		"SGXBUILD_MAKE": "make",
	}}
	mergeEnvOverrides(cfg, []string{
		"SGXBUILD_MAKE=gmake",
		"R2_ENDPOINT=http://localhost:9000",
		"CC=gcc-13",
		"AR=gcc-ar-13",
		"HOME=/root",
	})

	assert.Equal(t, "gmake", cfg.Values["SGXBUILD_MAKE"])
	assert.Equal(t, "http://localhost:9000", cfg.Values["R2_ENDPOINT"])
	assert.Equal(t, "clang", cfg.Values["SGXBUILD_CC"], "plain CC never overrides an explicit setting")
	assert.Equal(t, "gcc-ar-13", cfg.Values["SGXBUILD_AR"])
	assert.NotContains(t, cfg.Values, "HOME")
}

func TestInitConfigDefaults(t *testing.T) {
	t.Cleanup(func() { Debug = false })

	s := initConfig(&Config{Values: map[string]string{}})
	assert.Equal(t, "make", s.Make)
	assert.Equal(t, Toolset{CC: "cc", AR: "ar"}, s.Toolset())
	assert.Equal(t, DefaultDirectivePrefix, s.DirectivePrefix)
	assert.False(t, s.Idle)
	assert.False(t, s.ProbeCache)
	assert.NotEmpty(t, s.CacheDir)
	assert.False(t, Debug)

	s = initConfig(&Config{Values: map[string]string{
		"SGXBUILD_DEBUG":            "1",
		"SGXBUILD_IDLE":             "1",
		"SGXBUILD_DIRECTIVE_PREFIX": "cargo:",
		"SGXBUILD_CACHE_DIR":        "/var/cache/sgxbuild",
	}})
	assert.True(t, Debug)
	assert.True(t, s.Idle)
	assert.Equal(t, "cargo:", s.DirectivePrefix)
	assert.Equal(t, "/var/cache/sgxbuild", s.CacheDir)
}
