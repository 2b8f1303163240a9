package sgxbuild

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Settings is the typed view of Config used by the pipeline.
type Settings struct {
	Make            string
	CC              string
	AR              string
	Idle            bool
	DirectivePrefix string
	ProbeCache      bool
	CacheDir        string
}

// DefaultDirectivePrefix starts every line written to the host build system.
const DefaultDirectivePrefix = "sgxbuild:"

// Load /etc/sgxbuild.conf and apply env overrides
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// A missing file is fine, everything has a default.
	var scanErr error
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		scanErr = scanner.Err()
	}

	mergeEnvOverrides(cfg, os.Environ())
	return cfg, scanErr
}

// Merge SGXBUILD_* and R2_* env overrides
func mergeEnvOverrides(cfg *Config, environ []string) {
	for _, env := range environ {
		if !strings.HasPrefix(env, "SGXBUILD_") && !strings.HasPrefix(env, "R2_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			cfg.Values[parts[0]] = parts[1]
		}
	}

	// Plain CC/AR from the environment act as defaults, never overriding the file.
	for _, name := range []string{"CC", "AR"} {
		key := "SGXBUILD_" + name
		if _, exists := cfg.Values[key]; exists {
			continue
		}
		for _, env := range environ {
			if v, ok := strings.CutPrefix(env, name+"="); ok && v != "" {
				cfg.Values[key] = v
			}
		}
	}
}

// initConfig applies defaults and sets the debug switch.
func initConfig(cfg *Config) Settings {
	Debug = cfg.Values["SGXBUILD_DEBUG"] == "1"

	s := Settings{
		Make:            cfg.Values["SGXBUILD_MAKE"],
		CC:              cfg.Values["SGXBUILD_CC"],
		AR:              cfg.Values["SGXBUILD_AR"],
		Idle:            cfg.Values["SGXBUILD_IDLE"] == "1",
		DirectivePrefix: cfg.Values["SGXBUILD_DIRECTIVE_PREFIX"],
		ProbeCache:      cfg.Values["SGXBUILD_PROBE_CACHE"] == "1",
		CacheDir:        cfg.Values["SGXBUILD_CACHE_DIR"],
	}
	if s.Make == "" {
		s.Make = "make"
	}
	if s.CC == "" {
		s.CC = "cc"
	}
	if s.AR == "" {
		s.AR = "ar"
	}
	if s.DirectivePrefix == "" {
		s.DirectivePrefix = DefaultDirectivePrefix
	}
	if s.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			s.CacheDir = filepath.Join(dir, "sgxbuild")
		} else {
			s.CacheDir = filepath.Join(os.TempDir(), "sgxbuild-cache")
		}
		debugf("=> No cache dir configured, using default: %s\n", s.CacheDir)
	}
	return s
}

// Toolset returns the native tool names configured for this run.
func (s Settings) Toolset() Toolset {
	return Toolset{CC: s.CC, AR: s.AR}
}
