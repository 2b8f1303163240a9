package sgxbuild

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// ProbeCache stores probe results across invocations. Entries are keyed by
// everything that can change the make evaluation, including the bytes of
// buildenv.mk, so an SDK upgrade never hits a stale entry.
type ProbeCache struct {
	Dir string
}

// NewProbeCache returns a cache rooted at <cacheDir>/probe.
func NewProbeCache(cacheDir string) *ProbeCache {
	return &ProbeCache{Dir: filepath.Join(cacheDir, "probe")}
}

// Key hashes the probe inputs with BLAKE3. environ is the full environment
// make receives, since buildenv.mk may read any variable in it.
func (c *ProbeCache) Key(in ProbeInput, environ []string) (string, error) {
	buildenv, err := os.ReadFile(FrameworkSDK{Path: in.FrameworkSDK}.BuildEnvMk())
	if err != nil {
		return "", err
	}
	parts := append(in.env(), effectiveEnv(environ)...)
	parts = append(parts,
		"GOARCH="+runtime.GOARCH,
		"WORDSIZE="+strconv.Itoa(strconv.IntSize),
		ProbeMakefile,
	)

	h := blake3.New(32, nil)
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(buildenv)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// effectiveEnv keeps the last entry per variable, as exec does, sorted.
func effectiveEnv(environ []string) []string {
	last := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		last[name] = kv
	}
	env := make([]string, 0, len(last))
	for _, kv := range last {
		env = append(env, kv)
	}
	sort.Strings(env)
	return env
}

func (c *ProbeCache) entryPath(key string) string {
	return filepath.Join(c.Dir, key+".json.zst")
}

// withLock runs fn holding an exclusive lock on the cache directory.
func (c *ProbeCache) withLock(fn func() error) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire probe cache lock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}

// Get returns a cached result. Unreadable or corrupt entries count as a miss.
func (c *ProbeCache) Get(key string) (ToolchainFlags, bool) {
	var flags ToolchainFlags
	err := c.withLock(func() error {
		f, err := os.Open(c.entryPath(key))
		if err != nil {
			return err
		}
		defer f.Close()

		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()

		data, err := io.ReadAll(zr)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &flags)
	})
	if err != nil || len(flags) == 0 {
		if err != nil && !os.IsNotExist(err) {
			debugf("Ignoring probe cache entry %s: %v\n", key, err)
		}
		return nil, false
	}
	return flags, true
}

// Put stores flags under key, replacing any previous entry atomically.
func (c *ProbeCache) Put(key string, flags ToolchainFlags) error {
	data, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	return c.withLock(func() error {
		tmp := c.entryPath(key) + ".tmp"
		if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, c.entryPath(key))
	})
}
