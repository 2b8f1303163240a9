package sgxbuild

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MetadataKey names the block inside host metadata that belongs to us.
const MetadataKey = "sgx"

// DefaultPlatformSDK is used when neither layer names a platform SDK.
const DefaultPlatformSDK = "/opt/intel/sgxsdk"

// frameworkSearchDirs are appended to every EDL search path list.
var frameworkSearchDirs = []string{"common/inc", "sgx_edl/edl"}

var validate = validator.New()

// PlatformSDK locates the vendor SGX SDK (headers, sgx_edger8r, runtime libs).
type PlatformSDK struct {
	Path string `json:"path" validate:"required,dir"`
}

// LibDir is the directory holding the untrusted runtime libraries.
func (s PlatformSDK) LibDir(arch Arch) (string, error) {
	sub := "lib64"
	if arch == ArchX86 {
		sub = "lib"
	}
	return Canonicalize(sub, s.Path)
}

// FrameworkSDK locates the enclave framework SDK that ships buildenv.mk.
type FrameworkSDK struct {
	Path string `json:"path" validate:"required,dir"`
}

// BuildEnvMk is the makefile fragment the probe includes.
func (s FrameworkSDK) BuildEnvMk() string {
	return filepath.Join(s.Path, "buildenv.mk")
}

// SearchDirs returns the framework's own EDL search directories, canonicalized.
func (s FrameworkSDK) SearchDirs() ([]string, error) {
	dirs := make([]string, 0, len(frameworkSearchDirs))
	for _, sub := range frameworkSearchDirs {
		dir, err := Canonicalize(sub, s.Path)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// EDL is the interface definition file and the directories edger8r searches for imports.
type EDL struct {
	Path        string   `json:"path" validate:"required,file"`
	SearchPaths []string `json:"search_paths,omitempty" validate:"dive,dir"`
}

// Base is the file name without its extension: "service.edl" -> "service".
func (e EDL) Base() string {
	name := filepath.Base(e.Path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (e EDL) TrustedName() string      { return e.Base() + "_t" }
func (e EDL) UntrustedName() string    { return e.Base() + "_u" }
func (e EDL) TrustedSource() string    { return e.TrustedName() + ".c" }
func (e EDL) TrustedHeader() string    { return e.TrustedName() + ".h" }
func (e EDL) UntrustedSource() string  { return e.UntrustedName() + ".c" }
func (e EDL) UntrustedHeader() string  { return e.UntrustedName() + ".h" }
func (e EDL) UntrustedArchive() string { return "lib" + e.UntrustedName() + ".a" }

// UnmarshalJSON rejects mode entries that leave either switch implicit.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var raw struct {
		Hardware *bool `json:"hardware"`
		Debug    *bool `json:"debug"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Hardware == nil || raw.Debug == nil {
		return errors.New("mode entry must set both hardware and debug")
	}
	m.Hardware, m.Debug = *raw.Hardware, *raw.Debug
	return nil
}

// PartialConfig is one declared layer. A nil field was not declared in this layer.
type PartialConfig struct {
	PlatformSDK  *PlatformSDK  `json:"platform_sdk"`
	FrameworkSDK *FrameworkSDK `json:"framework_sdk" validate:"required"`
	EDL          *EDL          `json:"edl" validate:"required"`
	Mode         ModeTable     `json:"mode"`
}

// ParsePartial decodes one raw block and canonicalizes its paths against origin,
// the directory of the manifest that declared the block.
// An empty block yields an empty PartialConfig.
func ParsePartial(raw []byte, origin string) (*PartialConfig, error) {
	p := &PartialConfig{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s metadata: %v", ErrParse, origin, err)
	}
	if err := p.canonicalize(origin); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PartialConfig) canonicalize(base string) error {
	var err error
	if p.PlatformSDK != nil {
		if p.PlatformSDK.Path == "" {
			return fmt.Errorf("%w: platform_sdk.path is empty", ErrParse)
		}
		if p.PlatformSDK.Path, err = Canonicalize(p.PlatformSDK.Path, base); err != nil {
			return fmt.Errorf("platform sdk: %w", err)
		}
	}
	if p.FrameworkSDK != nil {
		if p.FrameworkSDK.Path == "" {
			return fmt.Errorf("%w: framework_sdk.path is empty", ErrParse)
		}
		if p.FrameworkSDK.Path, err = Canonicalize(p.FrameworkSDK.Path, base); err != nil {
			return fmt.Errorf("framework sdk: %w", err)
		}
	}
	if p.EDL != nil {
		if p.EDL.Path == "" {
			return fmt.Errorf("%w: edl.path is empty", ErrParse)
		}
		if p.EDL.Path, err = Canonicalize(p.EDL.Path, base); err != nil {
			return fmt.Errorf("edl: %w", err)
		}
		for i, sp := range p.EDL.SearchPaths {
			if p.EDL.SearchPaths[i], err = Canonicalize(sp, base); err != nil {
				return fmt.Errorf("edl search path: %w", err)
			}
		}
	}
	return nil
}

// Merge combines two layers field by field. A field set in local always wins;
// workspace only fills fields local left unset.
func Merge(local, workspace *PartialConfig) *PartialConfig {
	if local == nil {
		local = &PartialConfig{}
	}
	if workspace == nil {
		workspace = &PartialConfig{}
	}
	merged := *local
	if merged.PlatformSDK == nil {
		merged.PlatformSDK = workspace.PlatformSDK
	}
	if merged.FrameworkSDK == nil {
		merged.FrameworkSDK = workspace.FrameworkSDK
	}
	if merged.EDL == nil {
		merged.EDL = workspace.EDL
	}
	if merged.Mode == nil {
		merged.Mode = workspace.Mode
	}
	return &merged
}

// ResolvedConfig is the complete build plan for one invocation.
type ResolvedConfig struct {
	Profile      string       `json:"profile" validate:"required"`
	PlatformSDK  PlatformSDK  `json:"platform_sdk"`
	FrameworkSDK FrameworkSDK `json:"framework_sdk"`
	EDL          EDL          `json:"edl"`
	Mode         Mode         `json:"mode"`
}

// Finalize applies defaults, checks required fields and resolves the Mode for profile.
func (p *PartialConfig) Finalize(profile string) (*ResolvedConfig, error) {
	if err := checkStruct(p); err != nil {
		return nil, err
	}

	platform := PlatformSDK{Path: DefaultPlatformSDK}
	if p.PlatformSDK != nil {
		platform = *p.PlatformSDK
	}
	// The default path never went through ParsePartial.
	platformPath, err := Canonicalize(platform.Path, "/")
	if err != nil {
		return nil, fmt.Errorf("platform sdk: %w", err)
	}
	platform.Path = platformPath

	frameworkDirs, err := p.FrameworkSDK.SearchDirs()
	if err != nil {
		return nil, fmt.Errorf("framework sdk: %w", err)
	}

	// Declared search paths come first, framework defaults last.
	edl := EDL{Path: p.EDL.Path}
	edl.SearchPaths = append(edl.SearchPaths, p.EDL.SearchPaths...)
	edl.SearchPaths = append(edl.SearchPaths, frameworkDirs...)

	mode, err := ResolveMode(profile, p.Mode)
	if err != nil {
		return nil, err
	}

	r := &ResolvedConfig{
		Profile:      NormalizeProfile(profile),
		PlatformSDK:  platform,
		FrameworkSDK: *p.FrameworkSDK,
		EDL:          edl,
		Mode:         mode,
	}
	if err := checkStruct(r); err != nil {
		return nil, err
	}
	return r, nil
}

// WatchPaths lists every declared input whose change requires a rebuild.
func (r *ResolvedConfig) WatchPaths() []string {
	paths := []string{r.PlatformSDK.Path, r.FrameworkSDK.Path, r.EDL.Path}
	return append(paths, r.EDL.SearchPaths...)
}

// checkStruct maps validator failures onto our error kinds:
// an absent field is missing configuration, anything else is a bad path.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%w: %s is not set in workspace or package metadata", ErrMissingConfiguration, fieldName(fe))
	}
	return fmt.Errorf("%w: %s %v is not a valid %s", ErrPathResolution, fieldName(fe), fe.Value(), fe.Tag())
}

// fieldName turns "PartialConfig.FrameworkSDK.Path" into "FrameworkSDK.Path".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
