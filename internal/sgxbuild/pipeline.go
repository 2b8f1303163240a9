package sgxbuild

import (
	"errors"
	"path/filepath"
)

// Pipeline runs the stages for one compilation unit, in order:
// configuration, mode, probe, edger8r, compile, link.
// Each stage returns an error and the first one ends the run.
type Pipeline struct {
	Env    BuildEnv
	Tools  Toolset
	Runner Runner
	Out    *Directives
	Prober *Prober

	config *ResolvedConfig
	flags  ToolchainFlags
}

// NewPipeline wires a pipeline from the process environment and tool settings.
func NewPipeline(env BuildEnv, s Settings, r Runner, out *Directives) *Pipeline {
	prober := &Prober{Runner: r, Make: s.Make, ScratchRoot: env.OutDir}
	if s.ProbeCache {
		prober.Cache = NewProbeCache(s.CacheDir)
	}
	return &Pipeline{
		Env:    env,
		Tools:  s.Toolset(),
		Runner: r,
		Out:    out,
		Prober: prober,
	}
}

// Resolve merges the package layer over the workspace layer, finalizes the
// result for the active profile and registers every input as a rebuild trigger.
func (p *Pipeline) Resolve(workspace, pkg Block) (*ResolvedConfig, error) {
	ws, err := workspace.Partial()
	if err != nil {
		return nil, err
	}
	local, err := pkg.Partial()
	if err != nil {
		return nil, err
	}

	cfg, err := Merge(local, ws).Finalize(p.Env.Profile)
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.WatchPaths() {
		p.Out.RerunIfChanged(path)
	}
	debugf("Resolved %s: mode %s\n", cfg.Profile, cfg.Mode)

	p.config = cfg
	return cfg, nil
}

// Config returns the configuration from Resolve.
func (p *Pipeline) Config() (*ResolvedConfig, error) {
	if p.config == nil {
		return nil, errors.New("pipeline configuration not resolved")
	}
	return p.config, nil
}

// Flags probes the SDK build environment once and memoizes the result.
func (p *Pipeline) Flags() (ToolchainFlags, error) {
	if p.flags != nil {
		return p.flags, nil
	}
	cfg, err := p.Config()
	if err != nil {
		return nil, err
	}
	flags, err := p.Prober.Extract(ProbeInput{
		FrameworkSDK: cfg.FrameworkSDK.Path,
		PlatformSDK:  cfg.PlatformSDK.Path,
		Mode:         cfg.Mode,
		Arch:         p.Env.Arch,
	})
	if err != nil {
		return nil, err
	}
	p.flags = flags
	return flags, nil
}

// OutputDir is the directory receiving generated stubs and the stub archive.
func (p *Pipeline) OutputDir() string {
	return filepath.Join(p.Env.OutDir, EDLOutputDir)
}

// GenerateStubs runs edger8r for role into OutputDir.
func (p *Pipeline) GenerateStubs(role Role) (Edger8rCommand, error) {
	cfg, err := p.Config()
	if err != nil {
		return Edger8rCommand{}, err
	}
	flags, err := p.Flags()
	if err != nil {
		return Edger8rCommand{}, err
	}
	bin, err := flags.Edger8r()
	if err != nil {
		return Edger8rCommand{}, err
	}

	cmd := Edger8rCommand{Bin: bin, EDL: cfg.EDL, Role: role, OutDir: p.OutputDir()}
	step("Generating %s edl code to %s", role, cmd.OutDir)
	if err := cmd.Run(p.Runner); err != nil {
		return Edger8rCommand{}, err
	}
	return cmd, nil
}

// CompileUntrusted generates the untrusted stubs, archives them and emits
// everything the host needs to link against the enclave runtime.
func (p *Pipeline) CompileUntrusted() error {
	cfg, err := p.Config()
	if err != nil {
		return err
	}
	gen, err := p.GenerateStubs(Untrusted)
	if err != nil {
		return err
	}

	flags, err := p.Flags()
	if err != nil {
		return err
	}
	cflags, err := flags.AppCFlags()
	if err != nil {
		return err
	}
	source, err := Canonicalize(gen.GeneratedSource(), gen.OutDir)
	if err != nil {
		return err
	}

	unit := &CompileUnit{
		Name:     cfg.EDL.UntrustedName(),
		Flags:    SplitFlags(cflags),
		Includes: []string{gen.OutDir},
		Sources:  []string{source},
		OutDir:   gen.OutDir,
	}
	step("Compiling to %s", unit.ArchivePath())
	if _, err := unit.Compile(p.Runner, p.Tools); err != nil {
		return err
	}

	sgxMode, err := flags.SGXMode()
	if err != nil {
		return err
	}
	runtimeDir, err := cfg.PlatformSDK.LibDir(p.Env.Arch)
	if err != nil {
		return err
	}
	LinkPlan{
		StubDir:    gen.OutDir,
		StubLib:    unit.Name,
		RuntimeDir: runtimeDir,
		RuntimeLib: RuntimeLibrary(sgxMode),
	}.Emit(p.Out)
	return nil
}

// Build is the whole untrusted pipeline for one invocation.
func (p *Pipeline) Build(workspace, pkg Block) error {
	if _, err := p.Resolve(workspace, pkg); err != nil {
		return err
	}
	return p.CompileUntrusted()
}
