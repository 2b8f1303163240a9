package sgxbuild

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: sgxbuild <command> [arguments]")
	fmt.Println()
	colInfo.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build", "[input flags]", "Generate, compile and link the untrusted enclave glue (default)"},
		{"edl", "[-trusted] [input flags]", "Only run sgx_edger8r"},
		{"flags", "[-only substr] [input flags]", "Probe the SDK build environment and show its variables"},
		{"resolve", "[input flags]", "Print the resolved configuration as JSON"},
		{"bundle", "[-dir d] [-o file]", "Archive generated stubs (.tar.zst, .tar.xz, .tar.gz, .zip)"},
		{"publish", "[-key k] <bundle>", "Upload a bundle to R2"},
		{"version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		if l := len(c.Cmd) + len(c.Args) + 1; l > maxLen {
			maxLen = l
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		usage := c.Cmd
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			usage += " " + c.Args
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		fmt.Print(strings.Repeat(" ", max(columnWidth-len(usage), 1)))
		colInfo.Println(c.Desc)
	}
	fmt.Println()
	fmt.Println("Input flags: -metadata <file> -package <name> | -workspace <dir> -package-dir <dir>")
	fmt.Println("Environment: PROFILE, OUT_DIR, TARGET_ARCH")
}

// inputFlags selects where the two declared configuration layers come from.
type inputFlags struct {
	metadata   string
	pkgName    string
	workspace  string
	packageDir string
}

func addInputFlags(fs *flag.FlagSet) *inputFlags {
	in := &inputFlags{}
	fs.StringVar(&in.metadata, "metadata", "", "host metadata JSON document")
	fs.StringVar(&in.pkgName, "package", os.Getenv("PACKAGE_NAME"), "package to build (with -metadata)")
	fs.StringVar(&in.workspace, "workspace", ".", "workspace directory holding sgxbuild.toml")
	fs.StringVar(&in.packageDir, "package-dir", ".", "package directory holding sgxbuild.toml")
	return in
}

func (in *inputFlags) load() (Block, Block, error) {
	if in.metadata != "" {
		if in.pkgName == "" {
			return Block{}, Block{}, fmt.Errorf("%w: -package (or PACKAGE_NAME) is required with -metadata", ErrMissingConfiguration)
		}
		return LoadHostMetadata(in.metadata, in.pkgName)
	}
	return LoadManifests(in.workspace, in.packageDir)
}

// app carries what every command needs.
type app struct {
	cfg      *Config
	settings Settings
	exec     *Executor
	out      io.Writer
}

func (a *app) newPipeline(directives io.Writer) (*Pipeline, error) {
	env, err := LoadBuildEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	return NewPipeline(env, a.settings, a.exec, NewDirectives(directives, a.settings.DirectivePrefix)), nil
}

// resolvedPipeline parses args, loads both layers and resolves them.
func (a *app) resolvedPipeline(fs *flag.FlagSet, args []string, directives io.Writer) (*Pipeline, error) {
	in := addInputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	p, err := a.newPipeline(directives)
	if err != nil {
		return nil, err
	}
	ws, pkg, err := in.load()
	if err != nil {
		return nil, err
	}
	if _, err := p.Resolve(ws, pkg); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *app) handleBuildCommand(args []string) error {
	p, err := a.resolvedPipeline(flag.NewFlagSet("build", flag.ContinueOnError), args, a.out)
	if err != nil {
		return err
	}
	if err := p.CompileUntrusted(); err != nil {
		return err
	}
	step("Untrusted enclave glue ready in %s", p.OutputDir())
	return nil
}

func (a *app) handleEdlCommand(args []string) error {
	fs := flag.NewFlagSet("edl", flag.ContinueOnError)
	trusted := fs.Bool("trusted", false, "generate trusted stubs instead of untrusted")
	p, err := a.resolvedPipeline(fs, args, a.out)
	if err != nil {
		return err
	}
	role := Untrusted
	if *trusted {
		role = Trusted
	}
	gen, err := p.GenerateStubs(role)
	if err != nil {
		return err
	}
	step("Generated %s and %s", filepath.Base(gen.GeneratedSource()), filepath.Base(gen.GeneratedHeader()))
	return nil
}

func (a *app) handleFlagsCommand(args []string) error {
	fs := flag.NewFlagSet("flags", flag.ContinueOnError)
	only := fs.String("only", "", "show only variables whose name contains this")
	p, err := a.resolvedPipeline(fs, args, io.Discard)
	if err != nil {
		return err
	}
	flags, err := p.Flags()
	if err != nil {
		return err
	}
	return RunPager("SDK build environment", FormatFlags(flags, *only))
}

func (a *app) handleResolveCommand(args []string) error {
	p, err := a.resolvedPipeline(flag.NewFlagSet("resolve", flag.ContinueOnError), args, io.Discard)
	if err != nil {
		return err
	}
	cfg, err := p.Config()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) handleBundleCommand(args []string) error {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	outDir := os.Getenv("OUT_DIR")
	dir := fs.String("dir", filepath.Join(outDir, EDLOutputDir), "directory to archive")
	dest := fs.String("o", filepath.Join(outDir, "sgxbuild-stubs.tar.zst"), "bundle file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := CreateBundle(*dir, *dest)
	if err != nil {
		return err
	}
	step("Bundled %d files into %s", n, *dest)
	return nil
}

func (a *app) handlePublishCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	key := fs.String("key", "", "object key (default: bundle file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: sgxbuild publish [-key k] <bundle>")
	}
	bundle := fs.Arg(0)
	if *key == "" {
		*key = filepath.Base(bundle)
	}

	names, err := ReadBundleIndex(bundle)
	if err != nil {
		return fmt.Errorf("%w: %s is not a readable bundle: %v", ErrParse, bundle, err)
	}
	debugf("Bundle %s holds %d files\n", bundle, len(names))

	r2, err := NewR2Client(ctx, a.cfg)
	if err != nil {
		return err
	}
	if err := r2.UploadLocalFile(ctx, *key, bundle); err != nil {
		return fmt.Errorf("failed to upload %s: %w", bundle, err)
	}
	step("Published %s to %s/%s", filepath.Base(bundle), r2.BucketName, *key)
	return nil
}

var errUnknownCommand = errors.New("unknown command")

// dispatch runs one command. Human output goes to stderr, command results to a.out.
func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "build":
		return a.handleBuildCommand(args)
	case "edl":
		return a.handleEdlCommand(args)
	case "flags":
		return a.handleFlagsCommand(args)
	case "resolve":
		return a.handleResolveCommand(args)
	case "bundle":
		return a.handleBundleCommand(args)
	case "publish":
		return a.handlePublishCommand(ctx, args)
	case "version", "--version":
		_, err := fmt.Fprintf(a.out, "sgxbuild %s (built %s)\n", version, buildDate)
		return err
	case "help", "-h", "--help":
		printHelp()
		return nil
	}
	return fmt.Errorf("%w: %s", errUnknownCommand, command)
}

// loadSettings reads the tool config. A broken file is reported and the
// command runs on what could be read plus defaults.
func loadSettings(path string) (*Config, Settings) {
	cfg, err := loadConfig(path)
	if err != nil {
		cPrintf(colWarn, "Warning: failed to read %s: %v\n", path, err)
	}
	return cfg, initConfig(cfg)
}

// Main is the CLI entrypoint for cmd/sgxbuild.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM cancel the context, which kills the running tool's process group.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cPrintln(colWarn, "\nInterrupted, stopping external tools")
			cancel()
		case <-ctx.Done():
		}
	}()

	setupColor()

	if path := os.Getenv("SGXBUILD_CONFIG"); path != "" {
		ConfigFile = path
	}
	cfg, settings := loadSettings(ConfigFile)

	executor := NewExecutor(ctx)
	executor.ApplyIdlePriority = settings.Idle
	a := &app{cfg: cfg, settings: settings, exec: executor, out: os.Stdout}

	command := "build"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	err := a.dispatch(ctx, command, args)
	if errors.Is(err, errUnknownCommand) {
		cPrintf(colError, "Unknown command: %s\n", command)
		printHelp()
		cancel()
		os.Exit(2)
	}
	if err != nil {
		// The host only shows what arrives on its message channel.
		if command == "build" || command == "edl" {
			NewDirectives(os.Stdout, settings.DirectivePrefix).Warning("sgxbuild: %v", err)
		}
		cPrintf(colError, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
