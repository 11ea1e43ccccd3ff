package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/library"
	"github.com/wippyai/layoutcheck/loader"
	"github.com/wippyai/layoutcheck/registry"
)

type options struct {
	lib         string
	expect      string
	root        string
	version     string
	policy      string
	logLevel    string
	maxReported int
	dump        bool
	interactive bool
	unchecked   bool
}

func main() {
	var o options
	flag.StringVar(&o.lib, "lib", "", "Path to the library (.wasm or Go plugin .so)")
	flag.StringVar(&o.expect, "expect", "", "Expected layout as JSON (from -dump)")
	flag.StringVar(&o.root, "root", "", "Expected root module name (default: the expected layout's root)")
	flag.StringVar(&o.version, "version", "", "Expected root module version (default: the expected layout's root version)")
	flag.StringVar(&o.policy, "policy", "", "Version policy: default, loose or exact")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.IntVar(&o.maxReported, "max", -1, "Maximum mismatches to print")
	flag.BoolVar(&o.dump, "dump", false, "Print the library's layout as JSON and exit")
	flag.BoolVar(&o.unchecked, "unchecked", false, "Accept libraries that carry no layout")
	flag.BoolVar(&o.interactive, "i", false, "Interactive layout browser")
	flag.Parse()

	if o.lib == "" {
		fmt.Fprintln(os.Stderr, "Usage: layoutcheck -lib <library> [-dump]")
		fmt.Fprintln(os.Stderr, "       layoutcheck -lib <library> -expect <layout.json> [-policy default|loose|exact]")
		fmt.Fprintln(os.Stderr, "       layoutcheck -lib <library> [-expect <layout.json>] -i  (interactive mode)")
		os.Exit(2)
	}

	cfg, err := loader.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	o.apply(&cfg)

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()
	loader.SetLogger(log)

	if o.interactive {
		if err := runInteractive(o, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(o, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// apply lets flags override the environment.
func (o options) apply(cfg *loader.Config) {
	if o.policy != "" {
		cfg.VersionPolicy = o.policy
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.maxReported >= 0 {
		cfg.MaxReportedMismatches = o.maxReported
	}
	if o.unchecked {
		cfg.AllowUnchecked = true
	}
}

func newLogger(cfg loader.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func openerFor(ctx context.Context, path string) (library.Opener, func()) {
	if strings.EqualFold(filepath.Ext(path), library.PluginOpener{}.Extension()) {
		return library.PluginOpener{}, func() {}
	}
	o := library.NewWasmOpener(ctx)
	return o, func() {
		if err := o.Close(ctx); err != nil {
			loader.Logger().Warn("failed to close wasm runtime", zap.Error(err))
		}
	}
}

// inspection is what the CLI learns about a library.
type inspection struct {
	header header.Header
	found  *registry.Registry
	// checkErr is the load error when an expected layout was given.
	checkErr error
	checked  bool
}

func inspect(ctx context.Context, o options, cfg loader.Config) (*inspection, error) {
	opener, closeOpener := openerFor(ctx, o.lib)
	defer closeOpener()

	lib, err := opener.Open(ctx, o.lib)
	if err != nil {
		return nil, err
	}
	raw, err := lib.Symbol(ctx, header.Symbol)
	if cerr := lib.Close(ctx); cerr != nil {
		loader.Logger().Warn("failed to close library",
			zap.String("path", o.lib),
			zap.Error(cerr))
	}
	if err != nil {
		return nil, err
	}
	h, err := header.Decode(raw)
	if err != nil {
		return nil, err
	}

	in := &inspection{header: h}
	if !h.Unchecked() {
		if in.found, err = h.Registry(); err != nil {
			return nil, err
		}
	}
	if o.expect == "" {
		return in, nil
	}

	root, err := expectedRoot(o, h)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	_, in.checkErr = loader.New(opener, opts...).Load(ctx, o.lib, root)
	in.checked = true
	return in, nil
}

func expectedRoot(o options, h header.Header) (loader.RootModule, error) {
	data, err := os.ReadFile(o.expect)
	if err != nil {
		return loader.RootModule{}, fmt.Errorf("read expected layout: %w", err)
	}
	reg, err := registry.ParseJSON(data)
	if err != nil {
		return loader.RootModule{}, err
	}
	id := reg.RootLayout().ID
	root := loader.RootModule{
		Layout:   reg,
		BaseName: h.BaseName,
		Name:     o.root,
		Version:  o.version,
	}
	if root.Name == "" {
		root.Name = id.Key()
	}
	if root.Version == "" {
		root.Version = id.Version
	}
	if root.Version == "" {
		root.Version = h.Version
	}
	return root, nil
}

func run(o options, cfg loader.Config) error {
	ctx := context.Background()

	in, err := inspect(ctx, o, cfg)
	if err != nil {
		return err
	}

	if o.dump {
		if in.found == nil {
			return fmt.Errorf("%s carries no layout", o.lib)
		}
		out, err := json.MarshalIndent(in.found, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	h := in.header
	fmt.Printf("Library: %s\n", o.lib)
	fmt.Printf("Header ABI: %s\n", h.ABI)
	fmt.Printf("Root module: %s %s (base name %q)\n", h.Name, h.Version, h.BaseName)
	if in.found == nil {
		fmt.Println("Layout: none (unchecked)")
	} else {
		fmt.Printf("Layout: %d types\n", in.found.Len())
		fmt.Printf("  %s\n", in.found.Format(in.found.Root()))
	}

	if !in.checked {
		return nil
	}
	if in.checkErr != nil {
		var report *errors.CompatibilityError
		if errors.As(in.checkErr, &report) {
			fmt.Printf("\nIncompatible: %d mismatch(es)\n", len(report.Mismatches))
		}
		return in.checkErr
	}
	fmt.Println("\nCompatible")
	return nil
}
