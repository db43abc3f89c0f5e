// codetree indexes a repository with tree-sitter and answers symbol search
// and file selection queries in TOON format.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/codetree/internal/builder"
	"github.com/phobologic/codetree/internal/cache"
	"github.com/phobologic/codetree/internal/config"
	"github.com/phobologic/codetree/internal/lang"
	"github.com/phobologic/codetree/internal/llm"
	"github.com/phobologic/codetree/internal/logging"
	"github.com/phobologic/codetree/internal/picker"
	"github.com/phobologic/codetree/internal/search"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globalFlags are shared by every command that opens an index.
type globalFlags struct {
	root       string
	configFile string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "codetree",
		Short: "Index a repository and search its symbols",
		Long: `codetree parses a repository with tree-sitter into a tree of files,
symbols and import edges. The tree is cached under .codetree/ and kept
current incrementally. Every command prints TOON.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("codetree {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.root, "root", "C", ".", "repository root")
	pf.StringVar(&g.configFile, "config", "", "configuration file (default .codetree.* in the root)")
	pf.StringSlice("include", nil, "include globs")
	pf.StringSlice("exclude", nil, "exclude globs")
	pf.StringSliceP("lang", "l", nil, "languages to index")
	pf.Int("workers", 0, "parse workers (default GOMAXPROCS)")
	pf.Bool("no-cache", false, "neither read nor write the cache")
	pf.String("cache-backend", "", "cache backend: file or bolt")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")

	cmd.AddCommand(
		newIndexCmd(g),
		newMapCmd(g),
		newSearchCmd(g),
		newCompleteCmd(g),
		newUsagesCmd(g),
		newRelatedCmd(g),
		newPickCmd(g),
		newWatchCmd(g),
		newInitCmd(),
	)
	return cmd
}

// app is an opened index with its query surfaces.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	builder *builder.Builder
	engine  *search.Engine
	picker  *picker.Picker
	closers []io.Closer
}

// openApp loads the configuration, opens the cache and brings the tree up
// to date with the disk.
func openApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	root, err := filepath.Abs(g.root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := config.Load(root, g.configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.Languages {
		if _, ok := lang.Languages[name]; !ok {
			return nil, fmt.Errorf("unsupported language %q", name)
		}
	}

	a := &app{
		cfg:    cfg,
		logger: logging.New(cmd.ErrOrStderr(), logging.LevelFromString(cfg.Log.Level), cfg.Log.Format),
	}
	store, err := a.openStore(root)
	if err != nil {
		return nil, err
	}

	b, err := builder.New(builder.Options{
		Root:     root,
		Discover: cfg.DiscoverOptions(),
		Debounce: cfg.Debounce,
		Workers:  cfg.Workers,
		Store:    store,
		Logger:   a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.builder = b
	a.closers = append([]io.Closer{b}, a.closers...)

	ctx := cmd.Context()
	if err := b.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("building index: %w", err)
	}
	if err := b.Flush(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("updating index: %w", err)
	}

	a.engine = search.New(b.Tree())
	a.picker = picker.New(a.engine, nil, a.modelClient(), a.logger)
	a.picker.SetCompletionOptions(llm.CompletionOptions{
		Model:       cfg.Model.Name,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	})
	return a, nil
}

func (a *app) openStore(root string) (cache.Store, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	path := a.cfg.CachePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if a.cfg.Cache.Backend == "bolt" {
		s, err := cache.OpenBoltStore(path, root)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	}
	return cache.NewFileStore(path, root), nil
}

// modelClient returns nil unless a model provider is configured.
func (a *app) modelClient() llm.Client {
	if a.cfg.Model.Provider != "ollama" {
		return nil
	}
	return llm.NewOllama(llm.OllamaConfig{
		BaseURL: a.cfg.Model.BaseURL,
		Model:   a.cfg.Model.Name,
		Timeout: a.cfg.Model.Timeout,
	})
}

// Close closes the builder before the store it saves into.
func (a *app) Close() {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing index", "err", err)
	}
}
