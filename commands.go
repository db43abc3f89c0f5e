package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/codetree/internal/model"
	"github.com/phobologic/codetree/internal/picker"
	"github.com/phobologic/codetree/internal/ranking"
	"github.com/phobologic/codetree/internal/search"
	"github.com/phobologic/codetree/internal/toon"
)

func newIndexCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the cached index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			tree := a.builder.Tree()
			var doc toon.Document
			doc.Field("root", tree.RootPath)
			doc.Field("files", strconv.Itoa(len(tree.Files)))
			doc.Field("symbols", strconv.Itoa(len(tree.Symbols)))
			doc.Field("dependencies", strconv.Itoa(len(tree.Dependencies)))
			if a.cfg.Cache.Enabled {
				doc.Field("cache", a.cfg.CachePath(tree.RootPath))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.String())
			return err
		},
	}
}

func newMapCmd(g *globalFlags) *cobra.Command {
	var (
		top     int
		symbol  string
		file    string
		members bool
	)
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Print the ranked repository map",
		Long: `Print files ordered by PageRank over the import graph with their
top-level symbols and dependency edges.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			tree := a.builder.Tree()
			rm := ranking.BuildMap(tree, filepath.Base(tree.RootPath))
			if symbol != "" {
				rm = ranking.FilterBySymbol(rm, symbol, members)
			}
			if file != "" {
				rm = ranking.FilterByFile(rm, file)
			}
			if len(rm.Files) == 0 {
				return fmt.Errorf("no files matched")
			}
			rm = ranking.SelectFiles(rm, top)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), toon.EncodeMap(rm))
			return err
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 0, "limit to the N highest-ranked files")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only symbols whose name contains this text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "only files whose path contains this text")
	cmd.Flags().BoolVarP(&members, "members", "m", false, "list members of matched symbols")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		kinds    []string
		files    []string
		semantic bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbols by name, abbreviation and documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.engine.Search(args[0], search.Options{
				Kinds:          parsed,
				Files:          files,
				MaxResults:     a.cfg.Search.MaxResults,
				MinScore:       a.cfg.Search.MinScore,
				FuzzyThreshold: a.cfg.Search.FuzzyThreshold,
				Semantic:       semantic,
			})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encodeResults(args[0], results))
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "only these symbol kinds")
	cmd.Flags().StringSliceVar(&files, "in", nil, "only symbols declared in these files")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "also match query words against signatures")
	cmd.Flags().Int("max-results", 0, "maximum number of results")
	cmd.Flags().Float64("min-score", 0, "drop results scoring below this")
	cmd.Flags().Float64("fuzzy-threshold", 0, "minimum fuzzy similarity")
	return cmd
}

func newCompleteCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "complete <prefix>",
		Short: "Complete a symbol name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.engine.Completions(args[0], limit)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encodeResults(args[0], results))
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of completions (default 20)")
	return cmd
}

func newUsagesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "usages <symbol>",
		Short: "List imports and re-exports of a symbol",
		Long: `List the imports and re-exports in other files that resolve to a symbol.
The argument is a symbol id or an exact symbol name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			syms, err := resolveSymbols(a.engine.Tree(), args[0])
			if err != nil {
				return err
			}
			var rows [][]string
			for _, sym := range syms {
				usages, err := a.engine.FindUsages(sym.ID)
				if err != nil {
					return err
				}
				for _, u := range usages {
					rows = append(rows, []string{sym.Name, sym.FilePath, u.FilePath, strconv.Itoa(u.Line), string(u.Kind), u.Source})
				}
			}
			var doc toon.Document
			doc.Field("symbol", args[0])
			doc.Table("usages", []string{"name", "declared", "file", "line", "kind", "source"}, rows)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.String())
			return err
		},
	}
}

func newRelatedCmd(g *globalFlags) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "related <symbol>",
		Short: "List symbols near a symbol",
		Long: `Walk outward from a symbol over siblings, parent and child links and
imported symbols. The argument is a symbol id or an exact symbol name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			syms, err := resolveSymbols(a.engine.Tree(), args[0])
			if err != nil {
				return err
			}
			var rows [][]string
			for _, sym := range syms {
				related, err := a.engine.FindRelated(sym.ID, depth)
				if err != nil {
					return err
				}
				for _, r := range related {
					rows = append(rows, []string{
						sym.Name, r.Symbol.Name, string(r.Symbol.Kind), r.Symbol.FilePath,
						strconv.Itoa(r.Symbol.StartLine), string(r.Relation), strconv.Itoa(r.Depth), toon.Score(r.Score),
					})
				}
			}
			var doc toon.Document
			doc.Field("symbol", args[0])
			doc.Table("related", []string{"from", "name", "kind", "file", "line", "relation", "depth", "score"}, rows)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.String())
			return err
		},
	}
	cmd.Flags().IntVar(&depth, "depth", search.DefaultRelatedDepth, "maximum hops")
	return cmd
}

func newPickCmd(g *globalFlags) *cobra.Command {
	var (
		current   string
		inContext []string
		open      []string
		recent    []string
		near      string
	)
	cmd := &cobra.Command{
		Use:   "pick <query>",
		Short: "Recommend the files relevant to a task",
		Long: `Rank files for a natural-language query by the symbols they declare,
their path and the editor context. With --ai and a configured model the
query intent is extracted and the top results are re-ranked by the model.
With --near the files around a path in the import graph are listed instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if near == "" && len(args) == 0 {
				return fmt.Errorf("a query or --near is required")
			}
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			var (
				results []picker.FileResult
				query   string
			)
			if near != "" {
				query = near
				results, err = a.picker.RelatedFiles(near, a.cfg.Picker.MaxFiles)
			} else {
				query = args[0]
				results, err = a.picker.PickFiles(cmd.Context(), query, picker.Options{
					MaxFiles:          a.cfg.Picker.MaxFiles,
					UseAI:             a.cfg.Picker.UseAI,
					CurrentFile:       current,
					ContextFiles:      inContext,
					OpenFiles:         open,
					RecentFiles:       recent,
					MinRelevanceScore: a.cfg.Picker.MinRelevance,
					IncludeTests:      a.cfg.Picker.IncludeTests,
				})
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encodeFiles(query, results))
			return err
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "file being edited")
	cmd.Flags().StringSliceVar(&inContext, "context", nil, "files already in context")
	cmd.Flags().StringSliceVar(&open, "open", nil, "files open in the editor")
	cmd.Flags().StringSliceVar(&recent, "recent", nil, "recently edited files, most recent first")
	cmd.Flags().StringVar(&near, "near", "", "list files around this path in the import graph")
	cmd.Flags().Int("max-files", 0, "maximum number of files")
	cmd.Flags().Float64("min-relevance", 0, "drop files scoring below this")
	cmd.Flags().Bool("include-tests", false, "keep test files")
	cmd.Flags().Bool("ai", false, "use the configured model for intent and re-ranking")
	cmd.Flags().String("model", "", "model name")
	return cmd
}

// resolveSymbols accepts a symbol id or an exact name.
func resolveSymbols(tree *model.CodeTree, arg string) ([]*model.CodeSymbol, error) {
	if sym, ok := tree.Symbols[arg]; ok {
		return []*model.CodeSymbol{sym}, nil
	}
	var out []*model.CodeSymbol
	for _, sym := range tree.Symbols {
		if sym.Name == arg {
			out = append(out, sym)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", search.ErrUnknownSymbol, arg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].StartLine < out[j].StartLine
	})
	return out, nil
}

func parseKinds(names []string) ([]model.SymbolKind, error) {
	var kinds []model.SymbolKind
	for _, n := range names {
		k, ok := model.ParseKind(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("unknown symbol kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func encodeResults(query string, results []search.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Symbol.Name, string(r.Symbol.Kind), r.Symbol.FilePath,
			strconv.Itoa(r.Symbol.StartLine), toon.Score(r.Score), string(r.Strategy), r.Symbol.ID,
		})
	}
	var doc toon.Document
	doc.Field("query", query)
	doc.Table("results", []string{"name", "kind", "file", "line", "score", "strategy", "id"}, rows)
	return doc.String()
}

func encodeFiles(query string, results []picker.FileResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		names := make([]string, 0, len(r.Symbols))
		for _, s := range r.Symbols {
			names = append(names, s.Name)
		}
		rows = append(rows, []string{
			r.Path, toon.Score(r.Score), string(r.Confidence),
			strings.Join(r.Reasons, "; "), strings.Join(names, " "),
		})
	}
	var doc toon.Document
	doc.Field("query", query)
	doc.Table("files", []string{"path", "score", "confidence", "reasons", "symbols"}, rows)
	return doc.String()
}
