// Package picker turns symbol search results into ranked file
// recommendations, optionally consulting a model for query intent and
// reranking.
package picker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/phobologic/codetree/internal/discover"
	"github.com/phobologic/codetree/internal/llm"
	"github.com/phobologic/codetree/internal/model"
	"github.com/phobologic/codetree/internal/ranking"
	"github.com/phobologic/codetree/internal/search"
)

const (
	DefaultMaxFiles = 10

	currentFileBonus = 0.5
	openFileBonus    = 0.2
	recentFileBonus  = 0.3
	exportedBonus    = 0.1

	keywordFactor = 0.9
	patternBoost  = 1.3
	symbolWeight  = 0.6
	contextWeight = 0.4

	smallFileSize    = 100
	smallFilePenalty = 0.7
	largeFileSize    = 50 * 1024
	minLargePenalty  = 0.5

	rerankCount  = 10
	rerankKeep   = 0.4
	rerankWeight = 0.6

	pinnedCurrentScore = 0.9
	pinnedContextScore = 0.8

	primaryResults = 100
	keywordResults = 50
	shownSymbols   = 5
)

// ErrUnknownFile is returned by RelatedFiles for a path absent from the tree.
var ErrUnknownFile = errors.New("unknown file")

// Options tune PickFiles. Zero values select the defaults.
type Options struct {
	MaxFiles          int
	UseAI             bool
	CurrentFile       string
	ContextFiles      []string
	OpenFiles         []string
	RecentFiles       []string // most recent first
	MinRelevanceScore float64
	IncludeTests      bool
}

// MatchedSymbol is a symbol that contributed to a file's score.
type MatchedSymbol struct {
	ID    string
	Name  string
	Kind  model.SymbolKind
	Score float64
}

// FileResult is one recommended file.
type FileResult struct {
	Path       string
	Score      float64
	Confidence ranking.Confidence
	Reasons    []string
	Symbols    []MatchedSymbol
	Pinned     bool
}

// Picker ranks files of the engine's current tree. It is safe for
// concurrent use.
type Picker struct {
	engine *search.Engine
	client llm.Client
	logger *slog.Logger

	mu         sync.RWMutex
	completion llm.CompletionOptions
}

// New returns a picker over engine. A non-nil tree that the engine is not
// already serving is indexed first. client may be nil.
func New(engine *search.Engine, tree *model.CodeTree, client llm.Client, logger *slog.Logger) *Picker {
	if tree != nil && tree != engine.Tree() {
		engine.UpdateTree(tree)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{engine: engine, client: client, logger: logger}
}

// SetCompletionOptions sets the model parameters used for intent and rerank.
func (p *Picker) SetCompletionOptions(opts llm.CompletionOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completion = opts
}

// UpdateTree re-points the picker and its engine at tree.
func (p *Picker) UpdateTree(tree *model.CodeTree) {
	p.engine.UpdateTree(tree)
}

// PickFiles ranks the files relevant to query. Model failures fall back to
// the heuristic path and are never returned.
func (p *Picker) PickFiles(ctx context.Context, query string, opts Options) ([]FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	view := p.engine.View()
	opts = normalize(view.Tree().RootPath, opts)
	useModel := opts.UseAI && p.client != nil

	intent := Heuristic(query)
	if useModel {
		intent = p.modelIntent(ctx, query, intent)
	}

	results := collect(view, intent, fileContext(opts))
	if !opts.IncludeTests && !intent.Tests {
		results = withoutTests(results)
	}
	sortFiles(results)

	if useModel && len(results) > 0 {
		results = p.rerank(ctx, query, results)
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinRelevanceScore {
			kept = append(kept, r)
		}
	}
	results = kept

	present := make(map[string]bool, len(results))
	for _, r := range results {
		present[r.Path] = true
	}
	pin := func(path string, score float64, reason string) {
		if path == "" || present[path] {
			return
		}
		present[path] = true
		results = append(results, FileResult{Path: path, Score: score, Reasons: []string{reason}, Pinned: true})
	}
	pin(opts.CurrentFile, pinnedCurrentScore, "current file")
	for _, f := range opts.ContextFiles {
		pin(f, pinnedContextScore, "context file")
	}

	return finish(results, opts.MaxFiles), nil
}

// QuickPick ranks files for query using the heuristic intent and symbol
// matches only.
func (p *Picker) QuickPick(query string, maxFiles int) []FileResult {
	intent := Heuristic(query)
	results := collect(p.engine.View(), intent, nil)
	if !intent.Tests {
		results = withoutTests(results)
	}
	return finish(results, maxFiles)
}

func (p *Picker) modelIntent(ctx context.Context, query string, fallback Intent) Intent {
	p.mu.RLock()
	opts := p.completion
	p.mu.RUnlock()

	text, err := p.client.Complete(ctx, llm.IntentPrompt(query), opts)
	if err != nil {
		p.logger.Debug("model intent failed, using heuristic", "err", err)
		return fallback
	}
	mi, err := llm.ParseIntent(text)
	if err != nil {
		p.logger.Debug("model intent unparseable, using heuristic", "err", err)
		return fallback
	}
	return fromModel(mi, query)
}

// rerank blends model scores into the top results; on any failure the
// input order is returned unchanged.
func (p *Picker) rerank(ctx context.Context, query string, results []FileResult) []FileResult {
	n := min(rerankCount, len(results))
	candidates := make([]llm.Candidate, n)
	for i := range candidates {
		c := llm.Candidate{Path: results[i].Path}
		for _, s := range results[i].Symbols {
			c.Symbols = append(c.Symbols, s.Name)
		}
		candidates[i] = c
	}

	p.mu.RLock()
	opts := p.completion
	p.mu.RUnlock()

	text, err := p.client.Complete(ctx, llm.RerankPrompt(query, candidates), opts)
	if err != nil {
		p.logger.Debug("model rerank failed, keeping order", "err", err)
		return results
	}
	ranks, err := llm.ParseRanking(text, n)
	if err != nil {
		p.logger.Debug("model rerank unparseable, keeping order", "err", err)
		return results
	}

	out := append([]FileResult(nil), results...)
	for _, r := range ranks {
		f := &out[r.Index]
		f.Score = rerankKeep*f.Score + rerankWeight*r.Score
		if r.Reason != "" {
			f.Reasons = append(f.Reasons, "model: "+r.Reason)
		}
	}
	sortFiles(out)
	return out
}

type aggregate struct {
	path     string
	symbols  map[string]search.Result
	exported bool
}

// collect runs the primary and keyword searches, pools the best score per
// symbol and scores each file holding a match.
func collect(view search.View, intent Intent, hints map[string]float64) []FileResult {
	pooled := make(map[string]search.Result)
	offer := func(r search.Result) {
		if prev, ok := pooled[r.Symbol.ID]; !ok || r.Score > prev.Score {
			pooled[r.Symbol.ID] = r
		}
	}
	for _, r := range view.Search(intent.Primary, search.Options{Kinds: intent.Kinds, MaxResults: primaryResults}) {
		offer(r)
	}
	for _, kw := range intent.Keywords {
		for _, r := range view.Search(kw, search.Options{MaxResults: keywordResults}) {
			r.Score *= keywordFactor
			offer(r)
		}
	}

	files := make(map[string]*aggregate)
	for id, r := range pooled {
		a := files[r.Symbol.FilePath]
		if a == nil {
			a = &aggregate{path: r.Symbol.FilePath, symbols: make(map[string]search.Result)}
			files[a.path] = a
		}
		a.symbols[id] = r
		if r.Symbol.IsExported {
			a.exported = true
		}
	}

	tree := view.Tree()
	out := make([]FileResult, 0, len(files))
	for _, a := range files {
		out = append(out, score(a, tree.Files[a.path], intent, hints[a.path]))
	}
	return out
}

// score normalises one file: the log-dampened symbol average (boosted on a
// pattern match) and the capped context bonus are blended, then scaled by
// the size penalty.
func score(a *aggregate, node *model.FileNode, intent Intent, ctxScore float64) FileResult {
	matched := make([]MatchedSymbol, 0, len(a.symbols))
	sum := 0.0
	for _, r := range a.symbols {
		sum += r.Score
		matched = append(matched, MatchedSymbol{ID: r.Symbol.ID, Name: r.Symbol.Name, Kind: r.Symbol.Kind, Score: r.Score})
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].Name < matched[j].Name
	})

	var reasons []string
	for _, m := range matched[:min(len(matched), 3)] {
		reasons = append(reasons, fmt.Sprintf("matches %s (%s)", m.Name, m.Kind))
	}

	n := float64(len(matched))
	symbolScore := sum / n * math.Log(n+1)
	if pattern := matchingPattern(a.path, intent.Patterns); pattern != "" {
		symbolScore *= patternBoost
		reasons = append(reasons, "path matches "+pattern)
	}
	symbolScore = math.Min(1, symbolScore)

	if a.exported {
		ctxScore += exportedBonus
	}
	final := symbolWeight*symbolScore + contextWeight*math.Min(1, ctxScore)
	if node != nil {
		final *= sizePenalty(node.Size)
	}

	if len(matched) > shownSymbols {
		matched = matched[:shownSymbols]
	}
	return FileResult{Path: a.path, Score: final, Reasons: reasons, Symbols: matched}
}

// normalize rewrites the hinted paths as root-relative slash paths so that
// ./src/a.ts and /root/src/a.ts both compare equal to the tree key src/a.ts.
func normalize(root string, opts Options) Options {
	opts.CurrentFile = cleanPath(root, opts.CurrentFile)
	opts.ContextFiles = cleanPaths(root, opts.ContextFiles)
	opts.OpenFiles = cleanPaths(root, opts.OpenFiles)
	opts.RecentFiles = cleanPaths(root, opts.RecentFiles)
	return opts
}

func cleanPaths(root string, paths []string) []string {
	if len(paths) == 0 {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if c := cleanPath(root, p); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func cleanPath(root, p string) string {
	if p == "" {
		return ""
	}
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil {
			p = rel
		}
	}
	return path.Clean(filepath.ToSlash(p))
}

// fileContext returns the context bonus of every hinted file.
func fileContext(opts Options) map[string]float64 {
	ctx := make(map[string]float64)
	if opts.CurrentFile != "" {
		ctx[opts.CurrentFile] += currentFileBonus
	}
	for _, f := range opts.OpenFiles {
		ctx[f] += openFileBonus
	}
	for i, f := range opts.RecentFiles {
		ctx[f] += recentFileBonus / float64(1+i)
	}
	return ctx
}

func sizePenalty(size int64) float64 {
	switch {
	case size < smallFileSize:
		return smallFilePenalty
	case size > largeFileSize:
		return math.Max(minLargePenalty, float64(largeFileSize)/float64(size))
	default:
		return 1
	}
}

func matchingPattern(path string, patterns []string) string {
	for _, p := range patterns {
		if discover.MatchGlob(p, path) {
			return p
		}
	}
	return ""
}

func withoutTests(results []FileResult) []FileResult {
	kept := results[:0]
	for _, r := range results {
		if !discover.IsTestFile(r.Path) {
			kept = append(kept, r)
		}
	}
	return kept
}

func sortFiles(rs []FileResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Path < rs[j].Path
	})
}

// finish dedupes by path keeping the best score, sorts, truncates and bands.
func finish(results []FileResult, maxFiles int) []FileResult {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	best := make(map[string]int, len(results))
	var out []FileResult
	for _, r := range results {
		if i, ok := best[r.Path]; ok {
			if r.Score > out[i].Score {
				out[i] = r
			}
			continue
		}
		best[r.Path] = len(out)
		out = append(out, r)
	}
	sortFiles(out)
	if len(out) > maxFiles {
		out = out[:maxFiles]
	}
	for i := range out {
		out[i].Confidence = ranking.Band(out[i].Score)
	}
	return out
}
