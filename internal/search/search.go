// Package search answers symbol queries against a code tree snapshot by
// combining exact, prefix, fuzzy, camelCase, acronym, signature and word
// matching, keeping the best score per symbol.
package search

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/phobologic/codetree/internal/model"
)

const (
	DefaultMaxResults     = 50
	DefaultFuzzyThreshold = 0.6
	defaultCompletions    = 20
)

// ErrUnknownSymbol is returned for a symbol id absent from the tree.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Strategy names the matcher that produced a result's score.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyPrefix    Strategy = "prefix"
	StrategyFuzzy     Strategy = "fuzzy"
	StrategyCamelCase Strategy = "camelCase"
	StrategyAcronym   Strategy = "acronym"
	StrategySemantic  Strategy = "semantic"
	StrategyWord      Strategy = "word"
)

// Result is one matched symbol.
type Result struct {
	Symbol   *model.CodeSymbol
	Score    float64
	Strategy Strategy
}

// Options narrows a search. Zero values select the defaults.
type Options struct {
	Kinds          []model.SymbolKind
	Files          []string
	MaxResults     int
	MinScore       float64
	FuzzyThreshold float64
	Semantic       bool
}

// Engine searches the most recent tree passed to New or UpdateTree. It is
// safe for concurrent use; each query runs against a single snapshot.
type Engine struct {
	snap atomic.Pointer[snapshot]
}

// New indexes tree.
func New(tree *model.CodeTree) *Engine {
	e := &Engine{}
	e.snap.Store(newSnapshot(tree))
	return e
}

// UpdateTree indexes tree and swaps it in. Queries already running finish
// against the previous snapshot.
func (e *Engine) UpdateTree(tree *model.CodeTree) {
	e.snap.Store(newSnapshot(tree))
}

// Tree returns the tree currently searched. Callers must not mutate it.
func (e *Engine) Tree() *model.CodeTree {
	return e.snap.Load().tree
}

// View is a fixed snapshot of an engine: every call on it sees the same
// tree and indices.
type View struct {
	s *snapshot
}

// View returns the current snapshot.
func (e *Engine) View() View {
	return View{e.snap.Load()}
}

// Tree returns the snapshot's tree. Callers must not mutate it.
func (v View) Tree() *model.CodeTree {
	return v.s.tree
}

// Search runs Search against the current snapshot.
func (e *Engine) Search(query string, opts Options) []Result {
	return e.View().Search(query, opts)
}

// Search runs every strategy for query and returns the filtered results by
// descending score, ties broken by name then id.
func (v View) Search(query string, opts Options) []Result {
	s := v.s
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	threshold := opts.FuzzyThreshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	best := make(map[string]Result)
	offer := func(id string, score float64, st Strategy) {
		if r, ok := best[id]; !ok || score > r.Score {
			best[id] = Result{Symbol: s.tree.Symbols[id], Score: score, Strategy: st}
		}
	}

	lower := strings.ToLower(q)
	compact := strings.Join(strings.Fields(lower), "")

	for _, en := range withPrefix(s.names, compact) {
		if en.key == compact {
			offer(en.id, 1, StrategyExact)
		} else {
			offer(en.id, prefixScore(len([]rune(compact)), len([]rune(en.key))), StrategyPrefix)
		}
	}

	for _, id := range s.fuzzyCandidates(compact) {
		if f := fuzzyScore(compact, s.tree.Symbols[id].Name); f > 0 && f >= threshold {
			offer(id, f*fuzzyDiscount, StrategyFuzzy)
		}
	}

	if parts := splitParts(q); len(parts) > 0 {
		for _, id := range s.camelCandidates(parts[0]) {
			if score, ok := camelScore(parts, s.parts[id]); ok {
				offer(id, score, StrategyCamelCase)
			}
		}
	}

	for _, en := range withPrefix(s.acronyms, strings.ToUpper(compact)) {
		if score, ok := acronymScore(compact, en.key); ok {
			offer(en.id, score, StrategyAcronym)
		}
	}

	if opts.Semantic {
		for _, id := range s.ids {
			if score, ok := semanticScore(q, s.tree.Symbols[id].Signature); ok {
				offer(id, score, StrategySemantic)
			}
		}
	}

	if words := queryWords(q); len(words) > 0 {
		weights := make(map[string]float64)
		for _, w := range words {
			for _, p := range s.words[w] {
				weights[p.id] += p.weight
			}
		}
		for id, w := range weights {
			offer(id, 0.6*w/float64(len(words)), StrategyWord)
		}
	}

	kinds := make(map[model.SymbolKind]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}
	files := make(map[string]bool, len(opts.Files))
	for _, f := range opts.Files {
		files[f] = true
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		if len(kinds) > 0 && !kinds[r.Symbol.Kind] {
			continue
		}
		if len(files) > 0 && !files[r.Symbol.FilePath] {
			continue
		}
		if r.Score < opts.MinScore {
			continue
		}
		results = append(results, r)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Completions returns symbols whose name starts with partial, shortest
// names first.
func (e *Engine) Completions(partial string, limit int) []Result {
	s := e.snap.Load()
	p := strings.ToLower(strings.TrimSpace(partial))
	if p == "" {
		return nil
	}
	if limit <= 0 {
		limit = defaultCompletions
	}
	matches := withPrefix(s.names, p)
	results := make([]Result, 0, len(matches))
	for _, en := range matches {
		r := Result{Symbol: s.tree.Symbols[en.id], Score: 1, Strategy: StrategyExact}
		if en.key != p {
			r.Score = prefixScore(len([]rune(p)), len([]rune(en.key)))
			r.Strategy = StrategyPrefix
		}
		results = append(results, r)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if rs[i].Symbol.Name != rs[j].Symbol.Name {
			return rs[i].Symbol.Name < rs[j].Symbol.Name
		}
		return rs[i].Symbol.ID < rs[j].Symbol.ID
	})
}

// fuzzyCandidates returns the symbols sharing a trigram with q, or every
// symbol when q is too short to have one.
func (s *snapshot) fuzzyCandidates(q string) []string {
	tris := trigramsOf(q)
	if len(tris) == 0 {
		return s.ids
	}
	seen := make(map[string]bool)
	var out []string
	for _, tri := range tris {
		for _, id := range s.trigrams[tri] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// camelCandidates returns the symbols with a name part starting with first.
func (s *snapshot) camelCandidates(first string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range s.wordsWithPrefix(strings.ToLower(first)) {
		for _, id := range s.nameIndex[w] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
