// Package graph resolves relative imports into dependency edges and computes
// PageRank centrality over them.
package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/phobologic/codetree/internal/model"
)

// Rebuild recomputes every dependency edge of the tree from the imports and
// re-exports of its files, replacing the edge list and both dependency sets
// of every node. Unresolved imports produce no edge.
func Rebuild(tree *model.CodeTree) {
	known := func(p string) bool {
		_, ok := tree.Files[p]
		return ok
	}

	type edgeKey struct{ from, to string }
	edgeSymbols := make(map[edgeKey]map[string]struct{})
	add := func(from, to string, names ...string) {
		key := edgeKey{from, to}
		set := edgeSymbols[key]
		if set == nil {
			set = make(map[string]struct{})
			edgeSymbols[key] = set
		}
		for _, n := range names {
			if n != "" {
				set[n] = struct{}{}
			}
		}
	}

	for _, path := range tree.SortedPaths() {
		f := tree.Files[path]
		for _, imp := range f.Imports {
			names := importedNames(imp)
			if f.Language == "python" && strings.Trim(imp.Source, "./") == "" {
				// "from . import x" may name submodules rather than symbols.
				var rest []string
				for _, spec := range imp.Specifiers {
					if to, ok := Resolve(path, imp.Source+"/"+spec, known); ok {
						add(path, to, spec)
					} else {
						rest = append(rest, spec)
					}
				}
				if len(rest) == 0 && len(imp.Specifiers) > 0 {
					continue
				}
				names = rest
			}
			if to, ok := Resolve(path, imp.Source, known); ok {
				add(path, to, names...)
			}
		}
		for _, ex := range f.Exports {
			if !ex.IsReexport || ex.Source == "" {
				continue
			}
			if to, ok := Resolve(path, ex.Source, known); ok {
				add(path, to, ex.LocalName)
			}
		}
	}

	for _, f := range tree.Files {
		f.Dependencies = make(map[string]struct{})
		f.Dependents = make(map[string]struct{})
	}

	edges := make([]model.DependencyEdge, 0, len(edgeSymbols))
	for key, set := range edgeSymbols {
		if key.from == key.to {
			continue // no self-edges
		}
		tree.Files[key.from].Dependencies[key.to] = struct{}{}
		tree.Files[key.to].Dependents[key.from] = struct{}{}
		edges = append(edges, model.DependencyEdge{
			From:    key.from,
			To:      key.to,
			Type:    model.ImportEdge,
			Symbols: model.SortedSet(set),
		})
	}

	// Sort for deterministic output
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	tree.Dependencies = edges
}

// importedNames lists the names an import pulls from its source module. A
// namespace import contributes "*".
func importedNames(imp model.ImportInfo) []string {
	names := append([]string{}, imp.Specifiers...)
	if imp.DefaultImport != "" {
		names = append(names, "default")
	}
	if imp.NamespaceImport != "" {
		names = append(names, "*")
	}
	return names
}

// FileRank is a file's PageRank score.
type FileRank struct {
	Path string
	Rank float64
}

// Rank applies PageRank over the tree's dependency edges and returns every
// file sorted by rank descending, ties broken by path. Each symbol flowing
// across an edge counts as one link.
func Rank(tree *model.CodeTree) []FileRank {
	paths := tree.SortedPaths()
	if len(paths) == 0 {
		return nil
	}

	var ranks map[string]float64
	if len(tree.Dependencies) == 0 {
		uniform := 1.0 / float64(len(paths))
		ranks = make(map[string]float64, len(paths))
		for _, p := range paths {
			ranks[p] = uniform
		}
	} else {
		// Edge from source to target means source imports from target.
		outEdges := make(map[string][]string)
		outDegree := make(map[string]int)
		for _, e := range tree.Dependencies {
			weight := len(e.Symbols)
			if weight == 0 {
				weight = 1
			}
			for i := 0; i < weight; i++ {
				outEdges[e.From] = append(outEdges[e.From], e.To)
				outDegree[e.From]++
			}
		}
		ranks = pageRank(paths, outEdges, outDegree, 0.85, 100, 1e-6)
	}

	out := make([]FileRank, len(paths))
	for i, p := range paths {
		out[i] = FileRank{Path: p, Rank: ranks[p]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank > out[j].Rank
	})
	return out
}

func pageRank(
	nodes []string,
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for _, node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		// Dangling node contribution (nodes with no outgoing edges)
		var danglingSum float64
		for _, node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for _, node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for _, src := range nodes {
			targets := outEdges[src]
			if len(targets) == 0 {
				continue
			}
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for _, node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}
		rank = newRank
		if diff < tol {
			break
		}
	}
	return rank
}
