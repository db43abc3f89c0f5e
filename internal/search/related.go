package search

import (
	"sort"

	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/model"
)

// UsageKind says how an import names a symbol.
type UsageKind string

const (
	UsageNamed     UsageKind = "named"
	UsageDefault   UsageKind = "default"
	UsageNamespace UsageKind = "namespace"
	UsageReexport  UsageKind = "reexport"
)

// Usage is an import or re-export in another file that names a symbol.
type Usage struct {
	FilePath string
	Line     int
	Source   string
	Kind     UsageKind
}

// FindUsages lists the imports and re-exports in other files that resolve to
// the symbol's file and name the symbol, ordered by file then line.
func (e *Engine) FindUsages(id string) ([]Usage, error) {
	s := e.snap.Load()
	sym, ok := s.tree.Symbols[id]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	known := func(p string) bool {
		_, ok := s.tree.Files[p]
		return ok
	}
	topLevel := sym.Parent == ""
	var names []string
	if topLevel {
		names = exportNames(s.tree.Files[sym.FilePath], sym)
	}

	var usages []Usage
	for _, path := range s.tree.SortedPaths() {
		if path == sym.FilePath {
			continue
		}
		f := s.tree.Files[path]
		for _, imp := range f.Imports {
			to, ok := graph.Resolve(path, imp.Source, known)
			if !ok || to != sym.FilePath {
				continue
			}
			u := Usage{FilePath: path, Line: imp.Line, Source: imp.Source}
			switch {
			case containsAny(imp.Specifiers, names):
				u.Kind = UsageNamed
			case imp.DefaultImport != "" && sym.IsDefaultExport:
				u.Kind = UsageDefault
			case imp.NamespaceImport != "" && sym.IsExported && topLevel:
				u.Kind = UsageNamespace
			default:
				continue
			}
			usages = append(usages, u)
		}
		for _, ex := range f.Exports {
			if !ex.IsReexport || ex.Source == "" || !topLevel {
				continue
			}
			name := ex.LocalName
			if name == "" {
				name = ex.Name
			}
			if to, ok := graph.Resolve(path, ex.Source, known); ok && to == sym.FilePath && (name == sym.Name || name == "*") {
				usages = append(usages, Usage{FilePath: path, Line: ex.Line, Source: ex.Source, Kind: UsageReexport})
			}
		}
	}
	sort.SliceStable(usages, func(i, j int) bool {
		if usages[i].FilePath != usages[j].FilePath {
			return usages[i].FilePath < usages[j].FilePath
		}
		return usages[i].Line < usages[j].Line
	})
	return usages, nil
}

// Relation is the kind of link that reached a related symbol.
type Relation string

const (
	RelationSibling    Relation = "sibling"
	RelationParent     Relation = "parent"
	RelationChild      Relation = "child"
	RelationDependency Relation = "dependency"
)

// Per-hop score decay for each relation.
const (
	siblingDecay    = 0.9
	hierarchyDecay  = 0.95
	dependencyDecay = 0.7
)

// DefaultRelatedDepth bounds FindRelated when maxDepth is not positive.
const DefaultRelatedDepth = 2

// Related is a symbol reached from the query symbol.
type Related struct {
	Symbol   *model.CodeSymbol
	Score    float64
	Relation Relation
	Depth    int
}

// FindRelated walks breadth-first from the symbol over same-file siblings,
// parent and child links, and symbols named on import edges leaving its
// file. Each symbol is visited once; the score decays per hop.
func (e *Engine) FindRelated(id string, maxDepth int) ([]Related, error) {
	s := e.snap.Load()
	start, ok := s.tree.Symbols[id]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	if maxDepth <= 0 {
		maxDepth = DefaultRelatedDepth
	}

	type item struct {
		sym   *model.CodeSymbol
		score float64
		depth int
	}
	visited := map[string]bool{start.ID: true}
	queue := []item{{start, 1, 0}}
	var out []Related

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, n := range s.neighbours(cur.sym) {
			if visited[n.sym.ID] {
				continue
			}
			visited[n.sym.ID] = true
			score := cur.score * n.decay
			out = append(out, Related{Symbol: n.sym, Score: score, Relation: n.rel, Depth: cur.depth + 1})
			queue = append(queue, item{n.sym, score, cur.depth + 1})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Symbol.Name != out[j].Symbol.Name {
			return out[i].Symbol.Name < out[j].Symbol.Name
		}
		return out[i].Symbol.ID < out[j].Symbol.ID
	})
	return out, nil
}

type neighbour struct {
	sym   *model.CodeSymbol
	rel   Relation
	decay float64
}

// neighbours lists sym's links in a deterministic order: parent, children,
// siblings, then dependency symbols.
func (s *snapshot) neighbours(sym *model.CodeSymbol) []neighbour {
	var out []neighbour
	if p, ok := s.tree.Symbols[sym.Parent]; ok && sym.Parent != "" {
		out = append(out, neighbour{p, RelationParent, hierarchyDecay})
	}
	for _, c := range sym.Children {
		if cs, ok := s.tree.Symbols[c]; ok {
			out = append(out, neighbour{cs, RelationChild, hierarchyDecay})
		}
	}
	file, ok := s.tree.Files[sym.FilePath]
	if !ok {
		return out
	}
	for _, other := range file.SortedSymbols() {
		if other.ID != sym.ID && other.Parent == sym.Parent {
			out = append(out, neighbour{other, RelationSibling, siblingDecay})
		}
	}
	for _, edge := range s.tree.Dependencies {
		if edge.From != sym.FilePath {
			continue
		}
		target, ok := s.tree.Files[edge.To]
		if !ok {
			continue
		}
		for _, ts := range target.SortedSymbols() {
			if ts.Parent != "" {
				continue
			}
			names := exportNames(target, ts)
			for _, name := range edge.Symbols {
				if contains(names, name) || name == "default" && ts.IsDefaultExport {
					out = append(out, neighbour{ts, RelationDependency, dependencyDecay})
					break
				}
			}
		}
	}
	return out
}

// exportNames returns the names another file imports a top-level symbol by:
// its own name and every local export alias of it, such as Bar for
// export { Foo as Bar }.
func exportNames(file *model.FileNode, sym *model.CodeSymbol) []string {
	names := []string{sym.Name}
	if file == nil {
		return names
	}
	for _, ex := range file.Exports {
		if ex.IsReexport || ex.LocalName != sym.Name || contains(names, ex.Name) {
			continue
		}
		names = append(names, ex.Name)
	}
	return names
}

func containsAny(list, want []string) bool {
	for _, w := range want {
		if contains(list, w) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
