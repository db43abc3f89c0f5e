// Package ranking selects and filters repository maps and assigns
// confidence bands to relevance scores.
package ranking

import (
	"strings"

	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/model"
)

// Confidence is the coarse band of a relevance score.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Band maps a score in [0,1] to its confidence band.
func Band(score float64) Confidence {
	switch {
	case score >= 0.7:
		return High
	case score >= 0.4:
		return Medium
	default:
		return Low
	}
}

// MapFile is one file of a repository map with its symbols in source order.
type MapFile struct {
	Path     string
	Language string
	Rank     float64
	Symbols  []*model.CodeSymbol
}

// TopLevel returns the file's symbols without an enclosing symbol.
func (f *MapFile) TopLevel() []*model.CodeSymbol {
	var out []*model.CodeSymbol
	for _, s := range f.Symbols {
		if s.Parent == "" {
			out = append(out, s)
		}
	}
	return out
}

// RepoMap is a ranked view of a code tree for display.
type RepoMap struct {
	RepoName     string
	Root         string
	Files        []MapFile
	Dependencies []model.DependencyEdge
	Members      []*model.CodeSymbol
}

// BuildMap ranks the tree's files by PageRank, highest first.
func BuildMap(tree *model.CodeTree, repoName string) *RepoMap {
	ranks := graph.Rank(tree)
	rm := &RepoMap{
		RepoName:     repoName,
		Root:         tree.RootPath,
		Files:        make([]MapFile, 0, len(ranks)),
		Dependencies: append([]model.DependencyEdge(nil), tree.Dependencies...),
	}
	for _, r := range ranks {
		f := tree.Files[r.Path]
		rm.Files = append(rm.Files, MapFile{
			Path:     r.Path,
			Language: f.Language,
			Rank:     r.Rank,
			Symbols:  f.SortedSymbols(),
		})
	}
	return rm
}

// SelectFiles returns a new RepoMap with only the top-ranked files.
// If maxFiles is <= 0 or >= len(files), rm itself is returned.
func SelectFiles(rm *RepoMap, maxFiles int) *RepoMap {
	if maxFiles <= 0 || maxFiles >= len(rm.Files) {
		return rm
	}

	selected := rm.Files[:maxFiles]
	selectedPaths := make(map[string]struct{}, maxFiles)
	for i := range selected {
		selectedPaths[selected[i].Path] = struct{}{}
	}

	var deps []model.DependencyEdge
	for i := range rm.Dependencies {
		d := &rm.Dependencies[i]
		_, srcOK := selectedPaths[d.From]
		_, tgtOK := selectedPaths[d.To]
		if srcOK && tgtOK {
			deps = append(deps, *d)
		}
	}

	return &RepoMap{
		RepoName:     rm.RepoName,
		Root:         rm.Root,
		Files:        selected,
		Dependencies: deps,
	}
}

// FilterBySymbol returns a new RepoMap containing only top-level symbols
// whose name contains substr (case-insensitive), the files that declare
// them, the files exchanging those names over an import edge, and the edges
// touching the declaring files.
//
// When withMembers is true the members of every matched symbol are listed
// in Members. If no top-level symbol matches, withMembers falls back to
// matching member names and reports the owning symbols.
func FilterBySymbol(rm *RepoMap, substr string, withMembers bool) *RepoMap {
	lower := strings.ToLower(substr)
	contains := func(name string) bool { return strings.Contains(strings.ToLower(name), lower) }

	matchedNames := make(map[string]struct{})
	matchedIDs := make(map[string]struct{})
	matchedFiles := make(map[string]struct{})
	var fallback []*model.CodeSymbol
	for i := range rm.Files {
		for _, s := range rm.Files[i].Symbols {
			if s.Parent == "" && contains(s.Name) {
				matchedNames[s.Name] = struct{}{}
				matchedIDs[s.ID] = struct{}{}
				matchedFiles[rm.Files[i].Path] = struct{}{}
			} else if s.Parent != "" && contains(s.Name) {
				fallback = append(fallback, s)
			}
		}
	}

	if withMembers && len(matchedIDs) == 0 {
		for _, m := range fallback {
			matchedIDs[m.Parent] = struct{}{}
			matchedFiles[m.FilePath] = struct{}{}
		}
		for i := range rm.Files {
			for _, s := range rm.Files[i].Symbols {
				if _, ok := matchedIDs[s.ID]; ok {
					matchedNames[s.Name] = struct{}{}
				}
			}
		}
	}

	// Files importing or re-exporting a matched name are related.
	related := make(map[string]struct{})
	for i := range rm.Dependencies {
		d := &rm.Dependencies[i]
		if _, ok := matchedFiles[d.To]; !ok {
			continue
		}
		for _, name := range d.Symbols {
			if _, ok := matchedNames[name]; ok {
				related[d.From] = struct{}{}
				break
			}
		}
	}

	var files []MapFile
	for i := range rm.Files {
		f := rm.Files[i]
		_, isMatched := matchedFiles[f.Path]
		_, isRelated := related[f.Path]
		if !isMatched && !isRelated {
			continue
		}
		var syms []*model.CodeSymbol
		for _, s := range f.Symbols {
			if _, ok := matchedIDs[s.ID]; ok {
				syms = append(syms, s)
			}
		}
		f.Symbols = syms
		files = append(files, f)
	}

	var members []*model.CodeSymbol
	if withMembers {
		for i := range rm.Files {
			for _, s := range rm.Files[i].Symbols {
				if _, ok := matchedIDs[s.Parent]; ok && s.Parent != "" {
					members = append(members, s)
				}
			}
		}
	}

	var deps []model.DependencyEdge
	for i := range rm.Dependencies {
		d := &rm.Dependencies[i]
		_, srcOK := matchedFiles[d.From]
		_, tgtOK := matchedFiles[d.To]
		if srcOK || tgtOK {
			deps = append(deps, *d)
		}
	}

	return &RepoMap{
		RepoName:     rm.RepoName,
		Root:         rm.Root,
		Files:        files,
		Dependencies: deps,
		Members:      members,
	}
}

// FilterByFile returns a new RepoMap containing only files whose path
// contains substr (case-insensitive), with all dependency edges touching
// those files.
func FilterByFile(rm *RepoMap, substr string) *RepoMap {
	lower := strings.ToLower(substr)

	matchedFiles := make(map[string]struct{})
	var files []MapFile
	for i := range rm.Files {
		if strings.Contains(strings.ToLower(rm.Files[i].Path), lower) {
			matchedFiles[rm.Files[i].Path] = struct{}{}
			files = append(files, rm.Files[i])
		}
	}

	var deps []model.DependencyEdge
	for i := range rm.Dependencies {
		d := &rm.Dependencies[i]
		_, srcOK := matchedFiles[d.From]
		_, tgtOK := matchedFiles[d.To]
		if srcOK || tgtOK {
			deps = append(deps, *d)
		}
	}

	return &RepoMap{
		RepoName:     rm.RepoName,
		Root:         rm.Root,
		Files:        files,
		Dependencies: deps,
	}
}
