package picker

import (
	"github.com/phobologic/codetree/internal/model"
)

const (
	dependencyScore = 0.8
	dependentScore  = 0.7
	twoHopScore     = 0.4
)

// RelatedFiles ranks the files around path in the dependency graph: files
// it imports, files importing it, and files two hops away in either
// direction.
func (p *Picker) RelatedFiles(path string, maxFiles int) ([]FileResult, error) {
	tree := p.engine.Tree()
	path = cleanPath(tree.RootPath, path)
	node, ok := tree.Files[path]
	if !ok {
		return nil, ErrUnknownFile
	}

	var results []FileResult
	seen := map[string]bool{path: true}
	add := func(other string, score float64, reason string) {
		if seen[other] {
			return
		}
		seen[other] = true
		results = append(results, FileResult{Path: other, Score: score, Reasons: []string{reason}})
	}

	deps := model.SortedSet(node.Dependencies)
	dependents := model.SortedSet(node.Dependents)
	for _, d := range deps {
		add(d, dependencyScore, "imported by "+path)
	}
	for _, d := range dependents {
		add(d, dependentScore, "imports "+path)
	}
	for _, hop := range append(deps, dependents...) {
		n := tree.Files[hop]
		if n == nil {
			continue
		}
		for _, d := range model.SortedSet(n.Dependencies) {
			add(d, twoHopScore, "two hops via "+hop)
		}
		for _, d := range model.SortedSet(n.Dependents) {
			add(d, twoHopScore, "two hops via "+hop)
		}
	}
	return finish(results, maxFiles), nil
}
