package model

import "fmt"

// Check verifies the structural invariants of the tree: the global symbol map
// is exactly the union of the per-file maps, parent/children links agree,
// dependency sets are mutual and only name files in the tree, and every edge
// connects two known files and is mirrored in the sets.
func (t *CodeTree) Check() error {
	count := 0
	for path, f := range t.Files {
		if f.Path != path {
			return fmt.Errorf("file %s: node path %q does not match key", path, f.Path)
		}
		for id, s := range f.Symbols {
			count++
			if s.ID != id {
				return fmt.Errorf("file %s: symbol key %s has id %s", path, id, s.ID)
			}
			if s.FilePath != path {
				return fmt.Errorf("symbol %s: file %q, declared in %q", id, s.FilePath, path)
			}
			g, ok := t.Symbols[id]
			if !ok {
				return fmt.Errorf("symbol %s (%s) missing from global map", id, s.Name)
			}
			if g != s {
				return fmt.Errorf("symbol %s: global entry differs from file entry", id)
			}
		}
		for dep := range f.Dependencies {
			other, ok := t.Files[dep]
			if !ok {
				return fmt.Errorf("file %s depends on unknown file %s", path, dep)
			}
			if _, ok := other.Dependents[path]; !ok {
				return fmt.Errorf("file %s depends on %s but is not among its dependents", path, dep)
			}
		}
		for dep := range f.Dependents {
			other, ok := t.Files[dep]
			if !ok {
				return fmt.Errorf("file %s has unknown dependent %s", path, dep)
			}
			if _, ok := other.Dependencies[path]; !ok {
				return fmt.Errorf("file %s lists dependent %s which does not depend on it", path, dep)
			}
		}
	}
	if count != len(t.Symbols) {
		return fmt.Errorf("global symbol map has %d entries, files declare %d", len(t.Symbols), count)
	}

	for id, s := range t.Symbols {
		if s.Parent != "" {
			p, ok := t.Symbols[s.Parent]
			if !ok {
				return fmt.Errorf("symbol %s: parent %s not in tree", id, s.Parent)
			}
			if !containsString(p.Children, id) {
				return fmt.Errorf("symbol %s: parent %s does not list it as a child", id, s.Parent)
			}
		}
		for _, c := range s.Children {
			child, ok := t.Symbols[c]
			if !ok {
				return fmt.Errorf("symbol %s: child %s not in tree", id, c)
			}
			if child.Parent != id {
				return fmt.Errorf("symbol %s: child %s has parent %q", id, c, child.Parent)
			}
		}
	}

	for _, e := range t.Dependencies {
		from, ok := t.Files[e.From]
		if !ok {
			return fmt.Errorf("edge %s -> %s: unknown source", e.From, e.To)
		}
		if _, ok := t.Files[e.To]; !ok {
			return fmt.Errorf("edge %s -> %s: unknown target", e.From, e.To)
		}
		if _, ok := from.Dependencies[e.To]; !ok {
			return fmt.Errorf("edge %s -> %s: not recorded in dependencies", e.From, e.To)
		}
	}
	return nil
}

func containsString(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
