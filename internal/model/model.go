// Package model defines the code tree: files, symbols, imports, exports and
// the dependency edges between files.
package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
)

// SymbolKind indicates the syntactic kind of a symbol.
type SymbolKind string

const (
	Class     SymbolKind = "class"
	Interface SymbolKind = "interface"
	TypeAlias SymbolKind = "type"
	Enum      SymbolKind = "enum"
	Function  SymbolKind = "function"
	Method    SymbolKind = "method"
	Property  SymbolKind = "property"
	Variable  SymbolKind = "variable"
)

// Kinds lists every symbol kind in a stable order.
var Kinds = []SymbolKind{Class, Interface, TypeAlias, Enum, Function, Method, Property, Variable}

// ParseKind returns the SymbolKind named s, or false if s is not a kind.
func ParseKind(s string) (SymbolKind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// EdgeType classifies a dependency edge. Only ImportEdge is produced today.
type EdgeType string

const (
	ImportEdge         EdgeType = "import"
	ExportEdge         EdgeType = "export"
	InheritanceEdge    EdgeType = "inheritance"
	ImplementationEdge EdgeType = "implementation"
)

// CodeSymbol is one named declaration. Parent and Children are symbol ids
// resolved through CodeTree.Symbols, never pointers.
type CodeSymbol struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Kind            SymbolKind `json:"kind"`
	FilePath        string     `json:"filePath"`
	StartLine       int        `json:"startLine"`
	StartColumn     int        `json:"startColumn"`
	EndLine         int        `json:"endLine"`
	EndColumn       int        `json:"endColumn"`
	Parent          string     `json:"parent,omitempty"`
	Children        []string   `json:"children,omitempty"`
	Modifiers       []string   `json:"modifiers,omitempty"`
	Doc             string     `json:"doc,omitempty"`
	Signature       string     `json:"signature,omitempty"`
	IsExported      bool       `json:"isExported"`
	IsDefaultExport bool       `json:"isDefaultExport"`
}

// HasModifier reports whether the symbol carries modifier m.
func (s *CodeSymbol) HasModifier(m string) bool {
	for _, v := range s.Modifiers {
		if v == m {
			return true
		}
	}
	return false
}

// ImportInfo is one import statement. Specifiers hold the imported names as
// declared by the source module, not local aliases.
type ImportInfo struct {
	Source          string   `json:"source"`
	Specifiers      []string `json:"specifiers,omitempty"`
	DefaultImport   string   `json:"defaultImport,omitempty"`
	NamespaceImport string   `json:"namespaceImport,omitempty"`
	Line            int      `json:"line"`
	IsTypeOnly      bool     `json:"isTypeOnly"`
}

// ExportInfo is one export declaration or re-export.
type ExportInfo struct {
	Name       string `json:"name"`
	LocalName  string `json:"localName,omitempty"`
	IsDefault  bool   `json:"isDefault"`
	IsReexport bool   `json:"isReexport"`
	Source     string `json:"source,omitempty"`
	Line       int    `json:"line"`
}

// DependencyEdge is a directed edge: From imports Symbols from To.
type DependencyEdge struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Type    EdgeType `json:"type"`
	Symbols []string `json:"symbols"`
}

// FileNode is one source file. Symbols holds only the symbols declared in it.
type FileNode struct {
	Path         string
	Symbols      map[string]*CodeSymbol
	Imports      []ImportInfo
	Exports      []ExportInfo
	Dependencies map[string]struct{}
	Dependents   map[string]struct{}
	LastModified time.Time
	Language     string
	Size         int64
}

// NewFileNode returns an empty node for path with all maps allocated.
func NewFileNode(path string) *FileNode {
	return &FileNode{
		Path:         path,
		Symbols:      make(map[string]*CodeSymbol),
		Dependencies: make(map[string]struct{}),
		Dependents:   make(map[string]struct{}),
	}
}

// SortedSymbols returns the file's symbols ordered by position.
func (f *FileNode) SortedSymbols() []*CodeSymbol {
	out := make([]*CodeSymbol, 0, len(f.Symbols))
	for _, s := range f.Symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		if out[i].StartColumn != out[j].StartColumn {
			return out[i].StartColumn < out[j].StartColumn
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CodeTree is the whole index.
type CodeTree struct {
	Files        map[string]*FileNode
	Symbols      map[string]*CodeSymbol
	Dependencies []DependencyEdge
	RootPath     string
	LastFullScan time.Time
}

// NewCodeTree returns an empty tree rooted at root.
func NewCodeTree(root string) *CodeTree {
	return &CodeTree{
		Files:        make(map[string]*FileNode),
		Symbols:      make(map[string]*CodeSymbol),
		Dependencies: []DependencyEdge{},
		RootPath:     root,
	}
}

// SymbolID derives the stable id of a symbol from its file, name and start position.
func SymbolID(filePath, name string, line, column int) string {
	key := fmt.Sprintf("%s\x00%s\x00%d:%d", filePath, name, line, column)
	return fmt.Sprintf("%016x", xxh3.HashString(key))
}

// AddFile inserts node and its symbols. An existing node at the same path is
// removed first so no stale symbols survive.
func (t *CodeTree) AddFile(node *FileNode) {
	if _, ok := t.Files[node.Path]; ok {
		t.RemoveFile(node.Path)
	}
	t.Files[node.Path] = node
	for id, sym := range node.Symbols {
		t.Symbols[id] = sym
	}
}

// RemoveFile deletes the node at path, its symbols from the global map, and
// every reference to path in other nodes' dependency sets. Edges touching the
// file are dropped; callers rebuild the edge list afterwards.
func (t *CodeTree) RemoveFile(path string) bool {
	node, ok := t.Files[path]
	if !ok {
		return false
	}
	for id := range node.Symbols {
		delete(t.Symbols, id)
	}
	delete(t.Files, path)
	for _, other := range t.Files {
		delete(other.Dependencies, path)
		delete(other.Dependents, path)
	}
	kept := t.Dependencies[:0]
	for _, e := range t.Dependencies {
		if e.From != path && e.To != path {
			kept = append(kept, e)
		}
	}
	t.Dependencies = kept
	return true
}

// SortedPaths returns all file paths in lexical order.
func (t *CodeTree) SortedPaths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy of the tree.
func (t *CodeTree) Clone() *CodeTree {
	c := &CodeTree{
		Files:        make(map[string]*FileNode, len(t.Files)),
		Symbols:      make(map[string]*CodeSymbol, len(t.Symbols)),
		Dependencies: make([]DependencyEdge, len(t.Dependencies)),
		RootPath:     t.RootPath,
		LastFullScan: t.LastFullScan,
	}
	for path, f := range t.Files {
		nf := &FileNode{
			Path:         f.Path,
			Symbols:      make(map[string]*CodeSymbol, len(f.Symbols)),
			Imports:      cloneImports(f.Imports),
			Exports:      append([]ExportInfo(nil), f.Exports...),
			Dependencies: cloneSet(f.Dependencies),
			Dependents:   cloneSet(f.Dependents),
			LastModified: f.LastModified,
			Language:     f.Language,
			Size:         f.Size,
		}
		for id, s := range f.Symbols {
			cp := *s
			cp.Children = append([]string(nil), s.Children...)
			cp.Modifiers = append([]string(nil), s.Modifiers...)
			nf.Symbols[id] = &cp
			c.Symbols[id] = &cp
		}
		c.Files[path] = nf
	}
	for i, e := range t.Dependencies {
		e.Symbols = append([]string(nil), e.Symbols...)
		c.Dependencies[i] = e
	}
	return c
}

func cloneImports(in []ImportInfo) []ImportInfo {
	if in == nil {
		return nil
	}
	out := make([]ImportInfo, len(in))
	for i, imp := range in {
		imp.Specifiers = append([]string(nil), imp.Specifiers...)
		out[i] = imp
	}
	return out
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// SortedSet returns the members of a string set in lexical order.
func SortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
