// Package cache persists a code tree as a flat document: maps become ordered
// key/value lists and sets become sorted arrays. Anything that does not
// decode into a structurally valid tree is rejected as malformed.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phobologic/codetree/internal/model"
)

// Version is bumped whenever the document shape changes.
const Version = 1

var (
	// ErrNotFound means no cache exists yet.
	ErrNotFound = errors.New("cache not found")
	// ErrMalformed means a cache exists but cannot be trusted.
	ErrMalformed = errors.New("malformed cache")
)

// Document is the serialized form of a model.CodeTree. Pointer fields are
// required: a document missing any of them is malformed.
type Document struct {
	Version      *int                    `json:"version"`
	Files        *[]FileEntry            `json:"files"`
	Symbols      *[]SymbolEntry          `json:"symbols"`
	Dependencies *[]model.DependencyEdge `json:"dependencies"`
	RootPath     *string                 `json:"rootPath"`
	LastFullScan *time.Time              `json:"lastFullScan"`
}

// FileEntry is one key/value pair of the files map.
type FileEntry struct {
	Key   string  `json:"key"`
	Value FileDoc `json:"value"`
}

// SymbolEntry is one key/value pair of the symbols map.
type SymbolEntry struct {
	Key   string           `json:"key"`
	Value model.CodeSymbol `json:"value"`
}

// FileDoc is a serialized model.FileNode. Symbols lists ids resolved through
// the document's symbols list.
type FileDoc struct {
	Path         string             `json:"path"`
	Symbols      []string           `json:"symbols"`
	Imports      []model.ImportInfo `json:"imports"`
	Exports      []model.ExportInfo `json:"exports"`
	Dependencies []string           `json:"dependencies"`
	Dependents   []string           `json:"dependents"`
	LastModified time.Time          `json:"lastModified"`
	Language     string             `json:"language"`
	Size         int64              `json:"size"`
}

// Encode flattens tree into a Document with deterministic ordering.
func Encode(tree *model.CodeTree) *Document {
	version := Version
	root := tree.RootPath
	scan := tree.LastFullScan
	files := make([]FileEntry, 0, len(tree.Files))
	symbols := make([]SymbolEntry, 0, len(tree.Symbols))

	for _, p := range tree.SortedPaths() {
		f := tree.Files[p]
		doc := FileDoc{
			Path:         f.Path,
			Symbols:      make([]string, 0, len(f.Symbols)),
			Imports:      f.Imports,
			Exports:      f.Exports,
			Dependencies: model.SortedSet(f.Dependencies),
			Dependents:   model.SortedSet(f.Dependents),
			LastModified: f.LastModified,
			Language:     f.Language,
			Size:         f.Size,
		}
		for _, s := range f.SortedSymbols() {
			doc.Symbols = append(doc.Symbols, s.ID)
			symbols = append(symbols, SymbolEntry{Key: s.ID, Value: *s})
		}
		files = append(files, FileEntry{Key: p, Value: doc})
	}

	deps := append([]model.DependencyEdge{}, tree.Dependencies...)
	return &Document{
		Version:      &version,
		Files:        &files,
		Symbols:      &symbols,
		Dependencies: &deps,
		RootPath:     &root,
		LastFullScan: &scan,
	}
}

// Marshal encodes tree as JSON.
func Marshal(tree *model.CodeTree) ([]byte, error) {
	data, err := json.Marshal(Encode(tree))
	if err != nil {
		return nil, fmt.Errorf("encoding cache: %w", err)
	}
	return data, nil
}

// Unmarshal decodes JSON produced by Marshal. If root is non-empty the
// document must have been written for that root.
func Unmarshal(data []byte, root string) (*model.CodeTree, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decode(&doc, root)
}

// Decode rebuilds a live tree from doc, validating its shape and every tree
// invariant. Any failure wraps ErrMalformed; no partial tree is returned.
func Decode(doc *Document, root string) (*model.CodeTree, error) {
	switch {
	case doc.Version == nil, doc.Files == nil, doc.Symbols == nil,
		doc.Dependencies == nil, doc.RootPath == nil, doc.LastFullScan == nil:
		return nil, fmt.Errorf("%w: missing required field", ErrMalformed)
	case *doc.Version != Version:
		return nil, fmt.Errorf("%w: version %d, want %d", ErrMalformed, *doc.Version, Version)
	case root != "" && *doc.RootPath != root:
		return nil, fmt.Errorf("%w: written for root %q", ErrMalformed, *doc.RootPath)
	}

	tree := model.NewCodeTree(*doc.RootPath)
	tree.LastFullScan = *doc.LastFullScan

	symbols := make(map[string]*model.CodeSymbol, len(*doc.Symbols))
	for i := range *doc.Symbols {
		e := &(*doc.Symbols)[i]
		if e.Key != e.Value.ID {
			return nil, fmt.Errorf("%w: symbol key %q has id %q", ErrMalformed, e.Key, e.Value.ID)
		}
		if _, dup := symbols[e.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %q", ErrMalformed, e.Key)
		}
		s := e.Value
		symbols[e.Key] = &s
	}

	for _, e := range *doc.Files {
		d := e.Value
		if e.Key != d.Path {
			return nil, fmt.Errorf("%w: file key %q has path %q", ErrMalformed, e.Key, d.Path)
		}
		if _, dup := tree.Files[d.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate file %q", ErrMalformed, d.Path)
		}
		node := model.NewFileNode(d.Path)
		node.Imports = d.Imports
		node.Exports = d.Exports
		node.LastModified = d.LastModified
		node.Language = d.Language
		node.Size = d.Size
		for _, id := range d.Symbols {
			s, ok := symbols[id]
			if !ok {
				return nil, fmt.Errorf("%w: file %q references unknown symbol %q", ErrMalformed, d.Path, id)
			}
			node.Symbols[id] = s
		}
		for _, p := range d.Dependencies {
			node.Dependencies[p] = struct{}{}
		}
		for _, p := range d.Dependents {
			node.Dependents[p] = struct{}{}
		}
		tree.AddFile(node)
	}
	if len(tree.Symbols) != len(symbols) {
		return nil, fmt.Errorf("%w: %d symbols not owned by any file", ErrMalformed, len(symbols)-len(tree.Symbols))
	}
	tree.Dependencies = append(tree.Dependencies, *doc.Dependencies...)

	if err := tree.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tree, nil
}
