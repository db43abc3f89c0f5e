// Package parse extracts symbols, imports and exports from source files using
// tree-sitter.
package parse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codetree/internal/lang"
	"github.com/phobologic/codetree/internal/model"
)

// ErrUnsupported is returned for files with no registered language.
var ErrUnsupported = errors.New("unsupported language")

const maxSignatureLen = 200

// Result is everything extracted from one file. Symbols carry their
// Parent/Children links already set.
type Result struct {
	Language string
	Symbols  []*model.CodeSymbol
	Imports  []model.ImportInfo
	Exports  []model.ExportInfo
}

// Extractor turns source files into Results. It keeps a parser pool per
// language and is safe for concurrent use.
type Extractor struct {
	mu    sync.Mutex
	pools map[string]*sync.Pool
}

// NewExtractor returns an Extractor for every language in lang.Languages.
func NewExtractor() *Extractor {
	return &Extractor{pools: make(map[string]*sync.Pool)}
}

func (e *Extractor) pool(l *lang.Language) *sync.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[l.Name]
	if !ok {
		p = &sync.Pool{New: func() any { return l.NewParser() }}
		e.pools[l.Name] = p
	}
	return p
}

// Extract parses source as the file at filePath (repo-relative, slash
// separated) and returns its symbols, imports and exports.
func (e *Extractor) Extract(ctx context.Context, filePath string, source []byte) (*Result, error) {
	l := lang.ForPath(filePath)
	if l == nil {
		return nil, fmt.Errorf("%s: %w", filePath, ErrUnsupported)
	}

	pool := e.pool(l)
	parser := pool.Get().(*sitter.Parser)
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	defer tree.Close()

	c := newCollector(filePath, source)
	root := tree.RootNode()
	switch l.Family {
	case lang.FamilyECMAScript:
		extractECMAScript(c, root)
	case lang.FamilyGo:
		extractGo(c, root)
	case lang.FamilyPython:
		extractPython(c, root)
	}

	return &Result{
		Language: l.Name,
		Symbols:  c.symbols,
		Imports:  c.imports,
		Exports:  c.exports,
	}, nil
}

// collector accumulates extraction output for one file.
type collector struct {
	path    string
	src     []byte
	symbols []*model.CodeSymbol
	seen    map[string]struct{}
	imports []model.ImportInfo
	exports []model.ExportInfo
}

func newCollector(path string, src []byte) *collector {
	return &collector{path: path, src: src, seen: make(map[string]struct{})}
}

func (c *collector) text(n *sitter.Node) string {
	return lang.NodeText(n, c.src)
}

// flat returns the source of n with whitespace collapsed.
func (c *collector) flat(n *sitter.Node) string {
	return lang.CollapseWhitespace(c.text(n))
}

// add records a symbol declared by node n. Duplicate positions are dropped.
func (c *collector) add(n *sitter.Node, name string, kind model.SymbolKind, parent *model.CodeSymbol) *model.CodeSymbol {
	if name == "" {
		return nil
	}
	start, end := n.StartPoint(), n.EndPoint()
	line, col := int(start.Row)+1, int(start.Column)
	id := model.SymbolID(c.path, name, line, col)
	if _, dup := c.seen[id]; dup {
		return nil
	}
	c.seen[id] = struct{}{}

	s := &model.CodeSymbol{
		ID:          id,
		Name:        name,
		Kind:        kind,
		FilePath:    c.path,
		StartLine:   line,
		StartColumn: col,
		EndLine:     int(end.Row) + 1,
		EndColumn:   int(end.Column),
	}
	if parent != nil {
		s.Parent = parent.ID
		parent.Children = append(parent.Children, id)
	}
	c.symbols = append(c.symbols, s)
	return s
}

// topLevelNamed returns the parentless symbols named name.
func (c *collector) topLevelNamed(name string) []*model.CodeSymbol {
	var out []*model.CodeSymbol
	for _, s := range c.symbols {
		if s.Parent == "" && s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// header returns the collapsed source of n up to (excluding) body, trimmed of
// trailing punctuation and capped in length.
func (c *collector) header(n, body *sitter.Node) string {
	end := n.EndByte()
	if body != nil && body.StartByte() > n.StartByte() {
		end = body.StartByte()
	}
	s := lang.CollapseWhitespace(string(c.src[n.StartByte():end]))
	for {
		trimmed := strings.TrimSpace(strings.TrimRight(s, ";{:"))
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "=>"))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return truncate(s, maxSignatureLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func hasChildType(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func firstChildOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		for _, t := range types {
			if ch.Type() == t {
				return ch
			}
		}
	}
	return nil
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// precedingComments returns the text of comment nodes directly above n with
// no blank line in between, oldest first.
func (c *collector) precedingComments(n *sitter.Node) []string {
	var out []string
	next := n
	for prev := n.PrevSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevSibling() {
		if next.StartPoint().Row > prev.EndPoint().Row+1 {
			break
		}
		out = append([]string{c.text(prev)}, out...)
		next = prev
	}
	return out
}

// cleanComment strips comment markers and leading asterisks.
func cleanComment(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "/**")
	raw = strings.TrimPrefix(raw, "/*")
	raw = strings.TrimSuffix(raw, "*/")
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "//")
		l = strings.TrimPrefix(l, "#")
		l = strings.TrimPrefix(l, "*")
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
