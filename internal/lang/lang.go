// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars.
package lang

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Family groups languages that share an extractor.
type Family string

const (
	FamilyECMAScript Family = "ecmascript"
	FamilyGo         Family = "go"
	FamilyPython     Family = "python"
)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Family     Family
	Extensions []string
	lang       *sitter.Language
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// ForPath returns the language registered for the file at p, or nil.
func ForPath(p string) *Language {
	name := ForExtension(path.Ext(p))
	if name == "" {
		return nil
	}
	return Languages[name]
}

// Extensions returns every registered extension, sorted.
func Extensions() []string {
	m := getExtensionMap()
	out := make([]string, 0, len(m))
	for ext := range m {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
