package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codetree/internal/model"
)

func extractPython(c *collector, root *sitter.Node) {
	pyBlock(c, root, nil)
	for _, s := range c.symbols {
		if s.Parent == "" && s.IsExported {
			c.exports = append(c.exports, model.ExportInfo{Name: s.Name, Line: s.StartLine})
		}
	}
}

// pyBlock extracts the statements of a module or class body.
func pyBlock(c *collector, block *sitter.Node, class *model.CodeSymbol) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		n := block.NamedChild(i)
		switch n.Type() {
		case "import_statement":
			if class == nil {
				pyImport(c, n)
			}
		case "import_from_statement":
			if class == nil {
				pyImportFrom(c, n)
			}
		case "class_definition", "function_definition":
			pyDefinition(c, n, n, nil, class)
		case "decorated_definition":
			def := n.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			var decorators []string
			for j := 0; j < int(n.NamedChildCount()); j++ {
				if d := n.NamedChild(j); d.Type() == "decorator" {
					decorators = append(decorators, strings.TrimSpace(c.text(d)))
				}
			}
			pyDefinition(c, def, n, decorators, class)
		case "expression_statement":
			if n.NamedChildCount() == 0 {
				continue
			}
			if a := n.NamedChild(0); a.Type() == "assignment" {
				pyAssignment(c, a, class)
			}
		}
	}
}

func pyDefinition(c *collector, def, outer *sitter.Node, decorators []string, class *model.CodeSymbol) {
	name := c.text(def.ChildByFieldName("name"))
	body := def.ChildByFieldName("body")

	kind := model.Function
	if def.Type() == "class_definition" {
		kind = model.Class
	} else if class != nil {
		kind = model.Method
	}

	s := c.add(outer, name, kind, class)
	if s == nil {
		return
	}
	s.Modifiers = append(s.Modifiers, decorators...)
	if hasChildType(def, "async") {
		s.Modifiers = append(s.Modifiers, "async")
	}
	s.IsExported = !strings.HasPrefix(name, "_") || (strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"))
	s.Signature = c.header(def, body)
	if body != nil {
		s.Doc = pyDocstring(c, body)
	}
	if s.Doc == "" {
		if comments := c.precedingComments(outer); len(comments) > 0 {
			s.Doc = cleanComment(strings.Join(comments, "\n"))
		}
	}

	if kind == model.Class && body != nil {
		pyBlock(c, body, s)
	}
}

func pyAssignment(c *collector, a *sitter.Node, class *model.CodeSymbol) {
	left := a.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := c.text(left)
	kind := model.Variable
	if class != nil {
		kind = model.Property
	}
	s := c.add(a, name, kind, class)
	if s == nil {
		return
	}
	s.IsExported = !strings.HasPrefix(name, "_")
	s.Signature = c.header(a, a.ChildByFieldName("right"))
	s.Signature = strings.TrimSpace(strings.TrimSuffix(s.Signature, "="))
}

// pyDocstring returns the leading string literal of a body block.
func pyDocstring(c *collector, body *sitter.Node) string {
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	doc := c.text(str)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(doc, q) && strings.HasSuffix(doc, q) && len(doc) >= 2*len(q) {
			doc = doc[len(q) : len(doc)-len(q)]
			break
		}
	}
	return cleanComment(doc)
}

func pyImport(c *collector, n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) != "name" {
			continue
		}
		ch := n.Child(i)
		imp := model.ImportInfo{Line: line(n)}
		switch ch.Type() {
		case "dotted_name":
			imp.Source = c.text(ch)
			imp.NamespaceImport = imp.Source
		case "aliased_import":
			imp.Source = c.text(ch.ChildByFieldName("name"))
			imp.NamespaceImport = c.text(ch.ChildByFieldName("alias"))
		default:
			continue
		}
		c.imports = append(c.imports, imp)
	}
}

func pyImportFrom(c *collector, n *sitter.Node) {
	mod := n.ChildByFieldName("module_name")
	if mod == nil {
		return
	}
	imp := model.ImportInfo{Source: pyModuleSource(c.text(mod)), Line: line(n)}
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		if ch.Type() == "wildcard_import" {
			imp.NamespaceImport = "*"
			continue
		}
		if n.FieldNameForChild(i) != "name" {
			continue
		}
		switch ch.Type() {
		case "dotted_name":
			imp.Specifiers = append(imp.Specifiers, c.text(ch))
		case "aliased_import":
			imp.Specifiers = append(imp.Specifiers, c.text(ch.ChildByFieldName("name")))
		}
	}
	c.imports = append(c.imports, imp)
}

// pyModuleSource turns a Python module reference into a path-like specifier:
// relative modules become "./x" or "../x" so the resolver can follow them.
func pyModuleSource(mod string) string {
	dots := len(mod) - len(strings.TrimLeft(mod, "."))
	if dots == 0 {
		return mod
	}
	rest := strings.ReplaceAll(mod[dots:], ".", "/")
	prefix := "."
	if dots > 1 {
		prefix = strings.TrimSuffix(strings.Repeat("../", dots-1), "/")
	}
	if rest == "" {
		return prefix
	}
	return prefix + "/" + rest
}
