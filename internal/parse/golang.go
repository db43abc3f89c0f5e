package parse

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codetree/internal/model"
)

func extractGo(c *collector, root *sitter.Node) {
	var methods []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_declaration":
			goImports(c, n)
		case "function_declaration":
			s := c.add(n, c.text(n.ChildByFieldName("name")), model.Function, nil)
			goFinish(c, s, n, n, n.ChildByFieldName("body"))
		case "method_declaration":
			// Receivers may be declared after their methods.
			methods = append(methods, n)
		case "type_declaration":
			for j := 0; j < int(n.NamedChildCount()); j++ {
				spec := n.NamedChild(j)
				if spec.Type() == "type_spec" || spec.Type() == "type_alias" {
					goTypeSpec(c, spec, n)
				}
			}
		case "const_declaration", "var_declaration":
			goValueSpecs(c, n, n)
		}
	}

	for _, n := range methods {
		var parent *model.CodeSymbol
		if recv := goReceiverType(c, n.ChildByFieldName("receiver")); recv != "" {
			if owners := c.topLevelNamed(recv); len(owners) > 0 {
				parent = owners[0]
			}
		}
		s := c.add(n, c.text(n.ChildByFieldName("name")), model.Method, parent)
		goFinish(c, s, n, n, n.ChildByFieldName("body"))
	}

	for _, s := range c.symbols {
		if s.Parent == "" && s.IsExported {
			c.exports = append(c.exports, model.ExportInfo{Name: s.Name, Line: s.StartLine})
		}
	}
}

func goImports(c *collector, decl *sitter.Node) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			ch := n.NamedChild(i)
			switch ch.Type() {
			case "import_spec":
				p := ch.ChildByFieldName("path")
				if p == nil {
					continue
				}
				source := unquote(c.text(p))
				imp := model.ImportInfo{Source: source, NamespaceImport: path.Base(source), Line: line(ch)}
				if alias := ch.ChildByFieldName("name"); alias != nil {
					imp.NamespaceImport = c.text(alias)
				}
				c.imports = append(c.imports, imp)
			case "import_spec_list":
				walk(ch)
			}
		}
	}
	walk(decl)
}

func goTypeSpec(c *collector, spec, decl *sitter.Node) {
	typ := spec.ChildByFieldName("type")
	kind := model.TypeAlias
	var body *sitter.Node
	if typ != nil {
		switch typ.Type() {
		case "struct_type":
			kind = model.Class
			body = firstChildOfType(typ, "field_declaration_list")
		case "interface_type":
			kind = model.Interface
			body = typ
		}
	}

	s := c.add(spec, c.text(spec.ChildByFieldName("name")), kind, nil)
	if s == nil {
		return
	}
	sigEnd := body
	if kind == model.Interface {
		sigEnd = nil
		if typ != nil && typ.ChildCount() > 1 {
			sigEnd = typ.Child(1)
		}
	}
	goFinish(c, s, spec, decl, sigEnd)
	if body == nil {
		return
	}

	switch kind {
	case model.Class:
		for i := 0; i < int(body.NamedChildCount()); i++ {
			f := body.NamedChild(i)
			if f.Type() != "field_declaration" {
				continue
			}
			for j := 0; j < int(f.ChildCount()); j++ {
				if f.FieldNameForChild(j) != "name" {
					continue
				}
				nameNode := f.Child(j)
				if p := c.add(nameNode, c.text(nameNode), model.Property, s); p != nil {
					p.IsExported = goExported(p.Name)
					p.Signature = truncate(c.flat(f), maxSignatureLen)
					p.Doc = goDoc(c, f)
				}
			}
		}
	case model.Interface:
		goInterfaceMethods(c, body, s)
	}
}

func goInterfaceMethods(c *collector, n *sitter.Node, parent *model.CodeSymbol) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		m := n.NamedChild(i)
		switch m.Type() {
		case "method_elem", "method_spec":
			if s := c.add(m, c.text(m.ChildByFieldName("name")), model.Method, parent); s != nil {
				s.IsExported = goExported(s.Name)
				s.Signature = truncate(c.flat(m), maxSignatureLen)
				s.Doc = goDoc(c, m)
			}
		case "method_spec_list":
			goInterfaceMethods(c, m, parent)
		}
	}
}

func goValueSpecs(c *collector, n, decl *sitter.Node) {
	keyword := ""
	if n.ChildCount() > 0 {
		keyword = n.Child(0).Type()
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		spec := n.NamedChild(i)
		switch spec.Type() {
		case "const_spec", "var_spec":
			for j := 0; j < int(spec.ChildCount()); j++ {
				if spec.FieldNameForChild(j) != "name" {
					continue
				}
				nameNode := spec.Child(j)
				s := c.add(nameNode, c.text(nameNode), model.Variable, nil)
				goFinish(c, s, spec, decl, spec.ChildByFieldName("value"))
				if s != nil && keyword != "" {
					s.Modifiers = append(s.Modifiers, keyword)
				}
			}
		case "var_spec_list", "const_spec_list":
			goValueSpecs(c, spec, decl)
		}
	}
}

// goFinish fills the shared fields of a top-level Go symbol. docAnchor is the
// node whose leading comments form the doc.
func goFinish(c *collector, s *model.CodeSymbol, n, docAnchor, body *sitter.Node) {
	if s == nil {
		return
	}
	s.IsExported = goExported(s.Name)
	s.Signature = c.header(n, body)
	s.Signature = strings.TrimSpace(strings.TrimSuffix(s.Signature, "="))
	s.Doc = goDoc(c, docAnchor)
	if s.Doc == "" && docAnchor != n {
		s.Doc = goDoc(c, n)
	}
}

func goDoc(c *collector, n *sitter.Node) string {
	comments := c.precedingComments(n)
	if len(comments) == 0 {
		return ""
	}
	return cleanComment(strings.Join(comments, "\n"))
}

// goReceiverType returns the bare type name of a method receiver.
func goReceiverType(c *collector, params *sitter.Node) string {
	if params == nil {
		return ""
	}
	var find func(n *sitter.Node) string
	find = func(n *sitter.Node) string {
		if n.Type() == "type_identifier" {
			return c.text(n)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if name := find(n.NamedChild(i)); name != "" {
				return name
			}
		}
		return ""
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if typ := p.ChildByFieldName("type"); typ != nil {
			return find(typ)
		}
	}
	return ""
}

func goExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
