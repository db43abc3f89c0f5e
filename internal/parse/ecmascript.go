package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codetree/internal/model"
)

// ecmaModifiers are keyword tokens recorded as symbol modifiers.
var ecmaModifiers = map[string]struct{}{
	"static":   {},
	"readonly": {},
	"async":    {},
	"abstract": {},
	"override": {},
	"declare":  {},
	"get":      {},
	"set":      {},
}

type exportState struct {
	exported  bool
	isDefault bool
}

// ecma holds per-file state for TypeScript/JavaScript extraction.
type ecma struct {
	*collector
	// local export lists (export { a, b as default }) applied after the walk
	localExports map[string]bool
}

func extractECMAScript(c *collector, root *sitter.Node) {
	e := &ecma{collector: c, localExports: make(map[string]bool)}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		e.statement(root.NamedChild(i))
	}
	for name, isDefault := range e.localExports {
		for _, s := range e.topLevelNamed(name) {
			s.IsExported = true
			if isDefault {
				s.IsDefaultExport = true
			}
		}
	}
}

func (e *ecma) statement(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		e.imports = append(e.imports, e.importStatement(n))
	case "export_statement":
		e.exportStatement(n)
	case "ambient_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			e.declaration(n.NamedChild(i), exportState{}, n)
		}
	default:
		e.declaration(n, exportState{}, n)
	}
}

func (e *ecma) importStatement(n *sitter.Node) model.ImportInfo {
	imp := model.ImportInfo{Line: line(n)}
	if src := n.ChildByFieldName("source"); src != nil {
		imp.Source = unquote(e.text(src))
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		switch ch.Type() {
		case "type":
			imp.IsTypeOnly = true
		case "string":
			if imp.Source == "" {
				imp.Source = unquote(e.text(ch))
			}
		case "import_clause":
			e.importClause(ch, &imp)
		}
	}
	return imp
}

func (e *ecma) importClause(n *sitter.Node, imp *model.ImportInfo) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		switch ch.Type() {
		case "identifier":
			imp.DefaultImport = e.text(ch)
		case "namespace_import":
			if id := firstChildOfType(ch, "identifier"); id != nil {
				imp.NamespaceImport = e.text(id)
			}
		case "named_imports":
			for j := 0; j < int(ch.NamedChildCount()); j++ {
				spec := ch.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				if name := spec.ChildByFieldName("name"); name != nil {
					imp.Specifiers = append(imp.Specifiers, e.text(name))
				}
			}
		}
	}
}

func (e *ecma) exportStatement(n *sitter.Node) {
	isDefault := hasChildType(n, "default")
	ln := line(n)

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		for _, s := range e.declaration(decl, exportState{exported: true, isDefault: isDefault}, n) {
			ex := model.ExportInfo{Name: s.Name, IsDefault: isDefault, Line: ln}
			if isDefault {
				ex.Name = "default"
				ex.LocalName = s.Name
			}
			e.exports = append(e.exports, ex)
		}
		return
	}

	if src := n.ChildByFieldName("source"); src != nil {
		source := unquote(e.text(src))
		if clause := firstChildOfType(n, "export_clause"); clause != nil {
			for _, sp := range e.exportSpecifiers(clause) {
				e.exports = append(e.exports, model.ExportInfo{
					Name: sp[1], LocalName: sp[0], IsReexport: true, IsDefault: sp[1] == "default", Source: source, Line: ln,
				})
			}
			return
		}
		name := "*"
		if ns := firstChildOfType(n, "namespace_export"); ns != nil {
			if id := firstChildOfType(ns, "identifier", "string"); id != nil {
				name = unquote(e.text(id))
			}
		}
		e.exports = append(e.exports, model.ExportInfo{Name: name, LocalName: "*", IsReexport: true, Source: source, Line: ln})
		return
	}

	if clause := firstChildOfType(n, "export_clause"); clause != nil {
		for _, sp := range e.exportSpecifiers(clause) {
			isDef := sp[1] == "default"
			e.exports = append(e.exports, model.ExportInfo{Name: sp[1], LocalName: sp[0], IsDefault: isDef, Line: ln})
			e.localExports[sp[0]] = e.localExports[sp[0]] || isDef
		}
		return
	}

	if isDefault {
		value := n.ChildByFieldName("value")
		if value == nil {
			return
		}
		if value.Type() == "identifier" {
			local := e.text(value)
			e.exports = append(e.exports, model.ExportInfo{Name: "default", LocalName: local, IsDefault: true, Line: ln})
			e.localExports[local] = true
			return
		}
		syms := e.declaration(value, exportState{exported: true, isDefault: true}, n)
		for _, s := range syms {
			e.exports = append(e.exports, model.ExportInfo{Name: "default", LocalName: s.Name, IsDefault: true, Line: ln})
		}
		if len(syms) == 0 {
			e.exports = append(e.exports, model.ExportInfo{Name: "default", IsDefault: true, Line: ln})
		}
	}
}

// exportSpecifiers returns (local, exported) name pairs of an export clause.
func (e *ecma) exportSpecifiers(clause *sitter.Node) [][2]string {
	var out [][2]string
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		spec := clause.NamedChild(i)
		if spec.Type() != "export_specifier" {
			continue
		}
		name := spec.ChildByFieldName("name")
		if name == nil {
			continue
		}
		local := unquote(e.text(name))
		exported := local
		if alias := spec.ChildByFieldName("alias"); alias != nil {
			exported = unquote(e.text(alias))
		}
		out = append(out, [2]string{local, exported})
	}
	return out
}

// declaration extracts the top-level symbols declared by n. anchor is the
// outermost statement node, used to find the leading doc comment.
func (e *ecma) declaration(n *sitter.Node, ex exportState, anchor *sitter.Node) []*model.CodeSymbol {
	var out []*model.CodeSymbol
	switch n.Type() {
	case "class_declaration", "abstract_class_declaration", "class":
		body := n.ChildByFieldName("body")
		s := e.named(n, model.Class, ex, nil)
		if s == nil {
			return nil
		}
		if n.Type() == "abstract_class_declaration" {
			s.Modifiers = append(s.Modifiers, "abstract")
		}
		s.Signature = e.header(n, body)
		if body != nil {
			e.classBody(body, s)
		}
		out = append(out, s)

	case "interface_declaration":
		body := n.ChildByFieldName("body")
		s := e.named(n, model.Interface, ex, nil)
		if s == nil {
			return nil
		}
		s.Signature = e.header(n, body)
		if body != nil {
			e.interfaceBody(body, s)
		}
		out = append(out, s)

	case "type_alias_declaration":
		if s := e.named(n, model.TypeAlias, ex, nil); s != nil {
			s.Signature = e.header(n, nil)
			out = append(out, s)
		}

	case "enum_declaration":
		body := n.ChildByFieldName("body")
		s := e.named(n, model.Enum, ex, nil)
		if s == nil {
			return nil
		}
		s.Signature = e.header(n, body)
		if hasChildType(n, "const") {
			s.Modifiers = append(s.Modifiers, "const")
		}
		if body != nil {
			e.enumBody(body, s)
		}
		out = append(out, s)

	case "function_declaration", "generator_function_declaration", "function_signature",
		"function_expression", "function", "generator_function", "arrow_function":
		if s := e.named(n, model.Function, ex, nil); s != nil {
			s.Modifiers = append(s.Modifiers, e.modifiers(n)...)
			s.Signature = e.header(n, n.ChildByFieldName("body"))
			out = append(out, s)
		}

	case "lexical_declaration", "variable_declaration":
		kind := ""
		if n.ChildCount() > 0 {
			kind = n.Child(0).Type()
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			d := n.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if s := e.declarator(d, kind, ex); s != nil {
				out = append(out, s)
			}
		}

	default:
		return nil
	}

	doc := e.docComment(anchor)
	for _, s := range out {
		if doc != "" {
			s.Doc = doc
		}
		if ex.exported {
			s.IsExported = true
			s.Modifiers = append([]string{"export"}, s.Modifiers...)
			if ex.isDefault {
				s.IsDefaultExport = true
				s.Modifiers = append(s.Modifiers, "default")
			}
		}
	}
	return out
}

// named adds a symbol whose name is the node's "name" field. Anonymous
// default exports are named "default".
func (e *ecma) named(n *sitter.Node, kind model.SymbolKind, ex exportState, parent *model.CodeSymbol) *model.CodeSymbol {
	name := ""
	if nn := n.ChildByFieldName("name"); nn != nil {
		name = e.text(nn)
	} else if ex.isDefault {
		name = "default"
	}
	return e.add(n, name, kind, parent)
}

func (e *ecma) declarator(d *sitter.Node, declKind string, ex exportState) *model.CodeSymbol {
	nameNode := d.ChildByFieldName("name")
	value := d.ChildByFieldName("value")
	if nameNode == nil {
		return nil
	}

	if value != nil && value.Type() == "call_expression" {
		if imp, ok := e.requireCall(nameNode, value); ok {
			e.imports = append(e.imports, imp)
			return nil
		}
	}
	if nameNode.Type() != "identifier" {
		return nil
	}

	name := e.text(nameNode)
	kind := model.Variable
	var body *sitter.Node
	if value != nil {
		switch value.Type() {
		case "arrow_function", "function_expression", "function", "generator_function":
			kind = model.Function
			body = value.ChildByFieldName("body")
		}
	}

	s := e.add(d, name, kind, nil)
	if s == nil {
		return nil
	}
	if declKind != "" {
		s.Modifiers = append(s.Modifiers, declKind)
	}
	if kind == model.Function {
		s.Modifiers = append(s.Modifiers, e.modifiers(value)...)
		s.Signature = e.header(d, body)
	} else {
		s.Signature = e.header(d, value)
		s.Signature = strings.TrimSpace(strings.TrimSuffix(s.Signature, "="))
	}
	return s
}

// requireCall recognises `const x = require('./y')` and destructured forms.
func (e *ecma) requireCall(nameNode, call *sitter.Node) (model.ImportInfo, bool) {
	fn := call.ChildByFieldName("function")
	args := call.ChildByFieldName("arguments")
	if fn == nil || args == nil || e.text(fn) != "require" || args.NamedChildCount() == 0 {
		return model.ImportInfo{}, false
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return model.ImportInfo{}, false
	}
	imp := model.ImportInfo{Source: unquote(e.text(arg)), Line: line(call)}
	switch nameNode.Type() {
	case "identifier":
		imp.DefaultImport = e.text(nameNode)
	case "object_pattern":
		for i := 0; i < int(nameNode.NamedChildCount()); i++ {
			p := nameNode.NamedChild(i)
			switch p.Type() {
			case "shorthand_property_identifier_pattern":
				imp.Specifiers = append(imp.Specifiers, e.text(p))
			case "pair_pattern":
				if k := p.ChildByFieldName("key"); k != nil {
					imp.Specifiers = append(imp.Specifiers, e.text(k))
				}
			}
		}
	}
	return imp, true
}

func (e *ecma) classBody(body *sitter.Node, parent *model.CodeSymbol) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		switch m.Type() {
		case "method_definition", "method_signature", "abstract_method_signature":
			s := e.named(m, model.Method, exportState{}, parent)
			if s == nil {
				continue
			}
			s.Modifiers = e.modifiers(m)
			if m.Type() == "abstract_method_signature" {
				s.Modifiers = append(s.Modifiers, "abstract")
			}
			s.Signature = e.header(m, m.ChildByFieldName("body"))
			s.Doc = e.docComment(m)
		case "public_field_definition", "field_definition":
			nameNode := m.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = m.ChildByFieldName("property")
			}
			if nameNode == nil {
				continue
			}
			s := e.add(m, e.text(nameNode), model.Property, parent)
			if s == nil {
				continue
			}
			s.Modifiers = e.modifiers(m)
			s.Signature = e.header(m, m.ChildByFieldName("value"))
			s.Signature = strings.TrimSpace(strings.TrimSuffix(s.Signature, "="))
			s.Doc = e.docComment(m)
		}
	}
}

func (e *ecma) interfaceBody(body *sitter.Node, parent *model.CodeSymbol) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		var kind model.SymbolKind
		switch m.Type() {
		case "property_signature":
			kind = model.Property
		case "method_signature":
			kind = model.Method
		default:
			continue
		}
		s := e.named(m, kind, exportState{}, parent)
		if s == nil {
			continue
		}
		s.Modifiers = e.modifiers(m)
		s.Signature = e.header(m, nil)
		s.Doc = e.docComment(m)
	}
}

func (e *ecma) enumBody(body *sitter.Node, parent *model.CodeSymbol) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		var nameNode *sitter.Node
		switch m.Type() {
		case "property_identifier", "string":
			nameNode = m
		case "enum_assignment":
			nameNode = m.ChildByFieldName("name")
		}
		if nameNode == nil {
			continue
		}
		if s := e.add(m, unquote(e.text(nameNode)), model.Property, parent); s != nil {
			s.Signature = e.header(m, nil)
		}
	}
}

func (e *ecma) modifiers(n *sitter.Node) []string {
	var out []string
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		switch t := ch.Type(); t {
		case "accessibility_modifier", "override_modifier":
			out = append(out, e.text(ch))
		default:
			if _, ok := ecmaModifiers[t]; ok && !ch.IsNamed() {
				out = append(out, t)
			}
		}
	}
	return out
}

// docComment returns the JSDoc block directly above anchor, if any.
func (e *ecma) docComment(anchor *sitter.Node) string {
	comments := e.precedingComments(anchor)
	if len(comments) == 0 {
		return ""
	}
	last := comments[len(comments)-1]
	if !strings.HasPrefix(last, "/**") {
		return ""
	}
	return cleanComment(last)
}
