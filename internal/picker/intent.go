package picker

import (
	"strings"
	"unicode"

	"github.com/phobologic/codetree/internal/llm"
	"github.com/phobologic/codetree/internal/model"
)

// Intent is what a query asks for.
type Intent struct {
	Primary  string
	Keywords []string
	Kinds    []model.SymbolKind
	Patterns []string
	Tests    bool
	Action   string
}

var kindWords = map[string]model.SymbolKind{
	"class":      model.Class,
	"classes":    model.Class,
	"interface":  model.Interface,
	"interfaces": model.Interface,
	"type":       model.TypeAlias,
	"types":      model.TypeAlias,
	"enum":       model.Enum,
	"enums":      model.Enum,
	"function":   model.Function,
	"functions":  model.Function,
	"func":       model.Function,
	"method":     model.Method,
	"methods":    model.Method,
	"property":   model.Property,
	"properties": model.Property,
	"field":      model.Property,
	"fields":     model.Property,
	"variable":   model.Variable,
	"variables":  model.Variable,
	"constant":   model.Variable,
	"constants":  model.Variable,
}

// patternWords name file roles that usually appear in file names.
var patternWords = map[string]string{
	"service":     "service",
	"services":    "service",
	"controller":  "controller",
	"controllers": "controller",
	"component":   "component",
	"components":  "component",
	"model":       "model",
	"models":      "model",
	"util":        "util",
	"utils":       "util",
	"helper":      "helper",
	"helpers":     "helper",
	"config":      "config",
	"hook":        "hook",
	"hooks":       "hook",
	"store":       "store",
	"router":      "router",
	"route":       "route",
	"routes":      "route",
	"middleware":  "middleware",
	"handler":     "handler",
	"handlers":    "handler",
	"repository":  "repository",
	"schema":      "schema",
	"module":      "module",
}

var testWords = map[string]bool{
	"test": true, "tests": true, "testing": true, "spec": true, "specs": true,
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "to": true, "of": true,
	"in": true, "on": true, "with": true, "and": true, "or": true, "is": true,
	"are": true, "where": true, "what": true, "which": true, "how": true,
	"do": true, "does": true, "find": true, "show": true, "me": true,
	"all": true, "that": true, "this": true, "file": true, "files": true,
	"code": true, "locate": true, "search": true, "look": true, "i": true,
	"need": true, "want": true, "should": true, "can": true, "be": true,
}

// Heuristic derives an intent from query words: symbol kind words become
// kind filters, file-role words become name patterns, test words request
// test files, and the rest are search terms. The primary term is the first
// identifier-shaped word, or every search term joined.
func Heuristic(query string) Intent {
	var in Intent
	var terms []string
	seenKind := make(map[model.SymbolKind]bool)
	seenPattern := make(map[string]bool)

	for _, tok := range tokens(query) {
		lower := strings.ToLower(tok)
		if k, ok := kindWords[lower]; ok {
			if !seenKind[k] {
				seenKind[k] = true
				in.Kinds = append(in.Kinds, k)
			}
			continue
		}
		if testWords[lower] {
			in.Tests = true
			continue
		}
		if stopWords[lower] {
			continue
		}
		if role, ok := patternWords[lower]; ok && !seenPattern[role] {
			seenPattern[role] = true
			in.Patterns = append(in.Patterns, "*."+role+".*", "*"+role+"*")
		}
		terms = append(terms, tok)
	}

	for i, t := range terms {
		if isIdentifier(t) {
			in.Primary = t
			in.Keywords = append(append([]string{}, terms[:i]...), terms[i+1:]...)
			return in
		}
	}
	in.Primary = strings.Join(terms, " ")
	if len(terms) > 1 {
		in.Keywords = terms
	}
	if in.Primary == "" {
		in.Primary = strings.TrimSpace(query)
	}
	return in
}

// fromModel converts a parsed model intent, falling back to the heuristic
// reading for anything the model left out.
func fromModel(mi llm.Intent, query string) Intent {
	h := Heuristic(query)
	in := Intent{
		Primary:  mi.Primary,
		Keywords: mi.Keywords,
		Patterns: mi.Patterns,
		Action:   mi.Action,
		Tests:    h.Tests || mi.Action == "test",
	}
	for _, k := range mi.Kinds {
		if kind, ok := model.ParseKind(k); ok {
			in.Kinds = append(in.Kinds, kind)
		}
	}
	if len(in.Kinds) == 0 {
		in.Kinds = h.Kinds
	}
	if len(in.Patterns) == 0 {
		in.Patterns = h.Patterns
	}
	return in
}

func tokens(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$'
	})
}

// isIdentifier reports whether tok looks like a code name rather than a
// plain word: it has an inner capital, an underscore or a digit.
func isIdentifier(tok string) bool {
	for i, r := range tok {
		if r == '_' || r == '$' || unicode.IsDigit(r) || i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
