package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/phobologic/codetree/internal/model"
)

// posting is one symbol occurrence of a word; name words weigh 1, doc words 0.5.
type posting struct {
	id     string
	weight float64
}

type entry struct {
	key string
	id  string
}

// snapshot holds a tree and every index derived from it. It is never mutated
// after construction.
type snapshot struct {
	tree *model.CodeTree
	ids  []string // sorted symbol ids

	names     []entry // lower-cased name, sorted
	acronyms  []entry // acronym, sorted
	nameWords []string
	nameIndex map[string][]string
	words     map[string][]posting
	trigrams  map[string][]string
	parts     map[string][]string // id -> camel parts as written
}

func newSnapshot(tree *model.CodeTree) *snapshot {
	if tree == nil {
		tree = model.NewCodeTree("")
	}
	s := &snapshot{
		tree:      tree,
		ids:       make([]string, 0, len(tree.Symbols)),
		nameIndex: make(map[string][]string),
		words:     make(map[string][]posting),
		trigrams:  make(map[string][]string),
		parts:     make(map[string][]string, len(tree.Symbols)),
	}
	for id := range tree.Symbols {
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)

	for _, id := range s.ids {
		sym := tree.Symbols[id]
		lower := strings.ToLower(sym.Name)
		parts := splitParts(sym.Name)
		s.parts[id] = parts
		s.names = append(s.names, entry{lower, id})
		if acr := acronym(parts); acr != "" {
			s.acronyms = append(s.acronyms, entry{acr, id})
		}

		weights := make(map[string]float64)
		for _, p := range parts {
			w := strings.ToLower(p)
			if _, seen := weights[w]; !seen {
				s.nameIndex[w] = append(s.nameIndex[w], id)
			}
			weights[w] = 1
		}
		for _, w := range docWords(sym.Doc) {
			if _, seen := weights[w]; !seen {
				weights[w] = 0.5
			}
		}
		for w, weight := range weights {
			s.words[w] = append(s.words[w], posting{id, weight})
		}

		seen := make(map[string]bool)
		for _, tri := range trigramsOf(lower) {
			if !seen[tri] {
				seen[tri] = true
				s.trigrams[tri] = append(s.trigrams[tri], id)
			}
		}
	}

	for w := range s.nameIndex {
		s.nameWords = append(s.nameWords, w)
	}
	sort.Strings(s.nameWords)
	sortEntries(s.names)
	sortEntries(s.acronyms)
	return s
}

func sortEntries(es []entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].key != es[j].key {
			return es[i].key < es[j].key
		}
		return es[i].id < es[j].id
	})
}

// withPrefix returns the entries whose key starts with prefix.
func withPrefix(es []entry, prefix string) []entry {
	lo := sort.Search(len(es), func(i int) bool { return es[i].key >= prefix })
	hi := lo
	for hi < len(es) && strings.HasPrefix(es[hi].key, prefix) {
		hi++
	}
	return es[lo:hi]
}

// wordsWithPrefix returns the name words starting with prefix.
func (s *snapshot) wordsWithPrefix(prefix string) []string {
	lo := sort.SearchStrings(s.nameWords, prefix)
	hi := lo
	for hi < len(s.nameWords) && strings.HasPrefix(s.nameWords[hi], prefix) {
		hi++
	}
	return s.nameWords[lo:hi]
}

// splitParts splits an identifier into camelCase and separator-delimited
// parts: "parseHTTPRequest_v2" -> parse, HTTP, Request, v2.
func splitParts(name string) []string {
	var parts []string
	runes := []rune(name)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			parts = append(parts, string(runes[start:end]))
		}
		start = -1
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(r):
			flush(i)
			start = i
		case unicode.IsUpper(prev) && unicode.IsUpper(r) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(runes))
	return parts
}

// acronym joins the upper-cased initials of parts.
func acronym(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		for _, r := range p {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}

// queryWords returns the distinct lower-cased words of a free-text query.
func queryWords(q string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range splitParts(q) {
		w := strings.ToLower(p)
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func docWords(doc string) []string {
	if doc == "" {
		return nil
	}
	var out []string
	for _, p := range splitParts(doc) {
		if len(p) > 1 {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func trigramsOf(s string) []string {
	r := []rune(s)
	if len(r) < 3 {
		return nil
	}
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		out = append(out, string(r[i:i+3]))
	}
	return out
}
