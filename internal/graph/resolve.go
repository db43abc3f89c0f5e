package graph

import (
	"path"
	"strings"
)

// probeExtensions are appended to an extensionless specifier, in order.
var probeExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx", ".mjs", ".cjs", ".py", ".go"}

// esmSources maps a compiled extension written in an import to the source
// extensions it may have been compiled from.
var esmSources = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

// IsRelative reports whether an import specifier is file-relative.
func IsRelative(source string) bool {
	return source == "." || source == ".." || strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../")
}

// Resolve resolves the import specifier source written in file from against
// the known file set. Only relative specifiers resolve; anything escaping the
// root or matching no known file reports false.
func Resolve(from, source string, known func(string) bool) (string, bool) {
	if !IsRelative(source) {
		return "", false
	}
	base := path.Join(path.Dir(from), source)
	if base == ".." || strings.HasPrefix(base, "../") {
		return "", false
	}
	for _, candidate := range candidates(base) {
		if candidate != from && known(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// candidates lists the paths probed for base, in priority order: the literal
// path, source extensions, ESM extension mapping, then directory indexes.
func candidates(base string) []string {
	out := make([]string, 0, 2*len(probeExtensions)+4)
	if base != "." {
		out = append(out, base)
		for _, ext := range probeExtensions {
			out = append(out, base+ext)
		}
		ext := path.Ext(base)
		for _, src := range esmSources[ext] {
			out = append(out, strings.TrimSuffix(base, ext)+src)
		}
	}
	for _, ext := range probeExtensions {
		if ext == ".py" || ext == ".go" {
			continue
		}
		out = append(out, path.Join(base, "index"+ext))
	}
	out = append(out, path.Join(base, "__init__.py"))
	return out
}
