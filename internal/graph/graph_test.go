package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codetree/internal/model"
)

func treeWith(files ...*model.FileNode) *model.CodeTree {
	tree := model.NewCodeTree("/repo")
	for _, f := range files {
		tree.AddFile(f)
	}
	return tree
}

func file(path, language string, imports ...model.ImportInfo) *model.FileNode {
	f := model.NewFileNode(path)
	f.Language = language
	f.Imports = imports
	return f
}

func knownSet(paths ...string) func(string) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(p string) bool {
		_, ok := set[p]
		return ok
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	known := knownSet(
		"src/a.ts",
		"src/b.tsx",
		"src/lib/index.ts",
		"src/types.d.ts",
		"src/esm.ts",
		"src/data.json",
		"pkg/__init__.py",
		"pkg/models.py",
	)
	cases := []struct {
		from, source, want string
		ok                 bool
	}{
		{"src/main.ts", "./a", "src/a.ts", true},
		{"src/main.ts", "./b", "src/b.tsx", true},
		{"src/main.ts", "./lib", "src/lib/index.ts", true},
		{"src/main.ts", "./types", "src/types.d.ts", true},
		{"src/main.ts", "./esm.js", "src/esm.ts", true},
		{"src/main.ts", "./data.json", "src/data.json", true},
		{"src/deep/x.ts", "../a", "src/a.ts", true},
		{"pkg/views.py", "./models", "pkg/models.py", true},
		{"pkg/sub/views.py", "..", "pkg/__init__.py", true},
		{"src/main.ts", "react", "", false},
		{"src/main.ts", "./missing", "", false},
		{"src/main.ts", "../../outside", "", false},
		{"src/a.ts", "./a", "", false},
	}
	for _, tc := range cases {
		got, ok := Resolve(tc.from, tc.source, known)
		assert.Equal(t, tc.ok, ok, "%s from %s", tc.source, tc.from)
		assert.Equal(t, tc.want, got, "%s from %s", tc.source, tc.from)
	}
}

func TestRebuildEdges(t *testing.T) {
	t.Parallel()

	a := file("src/a.ts", "typescript")
	b := file("src/b.ts", "typescript",
		model.ImportInfo{Source: "./a", Specifiers: []string{"Foo"}},
		model.ImportInfo{Source: "./a", DefaultImport: "A"},
		model.ImportInfo{Source: "react", DefaultImport: "React"},
	)
	c := file("src/c.ts", "typescript", model.ImportInfo{Source: "./b", NamespaceImport: "b"})
	index := file("src/index.ts", "typescript")
	index.Exports = []model.ExportInfo{{Name: "Foo", LocalName: "Foo", IsReexport: true, Source: "./a"}}

	tree := treeWith(a, b, c, index)
	Rebuild(tree)
	require.NoError(t, tree.Check())

	assert.Equal(t, []model.DependencyEdge{
		{From: "src/b.ts", To: "src/a.ts", Type: model.ImportEdge, Symbols: []string{"Foo", "default"}},
		{From: "src/c.ts", To: "src/b.ts", Type: model.ImportEdge, Symbols: []string{"*"}},
		{From: "src/index.ts", To: "src/a.ts", Type: model.ImportEdge, Symbols: []string{"Foo"}},
	}, tree.Dependencies)

	assert.Equal(t, []string{"src/b.ts", "src/index.ts"}, model.SortedSet(a.Dependents))
	assert.Equal(t, []string{"src/a.ts"}, model.SortedSet(b.Dependencies))
	assert.Empty(t, a.Dependencies)
}

func TestRebuildDropsStaleEdges(t *testing.T) {
	t.Parallel()

	a := file("a.ts", "typescript")
	b := file("b.ts", "typescript", model.ImportInfo{Source: "./a", Specifiers: []string{"Foo"}})
	tree := treeWith(a, b)
	Rebuild(tree)
	require.Len(t, tree.Dependencies, 1)

	tree.RemoveFile("a.ts")
	Rebuild(tree)
	require.NoError(t, tree.Check())
	assert.Empty(t, tree.Dependencies)
	assert.Empty(t, tree.Files["b.ts"].Dependencies)
}

func TestRebuildPythonSubmoduleImport(t *testing.T) {
	t.Parallel()

	tree := treeWith(
		file("app/__init__.py", "python"),
		file("app/config.py", "python"),
		file("app/main.py", "python",
			model.ImportInfo{Source: ".", Specifiers: []string{"config", "VERSION"}},
		),
	)
	Rebuild(tree)
	require.NoError(t, tree.Check())

	assert.Equal(t, []model.DependencyEdge{
		{From: "app/main.py", To: "app/__init__.py", Type: model.ImportEdge, Symbols: []string{"VERSION"}},
		{From: "app/main.py", To: "app/config.py", Type: model.ImportEdge, Symbols: []string{"config"}},
	}, tree.Dependencies)
}

func TestRebuildNoSelfEdge(t *testing.T) {
	t.Parallel()

	tree := treeWith(file("src/index.ts", "typescript", model.ImportInfo{Source: ".", Specifiers: []string{"x"}}))
	Rebuild(tree)
	assert.Empty(t, tree.Dependencies)
}

func TestRankUniform(t *testing.T) {
	t.Parallel()

	tree := treeWith(file("a.py", "python"), file("b.py", "python"), file("c.py", "python"))
	ranks := Rank(tree)
	require.Len(t, ranks, 3)

	expected := 1.0 / 3.0
	for _, r := range ranks {
		assert.InDelta(t, expected, r.Rank, 1e-9, r.Path)
	}
	assert.Equal(t, "a.py", ranks[0].Path)
}

func TestRankWithEdges(t *testing.T) {
	t.Parallel()

	tree := treeWith(
		file("a.py", "python", model.ImportInfo{Source: "./b", Specifiers: []string{"x"}}),
		file("b.py", "python"),
		file("c.py", "python", model.ImportInfo{Source: "./b", Specifiers: []string{"y"}}),
	)
	Rebuild(tree)
	ranks := Rank(tree)

	// b.py is imported by both a and c.
	require.Len(t, ranks, 3)
	assert.Equal(t, "b.py", ranks[0].Path)
	assert.Greater(t, ranks[0].Rank, ranks[1].Rank)

	var sum float64
	for _, r := range ranks {
		sum += r.Rank
	}
	assert.LessOrEqual(t, math.Abs(sum-1.0), 0.01)
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Rank(model.NewCodeTree("/repo")))
}
