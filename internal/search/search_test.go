package search

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/model"
)

func sym(file, name string, kind model.SymbolKind, line int) *model.CodeSymbol {
	return &model.CodeSymbol{
		ID:        model.SymbolID(file, name, line, 0),
		Name:      name,
		Kind:      kind,
		FilePath:  file,
		StartLine: line,
		EndLine:   line,
	}
}

func nest(parent *model.CodeSymbol, children ...*model.CodeSymbol) {
	for _, c := range children {
		c.Parent = parent.ID
		parent.Children = append(parent.Children, c.ID)
	}
}

func fileWith(path string, syms ...*model.CodeSymbol) *model.FileNode {
	f := model.NewFileNode(path)
	f.Language = "typescript"
	for _, s := range syms {
		f.Symbols[s.ID] = s
	}
	return f
}

func buildTree(files ...*model.FileNode) *model.CodeTree {
	tree := model.NewCodeTree("/repo")
	for _, f := range files {
		tree.AddFile(f)
	}
	graph.Rebuild(tree)
	return tree
}

func names(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Symbol.Name
	}
	return out
}

func find(rs []Result, name string) (Result, int) {
	for i, r := range rs {
		if r.Symbol.Name == name {
			return r, i
		}
	}
	return Result{}, -1
}

func userTree() *model.CodeTree {
	return buildTree(
		fileWith("src/users.ts", sym("src/users.ts", "getUser", model.Function, 1), sym("src/users.ts", "getUserById", model.Function, 5)),
		fileWith("src/dto.ts", sym("src/dto.ts", "GetUserDto", model.Interface, 1)),
		fileWith("src/remote.ts", sym("src/remote.ts", "fetchUser", model.Function, 1)),
	)
}

func TestSearchRanking(t *testing.T) {
	t.Parallel()

	e := New(userTree())
	results := e.Search("getUser", Options{})
	require.NotEmpty(t, results)

	assert.Equal(t, "getUser", results[0].Symbol.Name)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, StrategyExact, results[0].Strategy)

	byID, byIDRank := find(results, "getUserById")
	fetch, fetchRank := find(results, "fetchUser")
	require.GreaterOrEqual(t, byIDRank, 0)
	require.GreaterOrEqual(t, fetchRank, 0)
	assert.Less(t, byIDRank, fetchRank)
	assert.InDelta(t, 0.8+0.2*7.0/11.0, byID.Score, 1e-9)
	assert.Equal(t, StrategyWord, fetch.Strategy)
	assert.InDelta(t, 0.3, fetch.Score, 1e-9)

	_, dtoRank := find(results, "GetUserDto")
	assert.GreaterOrEqual(t, dtoRank, 0)
	score, ok := camelScore(splitParts("getUser"), splitParts("GetUserDto"))
	assert.True(t, ok)
	assert.InDelta(t, 0.5+0.4*2.0/3.0, score, 1e-9)
}

func TestFuzzyThresholdBoundary(t *testing.T) {
	t.Parallel()

	e := New(buildTree(fileWith("a.ts", sym("a.ts", "getUser", model.Function, 1))))

	f := fuzzyScore("gtusr", "getUser")
	assert.InDelta(t, math.Pow(1.44*math.Pow(0.9, 5), 0.2), f, 1e-9)

	at := e.Search("gtusr", Options{FuzzyThreshold: f})
	require.Len(t, at, 1)
	assert.Equal(t, StrategyFuzzy, at[0].Strategy)
	assert.InDelta(t, f*0.7, at[0].Score, 1e-12)

	above := e.Search("gtusr", Options{FuzzyThreshold: math.Nextafter(f, 2)})
	assert.Empty(t, above)
}

func TestFuzzyScore(t *testing.T) {
	t.Parallel()

	assert.Zero(t, fuzzyScore("xyz", "getUser"))
	assert.Zero(t, fuzzyScore("getUserLonger", "getUser"))
	assert.Zero(t, fuzzyScore("", "getUser"))

	// Leading and trailing text does not decay the score.
	assert.Equal(t, fuzzyScore("user", "user"), fuzzyScore("user", "x_user"))
	assert.Greater(t, fuzzyScore("user", "user"), fuzzyScore("user", "xxuser"))
	assert.Equal(t, fuzzyScore("use", "user"), fuzzyScore("use", "userrrrr"))

	// Boundary hits beat mid-word hits.
	assert.Greater(t, fuzzyScore("gu", "getUser"), fuzzyScore("gs", "getUser"))
	assert.LessOrEqual(t, fuzzyScore("GU", "G_U"), 1.0)

	// Normalised per character: contiguous mid-word runs score the same
	// whatever their length.
	assert.InDelta(t, 0.9, fuzzyScore("set", "xset"), 1e-9)
	assert.InDelta(t, 0.9, fuzzyScore("settings", "xsettings"), 1e-9)
}

func TestSplitParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"GetUserDto", []string{"Get", "User", "Dto"}},
		{"parseHTTPRequest_v2", []string{"parse", "HTTP", "Request", "v2"}},
		{"MAX_SIZE", []string{"MAX", "SIZE"}},
		{"user-service.ts", []string{"user", "service", "ts"}},
		{"get user", []string{"get", "user"}},
		{"__", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, splitParts(tt.in))
		})
	}
	assert.Equal(t, "GUBI", acronym(splitParts("getUserById")))
}

func TestAcronymSearch(t *testing.T) {
	t.Parallel()

	e := New(userTree())
	results := e.Search("gubi", Options{})
	require.Len(t, results, 1)
	assert.Equal(t, "getUserById", results[0].Symbol.Name)
	assert.Equal(t, StrategyAcronym, results[0].Strategy)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)

	_, ok := acronymScore("g", "GUBI")
	assert.False(t, ok)
}

func TestWordSearchUsesDocs(t *testing.T) {
	t.Parallel()

	auth := sym("auth.ts", "authenticate", model.Function, 1)
	auth.Doc = "Validates the session token."
	e := New(buildTree(fileWith("auth.ts", auth)))

	results := e.Search("session token", Options{})
	require.Len(t, results, 1)
	assert.Equal(t, StrategyWord, results[0].Strategy)
	assert.InDelta(t, 0.3, results[0].Score, 1e-9)
}

func TestSemanticSearch(t *testing.T) {
	t.Parallel()

	load := sym("cfg.ts", "load", model.Function, 1)
	load.Signature = "function load(path: string): Config"
	e := New(buildTree(fileWith("cfg.ts", load)))

	assert.Empty(t, e.Search("path: string", Options{}))

	results := e.Search("path: string", Options{Semantic: true})
	require.Len(t, results, 1)
	assert.Equal(t, StrategySemantic, results[0].Strategy)
	assert.InDelta(t, 0.5+0.3*12.0/float64(len(load.Signature)), results[0].Score, 1e-9)
}

func TestSearchFilters(t *testing.T) {
	t.Parallel()

	e := New(userTree())

	results := e.Search("getUser", Options{Kinds: []model.SymbolKind{model.Interface}})
	assert.Equal(t, []string{"GetUserDto"}, names(results))

	results = e.Search("getUser", Options{Files: []string{"src/remote.ts"}})
	assert.Equal(t, []string{"fetchUser"}, names(results))

	results = e.Search("getUser", Options{MinScore: 0.9})
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.9)
	}
	_, fetchRank := find(results, "fetchUser")
	assert.Equal(t, -1, fetchRank)

	assert.Len(t, e.Search("getUser", Options{MaxResults: 2}), 2)
	assert.Empty(t, e.Search("   ", Options{}))
}

func TestCompletions(t *testing.T) {
	t.Parallel()

	e := New(userTree())
	got := e.Completions("getu", 0)
	assert.Equal(t, []string{"getUser", "GetUserDto", "getUserById"}, names(got))
	assert.Len(t, e.Completions("getu", 1), 1)
	assert.Empty(t, e.Completions("zzz", 5))
}

func TestUpdateTreeSwapsSnapshot(t *testing.T) {
	t.Parallel()

	e := New(userTree())
	require.NotEmpty(t, e.Search("fetchUser", Options{}))

	next := buildTree(fileWith("b.ts", sym("b.ts", "loadConfig", model.Function, 1)))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Search("getUser", Options{})
			}
		}()
	}
	e.UpdateTree(next)
	wg.Wait()

	assert.Empty(t, e.Search("fetchUser", Options{}))
	assert.Equal(t, []string{"loadConfig"}, names(e.Search("loadConfig", Options{})))
	assert.Same(t, next, e.Tree())
}

func usageTree(t *testing.T) (*model.CodeTree, *model.CodeSymbol, *model.CodeSymbol) {
	t.Helper()
	foo := sym("src/a.ts", "Foo", model.Class, 1)
	foo.IsExported = true
	main := sym("src/a.ts", "main", model.Function, 10)
	main.IsExported = true
	main.IsDefaultExport = true

	a := fileWith("src/a.ts", foo, main)
	b := fileWith("src/b.ts")
	b.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"Foo"}, Line: 1}}
	c := fileWith("src/c.ts")
	c.Imports = []model.ImportInfo{{Source: "./a", NamespaceImport: "A", Line: 2}}
	d := fileWith("src/d.ts")
	d.Imports = []model.ImportInfo{{Source: "./a", DefaultImport: "run", Line: 3}}
	e := fileWith("src/e.ts")
	e.Exports = []model.ExportInfo{{Name: "Foo", LocalName: "Foo", IsReexport: true, Source: "./a", Line: 4}}
	x := fileWith("src/x.ts")
	x.Imports = []model.ImportInfo{{Source: "lodash", Specifiers: []string{"Foo"}, Line: 1}}

	tree := buildTree(a, b, c, d, e, x)
	require.NoError(t, tree.Check())
	return tree, foo, main
}

func TestFindUsages(t *testing.T) {
	t.Parallel()

	tree, foo, main := usageTree(t)
	e := New(tree)

	usages, err := e.FindUsages(foo.ID)
	require.NoError(t, err)
	assert.Equal(t, []Usage{
		{FilePath: "src/b.ts", Line: 1, Source: "./a", Kind: UsageNamed},
		{FilePath: "src/c.ts", Line: 2, Source: "./a", Kind: UsageNamespace},
		{FilePath: "src/e.ts", Line: 4, Source: "./a", Kind: UsageReexport},
	}, usages)

	usages, err = e.FindUsages(main.ID)
	require.NoError(t, err)
	assert.Equal(t, []Usage{
		{FilePath: "src/c.ts", Line: 2, Source: "./a", Kind: UsageNamespace},
		{FilePath: "src/d.ts", Line: 3, Source: "./a", Kind: UsageDefault},
	}, usages)

	_, err = e.FindUsages("nope")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFindUsagesThroughExportAlias(t *testing.T) {
	t.Parallel()

	// a.ts: class Foo {}; export { Foo as Bar }
	foo := sym("src/a.ts", "Foo", model.Class, 1)
	a := fileWith("src/a.ts", foo)
	a.Exports = []model.ExportInfo{{Name: "Bar", LocalName: "Foo", Line: 3}}
	b := fileWith("src/b.ts")
	b.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"Bar"}, Line: 1}}
	c := fileWith("src/c.ts")
	c.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"Baz"}, Line: 1}}
	e := New(buildTree(a, b, c))

	usages, err := e.FindUsages(foo.ID)
	require.NoError(t, err)
	assert.Equal(t, []Usage{{FilePath: "src/b.ts", Line: 1, Source: "./a", Kind: UsageNamed}}, usages)
}

func TestFindRelated(t *testing.T) {
	t.Parallel()

	foo := sym("src/a.ts", "Foo", model.Class, 1)
	foo.IsExported = true
	bar := sym("src/a.ts", "bar", model.Method, 2)
	baz := sym("src/a.ts", "baz", model.Method, 3)
	nest(foo, bar, baz)
	helper := sym("src/a.ts", "helper", model.Function, 10)
	useFoo := sym("src/b.ts", "useFoo", model.Function, 3)

	b := fileWith("src/b.ts", useFoo)
	b.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"Foo"}, Line: 1}}
	e := New(buildTree(fileWith("src/a.ts", foo, bar, baz, helper), b))

	related, err := e.FindRelated(bar.ID, 2)
	require.NoError(t, err)
	require.Len(t, related, 3)
	assert.Equal(t, "Foo", related[0].Symbol.Name)
	assert.Equal(t, RelationParent, related[0].Relation)
	assert.InDelta(t, 0.95, related[0].Score, 1e-9)
	assert.Equal(t, "baz", related[1].Symbol.Name)
	assert.InDelta(t, 0.9, related[1].Score, 1e-9)
	assert.Equal(t, "helper", related[2].Symbol.Name)
	assert.Equal(t, 2, related[2].Depth)
	assert.InDelta(t, 0.95*0.9, related[2].Score, 1e-9)

	related, err = e.FindRelated(useFoo.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, foo.ID, related[0].Symbol.ID)
	assert.Equal(t, RelationDependency, related[0].Relation)
	assert.InDelta(t, 0.7, related[0].Score, 1e-9)

	// Importing the exported alias reaches the local declaration.
	a := fileWith("src/a.ts", foo, bar, baz, helper)
	a.Exports = []model.ExportInfo{{Name: "Helper", LocalName: "helper", Line: 12}}
	useHelper := sym("src/c.ts", "useHelper", model.Function, 3)
	c := fileWith("src/c.ts", useHelper)
	c.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"Helper"}, Line: 1}}
	aliased := New(buildTree(a, c))
	related, err = aliased.FindRelated(useHelper.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, helper.ID, related[0].Symbol.ID)
	assert.Equal(t, RelationDependency, related[0].Relation)

	_, err = e.FindRelated("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}
