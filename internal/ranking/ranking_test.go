package ranking

import (
	"testing"

	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/model"
)

func symbol(file, name string, kind model.SymbolKind, line int) *model.CodeSymbol {
	return &model.CodeSymbol{
		ID:        model.SymbolID(file, name, line, 0),
		Name:      name,
		Kind:      kind,
		FilePath:  file,
		StartLine: line,
	}
}

func makeRepoMap() *RepoMap {
	client := symbol("c.ts", "Client", model.Class, 1)
	send := symbol("c.ts", "send", model.Method, 2)
	send.Parent = client.ID
	client.Children = []string{send.ID}

	return &RepoMap{
		RepoName: "test",
		Root:     "test",
		Files: []MapFile{
			{Path: "a.ts", Language: "typescript", Rank: 0.5, Symbols: []*model.CodeSymbol{symbol("a.ts", "main", model.Function, 1)}},
			{Path: "b.ts", Language: "typescript", Rank: 0.3, Symbols: []*model.CodeSymbol{symbol("b.ts", "useClient", model.Function, 1)}},
			{Path: "c.ts", Language: "typescript", Rank: 0.2, Symbols: []*model.CodeSymbol{client, send}},
		},
		Dependencies: []model.DependencyEdge{
			{From: "a.ts", To: "b.ts", Type: model.ImportEdge, Symbols: []string{"useClient"}},
			{From: "a.ts", To: "c.ts", Type: model.ImportEdge, Symbols: []string{"Client"}},
			{From: "b.ts", To: "c.ts", Type: model.ImportEdge, Symbols: []string{"Client"}},
		},
	}
}

func TestBand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  Confidence
	}{
		{1, High},
		{0.7, High},
		{0.69, Medium},
		{0.4, Medium},
		{0.39, Low},
		{0, Low},
	}
	for _, tt := range tests {
		if got := Band(tt.score); got != tt.want {
			t.Errorf("Band(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestBuildMap(t *testing.T) {
	t.Parallel()

	tree := model.NewCodeTree("/repo")
	a := model.NewFileNode("a.ts")
	a.Language = "typescript"
	a.Imports = []model.ImportInfo{{Source: "./b", Specifiers: []string{"helper"}, Line: 1}}
	b := model.NewFileNode("b.ts")
	b.Language = "typescript"
	helper := symbol("b.ts", "helper", model.Function, 3)
	b.Symbols[helper.ID] = helper
	tree.AddFile(a)
	tree.AddFile(b)
	graph.Rebuild(tree)

	rm := BuildMap(tree, "repo")
	if len(rm.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(rm.Files))
	}
	if rm.Files[0].Path != "b.ts" {
		t.Errorf("expected imported file first, got %s", rm.Files[0].Path)
	}
	if len(rm.Files[0].Symbols) != 1 || rm.Files[0].Symbols[0].Name != "helper" {
		t.Errorf("unexpected symbols: %+v", rm.Files[0].Symbols)
	}
	if len(rm.Dependencies) != 1 || rm.Root != "/repo" {
		t.Errorf("unexpected map: %+v", rm)
	}
}

func TestSelectFilesAll(t *testing.T) {
	t.Parallel()

	rm := makeRepoMap()
	if got := SelectFiles(rm, 0); got != rm {
		t.Error("maxFiles=0 should return original")
	}
	if got := SelectFiles(rm, 5); got != rm {
		t.Error("maxFiles > len should return original")
	}
	if got := SelectFiles(rm, 3); got != rm {
		t.Error("maxFiles == len should return original")
	}
}

func TestSelectFilesSubset(t *testing.T) {
	t.Parallel()

	rm := makeRepoMap()
	got := SelectFiles(rm, 2)

	if len(got.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(got.Files))
	}
	if got.Files[0].Path != "a.ts" || got.Files[1].Path != "b.ts" {
		t.Errorf("expected a.ts, b.ts; got %s, %s", got.Files[0].Path, got.Files[1].Path)
	}

	// Only a.ts→b.ts survives (c.ts not selected)
	if len(got.Dependencies) != 1 {
		t.Fatalf("expected 1 dep, got %d", len(got.Dependencies))
	}
	if got.Dependencies[0].From != "a.ts" || got.Dependencies[0].To != "b.ts" {
		t.Errorf("unexpected dep: %+v", got.Dependencies[0])
	}
}

func TestFilterBySymbol(t *testing.T) {
	t.Parallel()

	got := FilterBySymbol(makeRepoMap(), "client", false)

	paths := make(map[string]int)
	for _, f := range got.Files {
		paths[f.Path] = len(f.Symbols)
	}
	// c.ts declares Client; b.ts declares useClient and imports Client.
	if paths["c.ts"] != 1 || paths["b.ts"] != 1 {
		t.Errorf("unexpected files: %v", paths)
	}
	// a.ts imports Client from c.ts.
	if n, ok := paths["a.ts"]; !ok || n != 0 {
		t.Errorf("expected a.ts as related file without symbols, got %v", paths)
	}
	if len(got.Members) != 0 {
		t.Errorf("expected no members, got %d", len(got.Members))
	}
	if len(got.Dependencies) != 3 {
		t.Errorf("expected 3 deps, got %d", len(got.Dependencies))
	}
}

func TestFilterBySymbolMembers(t *testing.T) {
	t.Parallel()

	got := FilterBySymbol(makeRepoMap(), "Client", true)
	if len(got.Members) != 1 || got.Members[0].Name != "send" {
		t.Fatalf("expected send as member, got %+v", got.Members)
	}

	// No top-level match: fall back to member names.
	got = FilterBySymbol(makeRepoMap(), "send", true)
	var owner *MapFile
	for i := range got.Files {
		if got.Files[i].Path == "c.ts" {
			owner = &got.Files[i]
		}
	}
	if owner == nil {
		t.Fatalf("expected c.ts, got %+v", got.Files)
	}
	if len(owner.Symbols) != 1 || owner.Symbols[0].Name != "Client" {
		t.Errorf("expected owning Client, got %+v", owner.Symbols)
	}
	if len(got.Members) != 1 {
		t.Errorf("expected 1 member, got %d", len(got.Members))
	}
}

func TestFilterByFile(t *testing.T) {
	t.Parallel()

	got := FilterByFile(makeRepoMap(), "B.TS")
	if len(got.Files) != 1 || got.Files[0].Path != "b.ts" {
		t.Fatalf("expected b.ts, got %+v", got.Files)
	}
	if len(got.Dependencies) != 2 {
		t.Errorf("expected 2 deps touching b.ts, got %d", len(got.Dependencies))
	}
}
