package picker

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/llm"
	"github.com/phobologic/codetree/internal/logging"
	"github.com/phobologic/codetree/internal/model"
	"github.com/phobologic/codetree/internal/ranking"
	"github.com/phobologic/codetree/internal/search"
)

func sym(file, name string, kind model.SymbolKind, line int) *model.CodeSymbol {
	return &model.CodeSymbol{
		ID:        model.SymbolID(file, name, line, 0),
		Name:      name,
		Kind:      kind,
		FilePath:  file,
		StartLine: line,
	}
}

func node(path string, size int64, syms ...*model.CodeSymbol) *model.FileNode {
	f := model.NewFileNode(path)
	f.Language = "typescript"
	f.Size = size
	for _, s := range syms {
		f.Symbols[s.ID] = s
	}
	return f
}

func newPicker(client llm.Client, files ...*model.FileNode) *Picker {
	tree := model.NewCodeTree("/repo")
	for _, f := range files {
		tree.AddFile(f)
	}
	graph.Rebuild(tree)
	return New(search.New(nil), tree, client, logging.Discard())
}

func twinFiles(alphaSize int64) []*model.FileNode {
	return []*model.FileNode{
		node("src/alpha.ts", alphaSize, sym("src/alpha.ts", "loadUser", model.Function, 1)),
		node("src/beta.ts", 500, sym("src/beta.ts", "loadUser", model.Function, 1)),
	}
}

func paths(rs []FileResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	return out
}

var oneSymbol = 0.6 * math.Log(2)

func TestPickFilesEqualMatchesTie(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	results, err := p.PickFiles(context.Background(), "loadUser", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"src/alpha.ts", "src/beta.ts"}, paths(results))
	assert.InDelta(t, oneSymbol, results[0].Score, 1e-9)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, ranking.Medium, results[0].Confidence)
	assert.Equal(t, "loadUser", results[0].Symbols[0].Name)
}

func TestPickFilesCurrentFileBreaksTie(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	results, err := p.PickFiles(context.Background(), "loadUser", Options{CurrentFile: "src/beta.ts"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "src/beta.ts", results[0].Path)
	assert.False(t, results[0].Pinned)
	assert.InDelta(t, oneSymbol+0.4*0.5, results[0].Score, 1e-9)
}

func TestPickFilesSizePenaltyBreaksTie(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(60)...)
	results, err := p.PickFiles(context.Background(), "loadUser", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "src/beta.ts", results[0].Path)
	assert.InDelta(t, oneSymbol*0.7, results[1].Score, 1e-9)
}

func TestSizePenalty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.7, sizePenalty(99))
	assert.Equal(t, 1.0, sizePenalty(100))
	assert.Equal(t, 1.0, sizePenalty(50*1024))
	assert.InDelta(t, 50.0/75.0, sizePenalty(75*1024), 1e-9)
	assert.Equal(t, 0.5, sizePenalty(500*1024))
}

func TestContextBonuses(t *testing.T) {
	t.Parallel()

	ctx := fileContext(Options{
		CurrentFile: "a.ts",
		OpenFiles:   []string{"a.ts", "b.ts"},
		RecentFiles: []string{"b.ts", "c.ts"},
	})
	assert.InDelta(t, 0.7, ctx["a.ts"], 1e-9)
	assert.InDelta(t, 0.5, ctx["b.ts"], 1e-9)
	assert.InDelta(t, 0.15, ctx["c.ts"], 1e-9)
}

func TestPickFilesExportedAndPattern(t *testing.T) {
	t.Parallel()

	svc := sym("src/user.service.ts", "UserService", model.Class, 1)
	repo := sym("src/user.repo.ts", "UserRepo", model.Class, 1)
	repo.IsExported = true
	p := newPicker(nil,
		node("src/user.service.ts", 1000, svc),
		node("src/user.repo.ts", 1000, repo),
	)

	results, err := p.PickFiles(context.Background(), "user service", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "src/user.service.ts", results[0].Path)
	assert.InDelta(t, 0.6*math.Min(1, math.Log(2)*1.3), results[0].Score, 1e-9)
	assert.Contains(t, results[0].Reasons, "path matches *.service.*")

	// Keyword "user" is a prefix of UserRepo: 0.9 discounted by 0.9.
	assert.Equal(t, "src/user.repo.ts", results[1].Path)
	assert.InDelta(t, 0.6*0.81*math.Log(2)+0.4*0.1, results[1].Score, 1e-9)
}

func TestPickFilesTests(t *testing.T) {
	t.Parallel()

	files := []*model.FileNode{
		node("src/user.ts", 500, sym("src/user.ts", "loadUser", model.Function, 1)),
		node("src/user.test.ts", 500, sym("src/user.test.ts", "loadUserFixture", model.Function, 1)),
	}
	p := newPicker(nil, files...)
	ctx := context.Background()

	results, err := p.PickFiles(ctx, "loadUser", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/user.ts"}, paths(results))

	results, err = p.PickFiles(ctx, "loadUser", Options{IncludeTests: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src/user.ts", "src/user.test.ts"}, paths(results))

	results, err = p.PickFiles(ctx, "loadUser tests", Options{})
	require.NoError(t, err)
	assert.Contains(t, paths(results), "src/user.test.ts")
}

func TestPickFilesPinsAndLimits(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	ctx := context.Background()

	results, err := p.PickFiles(ctx, "loadUser", Options{
		CurrentFile:  "src/other.ts",
		ContextFiles: []string{"docs/notes.ts", "src/alpha.ts"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/other.ts", "docs/notes.ts", "src/alpha.ts", "src/beta.ts"}, paths(results))
	assert.True(t, results[0].Pinned)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, ranking.High, results[0].Confidence)
	assert.Equal(t, 0.8, results[1].Score)
	assert.False(t, results[2].Pinned)

	results, err = p.PickFiles(ctx, "loadUser", Options{MinRelevanceScore: 0.5, CurrentFile: "src/other.ts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/other.ts"}, paths(results))

	results, err = p.PickFiles(ctx, "loadUser", Options{MaxFiles: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.PickFiles(cancelled, "loadUser", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPickFilesNormalisesHintPaths(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	results, err := p.PickFiles(context.Background(), "loadUser", Options{
		CurrentFile:  "./src/beta.ts",
		ContextFiles: []string{"/repo/src/alpha.ts", "src//extra.ts"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/extra.ts", "src/beta.ts", "src/alpha.ts"}, paths(results))
	assert.True(t, results[0].Pinned)
	assert.False(t, results[1].Pinned)
	assert.InDelta(t, oneSymbol+0.4*0.5, results[1].Score, 1e-9)
	assert.False(t, results[2].Pinned)

	assert.InDelta(t, 0.4, fileContext(normalize("/repo", Options{OpenFiles: []string{"a.ts", "./a.ts"}}))["a.ts"], 1e-9)
}

type fakeClient struct {
	mu      sync.Mutex
	intent  string
	rank    string
	err     error
	prompts []string
}

func (f *fakeClient) Complete(_ context.Context, prompt string, _ llm.CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(prompt, "RANK:") {
		return f.rank, nil
	}
	return f.intent, nil
}

func TestPickFilesWithModel(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		intent: "PRIMARY: loadUser\nKINDS: function\nACTION: modify",
		rank:   "RANK: 1,1.0,defines the loader",
	}
	p := newPicker(client, twinFiles(500)...)

	results, err := p.PickFiles(context.Background(), "where do we load users", Options{UseAI: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "src/beta.ts", results[0].Path)
	assert.InDelta(t, 0.4*oneSymbol+0.6, results[0].Score, 1e-9)
	assert.Equal(t, ranking.High, results[0].Confidence)
	assert.Contains(t, results[0].Reasons, "model: defines the loader")
	assert.Len(t, client.prompts, 2)
}

func TestPickFilesModelFailureFallsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	plain, err := newPicker(nil, twinFiles(500)...).PickFiles(ctx, "loadUser", Options{})
	require.NoError(t, err)

	for name, client := range map[string]*fakeClient{
		"error":       {err: errors.New("connection refused")},
		"unparseable": {intent: "no idea", rank: "also no idea"},
	} {
		client := client
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := newPicker(client, twinFiles(500)...).PickFiles(ctx, "loadUser", Options{UseAI: true})
			require.NoError(t, err)
			assert.Equal(t, paths(plain), paths(got))
			for i := range got {
				assert.Equal(t, plain[i].Score, got[i].Score)
			}
		})
	}
}

func TestQuickPick(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	results := p.QuickPick("loadUser", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "src/alpha.ts", results[0].Path)
	assert.Empty(t, p.QuickPick("zzzz", 5))
}

func TestUpdateTree(t *testing.T) {
	t.Parallel()

	p := newPicker(nil, twinFiles(500)...)
	next := model.NewCodeTree("/repo")
	next.AddFile(node("src/gamma.ts", 500, sym("src/gamma.ts", "loadUser", model.Function, 1)))
	p.UpdateTree(next)

	assert.Equal(t, []string{"src/gamma.ts"}, paths(p.QuickPick("loadUser", 5)))
}

func TestRelatedFiles(t *testing.T) {
	t.Parallel()

	a := node("a.ts", 500)
	a.Imports = []model.ImportInfo{{Source: "./b", Specifiers: []string{"b"}, Line: 1}}
	b := node("b.ts", 500)
	b.Imports = []model.ImportInfo{{Source: "./c", Specifiers: []string{"c"}, Line: 1}}
	c := node("c.ts", 500)
	d := node("d.ts", 500)
	d.Imports = []model.ImportInfo{{Source: "./a", Specifiers: []string{"a"}, Line: 1}}
	p := newPicker(nil, a, b, c, d)

	results, err := p.RelatedFiles("a.ts", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts", "d.ts", "c.ts"}, paths(results))
	assert.Equal(t, []float64{0.8, 0.7, 0.4}, []float64{results[0].Score, results[1].Score, results[2].Score})
	assert.Equal(t, ranking.High, results[0].Confidence)
	assert.Equal(t, ranking.Medium, results[2].Confidence)

	results, err = p.RelatedFiles("./a.ts", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ts", "d.ts", "c.ts"}, paths(results))
	assert.Equal(t, "imports a.ts", results[1].Reasons[0])

	_, err = p.RelatedFiles("missing.ts", 5)
	assert.ErrorIs(t, err, ErrUnknownFile)
}

func TestHeuristic(t *testing.T) {
	t.Parallel()

	in := Heuristic("find the UserService class")
	assert.Equal(t, "UserService", in.Primary)
	assert.Equal(t, []model.SymbolKind{model.Class}, in.Kinds)
	assert.Empty(t, in.Keywords)
	assert.False(t, in.Tests)

	in = Heuristic("user service tests")
	assert.Equal(t, "user service", in.Primary)
	assert.Equal(t, []string{"user", "service"}, in.Keywords)
	assert.Equal(t, []string{"*.service.*", "*service*"}, in.Patterns)
	assert.True(t, in.Tests)

	in = Heuristic("parse_config helper functions")
	assert.Equal(t, "parse_config", in.Primary)
	assert.Equal(t, []string{"helper"}, in.Keywords)
	assert.Equal(t, []model.SymbolKind{model.Function}, in.Kinds)
}
