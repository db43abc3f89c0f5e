// Package builder owns the authoritative code tree: it runs full rebuilds,
// applies debounced incremental updates, and persists the tree to a cache.
//
// All mutation is serialized behind a single in-progress flag. A full rebuild
// requested while any pass is running fails with ErrBuildInProgress; file
// updates arriving during a pass are queued for the next one.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codetree/internal/cache"
	"github.com/phobologic/codetree/internal/discover"
	"github.com/phobologic/codetree/internal/graph"
	"github.com/phobologic/codetree/internal/model"
	"github.com/phobologic/codetree/internal/parse"
)

var (
	// ErrBuildInProgress is returned by FullRebuild while another build or
	// incremental pass is running.
	ErrBuildInProgress = errors.New("build already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("builder closed")
	// ErrOutsideRoot is returned for paths that are not under the root.
	ErrOutsideRoot = errors.New("path outside root")
)

// DefaultDebounce is the quiet period before an incremental pass runs.
const DefaultDebounce = 500 * time.Millisecond

// Extractor turns one source file into symbols, imports and exports.
// *parse.Extractor is the production implementation.
type Extractor interface {
	Extract(ctx context.Context, filePath string, source []byte) (*parse.Result, error)
}

// Options configures a Builder.
type Options struct {
	Root      string
	Discover  discover.Options
	Debounce  time.Duration
	Workers   int
	Extractor Extractor
	// Store persists the tree after every change. Nil disables caching.
	Store  cache.Store
	Logger *slog.Logger
}

type op int

const (
	opUpdate op = iota
	opRemove
)

// Builder maintains a model.CodeTree for one root directory.
type Builder struct {
	matcher   *discover.Matcher
	extractor Extractor
	store     cache.Store
	logger    *slog.Logger
	debounce  time.Duration
	workers   int

	treeMu sync.RWMutex
	tree   *model.CodeTree

	mu       sync.Mutex
	building bool
	closed   bool
	pending  map[string]op
	timer    *time.Timer
	idle     chan struct{} // closed and replaced whenever building ends

	subMu      sync.Mutex
	subs       []chan Event
	subsClosed bool
}

// New validates opts and returns a Builder holding an empty tree.
func New(opts Options) (*Builder, error) {
	m, err := discover.NewMatcher(opts.Root, opts.Discover)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		matcher:   m,
		extractor: opts.Extractor,
		store:     opts.Store,
		logger:    opts.Logger,
		debounce:  opts.Debounce,
		workers:   opts.Workers,
		tree:      model.NewCodeTree(m.Root()),
		pending:   make(map[string]op),
		idle:      make(chan struct{}),
	}
	if b.extractor == nil {
		b.extractor = parse.NewExtractor()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.debounce <= 0 {
		b.debounce = DefaultDebounce
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	return b, nil
}

// Root returns the absolute root directory.
func (b *Builder) Root() string { return b.matcher.Root() }

// Matcher returns the include/exclude rules used for discovery.
func (b *Builder) Matcher() *discover.Matcher { return b.matcher }

// Tree returns a deep copy of the current tree.
func (b *Builder) Tree() *model.CodeTree {
	b.treeMu.RLock()
	defer b.treeMu.RUnlock()
	return b.tree.Clone()
}

// Dependencies returns the files path imports from, sorted.
func (b *Builder) Dependencies(path string) []string {
	return b.lookupSet(path, func(f *model.FileNode) map[string]struct{} { return f.Dependencies })
}

// Dependents returns the files importing from path, sorted.
func (b *Builder) Dependents(path string) []string {
	return b.lookupSet(path, func(f *model.FileNode) map[string]struct{} { return f.Dependents })
}

// FilesUnder returns the indexed files below dir, sorted.
func (b *Builder) FilesUnder(dir string) []string {
	rel, ok := b.matcher.Rel(dir)
	if !ok {
		return nil
	}
	prefix := rel + "/"
	b.treeMu.RLock()
	defer b.treeMu.RUnlock()
	var out []string
	for p := range b.tree.Files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Builder) lookupSet(path string, set func(*model.FileNode) map[string]struct{}) []string {
	rel, ok := b.matcher.Rel(path)
	if !ok {
		return nil
	}
	b.treeMu.RLock()
	defer b.treeMu.RUnlock()
	f, ok := b.tree.Files[rel]
	if !ok {
		return nil
	}
	return model.SortedSet(set(f))
}

// begin claims the build slot.
func (b *Builder) begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.building {
		return ErrBuildInProgress
	}
	b.building = true
	return nil
}

// finish releases the build slot and schedules paths that arrived meanwhile.
func (b *Builder) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.building = false
	close(b.idle)
	b.idle = make(chan struct{})
	if len(b.pending) > 0 && !b.closed {
		b.armLocked(0)
	}
}

// FullRebuild discovers and parses every file and replaces the tree. Only
// discovery failure is returned; per-file failures are published as
// EventParseError and the file is left out. Once started a rebuild runs to
// completion regardless of ctx.
func (b *Builder) FullRebuild(ctx context.Context) error {
	if err := b.begin(); err != nil {
		return err
	}
	defer b.finish()
	return b.fullRebuild(context.WithoutCancel(ctx))
}

func (b *Builder) fullRebuild(ctx context.Context) error {
	start := time.Now()
	b.publish(Event{Type: EventBuildStarted})

	entries, err := b.matcher.Walk(ctx)
	if err != nil {
		err = fmt.Errorf("discovering files: %w", err)
		b.logger.Error("full rebuild failed", "err", err)
		return err
	}

	nodes := b.parseAll(ctx, entries)
	tree := model.NewCodeTree(b.matcher.Root())
	for _, n := range nodes {
		if n != nil {
			tree.AddFile(n)
		}
	}
	graph.Rebuild(tree)
	tree.LastFullScan = start

	b.treeMu.Lock()
	b.tree = tree
	b.treeMu.Unlock()

	e := Event{
		Type:     EventBuildCompleted,
		Files:    len(tree.Files),
		Symbols:  len(tree.Symbols),
		Duration: time.Since(start),
	}
	b.logger.Info("full rebuild complete", "files", e.Files, "symbols", e.Symbols, "duration", e.Duration)
	b.publish(e)
	b.save(ctx)
	return nil
}

// parseAll parses entries concurrently. Failed files yield nil.
func (b *Builder) parseAll(ctx context.Context, entries []discover.FileEntry) []*model.FileNode {
	nodes := make([]*model.FileNode, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			node, err := b.parseFile(gctx, entry)
			if err != nil {
				b.parseFailed(entry.Path, err)
				return nil
			}
			nodes[i] = node
			return nil
		})
	}
	_ = g.Wait()
	return nodes
}

func (b *Builder) parseFile(ctx context.Context, entry discover.FileEntry) (*model.FileNode, error) {
	src, err := os.ReadFile(b.matcher.Abs(entry.Path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry.Path, err)
	}
	res, err := b.extractor.Extract(ctx, entry.Path, src)
	if err != nil {
		return nil, err
	}
	node := model.NewFileNode(entry.Path)
	node.Language = res.Language
	node.Imports = res.Imports
	node.Exports = res.Exports
	node.LastModified = entry.ModTime
	node.Size = entry.Size
	for _, s := range res.Symbols {
		node.Symbols[s.ID] = s
	}
	return node, nil
}

func (b *Builder) parseFailed(path string, err error) {
	b.logger.Warn("skipping file", "path", path, "err", err)
	b.publish(Event{Type: EventParseError, Path: path, Err: err})
}

// UpdateFile marks path dirty and (re)arms the debounce timer. The path may
// be absolute or relative to the root.
func (b *Builder) UpdateFile(path string) error {
	return b.enqueue(path, opUpdate)
}

// ScheduleRemove queues path for removal in the next debounced pass, so a
// burst of deletions lands as one update.
func (b *Builder) ScheduleRemove(path string) error {
	return b.enqueue(path, opRemove)
}

func (b *Builder) enqueue(path string, o op) error {
	rel, ok := b.matcher.Rel(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending[rel] = o
	if !b.building {
		b.armLocked(b.debounce)
	}
	return nil
}

// armLocked (re)schedules the pending batch. Re-arming cancels the previous
// wake-up.
func (b *Builder) armLocked(d time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, b.runPending)
}

// takeLocked claims the build slot and drains the pending set.
func (b *Builder) takeLocked() map[string]op {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = make(map[string]op)
	b.building = true
	return batch
}

func (b *Builder) runPending() {
	b.mu.Lock()
	if b.building || b.closed || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	defer b.finish()
	b.process(context.Background(), batch)
}

// RemoveFile drops path from the tree and rebuilds the edges. While a pass
// is running the removal is queued for the next pass instead.
func (b *Builder) RemoveFile(path string) error {
	rel, ok := b.matcher.Rel(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.building {
		b.pending[rel] = opRemove
		b.mu.Unlock()
		return nil
	}
	b.building = true
	delete(b.pending, rel)
	b.mu.Unlock()

	defer b.finish()
	b.treeMu.Lock()
	removed := b.tree.RemoveFile(rel)
	if removed {
		graph.Rebuild(b.tree)
	}
	b.treeMu.Unlock()

	if removed {
		b.publish(Event{Type: EventFileRemoved, Path: rel})
		b.save(context.Background())
	}
	return nil
}

// process runs one incremental pass: dirty files are re-parsed outside the
// tree lock, then applied as remove-and-reinsert, then all edges are rebuilt.
func (b *Builder) process(ctx context.Context, batch map[string]op) {
	start := time.Now()
	var updates []discover.FileEntry
	var removals []string
	for rel, o := range batch {
		if o == opRemove {
			removals = append(removals, rel)
			continue
		}
		entry, err := b.matcher.Lookup(rel)
		switch {
		case err == nil:
			updates = append(updates, entry)
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, discover.ErrExcluded):
			removals = append(removals, rel)
		default:
			b.parseFailed(rel, err)
			removals = append(removals, rel)
		}
	}

	nodes := b.parseAll(ctx, updates)
	var updated []string
	for i, n := range nodes {
		if n == nil {
			removals = append(removals, updates[i].Path)
		} else {
			updated = append(updated, n.Path)
		}
	}

	b.treeMu.Lock()
	var removed []string
	for _, rel := range removals {
		if b.tree.RemoveFile(rel) {
			removed = append(removed, rel)
		}
	}
	for _, n := range nodes {
		if n != nil {
			b.tree.AddFile(n)
		}
	}
	graph.Rebuild(b.tree)
	files, symbols := len(b.tree.Files), len(b.tree.Symbols)
	b.treeMu.Unlock()

	sort.Strings(updated)
	sort.Strings(removed)
	e := Event{
		Type:     EventUpdateCompleted,
		Updated:  updated,
		Removed:  removed,
		Files:    files,
		Symbols:  symbols,
		Duration: time.Since(start),
	}
	b.logger.Debug("incremental update complete", "updated", len(updated), "removed", len(removed), "duration", e.Duration)
	b.publish(e)
	b.save(ctx)
}

// Flush runs any pending batch immediately and waits until the builder is
// idle with nothing pending.
func (b *Builder) Flush(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.building {
			idle := b.idle
			b.mu.Unlock()
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return nil
		}
		batch := b.takeLocked()
		b.mu.Unlock()

		b.process(context.Background(), batch)
		b.finish()
	}
}

// Start loads the cached tree. On any load failure it publishes
// EventCacheMiss and runs a full rebuild. On success it schedules a catch-up
// pass for files added, changed or deleted since the cache was written.
func (b *Builder) Start(ctx context.Context) error {
	if b.store == nil {
		b.publish(Event{Type: EventCacheMiss, Err: errors.New("cache disabled")})
		return b.FullRebuild(ctx)
	}
	tree, err := b.store.Load(ctx)
	if err == nil && tree.RootPath != b.Root() {
		err = fmt.Errorf("%w: written for root %s", cache.ErrMalformed, tree.RootPath)
	}
	if err != nil {
		b.logger.Info("cache miss, rebuilding", "err", err)
		b.publish(Event{Type: EventCacheMiss, Err: err})
		return b.FullRebuild(ctx)
	}

	if err := b.begin(); err != nil {
		return err
	}
	b.treeMu.Lock()
	b.tree = tree
	b.treeMu.Unlock()
	b.publish(Event{Type: EventCacheLoaded, Files: len(tree.Files), Symbols: len(tree.Symbols)})

	stale, err := b.stale(ctx, tree)
	b.mu.Lock()
	for rel, o := range stale {
		b.pending[rel] = o
	}
	b.mu.Unlock()
	b.finish()
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	b.logger.Info("cache loaded", "files", len(tree.Files), "stale", len(stale))
	return nil
}

// stale compares the tree against the disk and returns the files to update
// or remove.
func (b *Builder) stale(ctx context.Context, tree *model.CodeTree) (map[string]op, error) {
	entries, err := b.matcher.Walk(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]op)
	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		onDisk[e.Path] = struct{}{}
		f, ok := tree.Files[e.Path]
		if !ok || e.Size != f.Size || (e.ModTime.After(tree.LastFullScan) && !e.ModTime.Equal(f.LastModified)) {
			out[e.Path] = opUpdate
		}
	}
	for p := range tree.Files {
		if _, ok := onDisk[p]; !ok {
			out[p] = opRemove
		}
	}
	return out, nil
}

func (b *Builder) save(ctx context.Context) {
	if b.store == nil {
		return
	}
	b.treeMu.RLock()
	err := b.store.Save(ctx, b.tree)
	b.treeMu.RUnlock()
	if err != nil {
		b.logger.Warn("saving cache failed", "err", err)
		b.publish(Event{Type: EventCacheError, Err: err})
		return
	}
	b.publish(Event{Type: EventCacheSaved})
}

// Close cancels any scheduled pass, waits for a running one and closes all
// subscriber channels. Pending paths are discarded.
func (b *Builder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	for b.building {
		idle := b.idle
		b.mu.Unlock()
		<-idle
		b.mu.Lock()
	}
	b.mu.Unlock()
	b.closeSubscribers()
	return nil
}
