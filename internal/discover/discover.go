// Package discover finds indexable source files in a repository.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/codetree/internal/lang"
)

// ErrExcluded is returned by Lookup for files the rules do not index.
var ErrExcluded = errors.New("path excluded")

// DefaultMaxFileSize is the size above which files are not indexed.
const DefaultMaxFileSize = 1 << 20

// DefaultInclude and DefaultExclude are the glob rules used when none are
// configured.
var (
	DefaultInclude = []string{"**/*.{ts,tsx,mts,cts,js,jsx,mjs,cjs,go,py}"}
	DefaultExclude = []string{
		"**/node_modules/**",
		"**/dist/**",
		"**/build/**",
		"**/.git/**",
		"**/vendor/**",
		"**/*.min.js",
	}
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // relative to the root, slash separated
	Language string
	Size     int64
	ModTime  time.Time
}

// Options configures which files are indexed. Globs use doublestar syntax:
// "**" crosses directories, "*" and "?" do not.
type Options struct {
	Include     []string
	Exclude     []string
	MaxFileSize int64
	Languages   []string
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"egg-info":      {},
	"coverage":      {},
}

// Matcher decides whether a root-relative path is indexed. It is safe for
// concurrent use.
//
// Inside a git work tree the file list from git ls-files is authoritative for
// the paths it names; other paths fall back to the .gitignore files of their
// ancestor directories and .git/info/exclude.
type Matcher struct {
	root    string
	include []string
	exclude []string
	maxSize int64
	langs   map[string]struct{}
	ignores *ignoreSet

	gitMu sync.RWMutex
	git   map[string]struct{} // nil outside a git work tree
}

// NewMatcher validates opts and snapshots the git file list, if any.
func NewMatcher(root string, opts Options) (*Matcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	m := &Matcher{
		root:    abs,
		include: opts.Include,
		exclude: opts.Exclude,
		maxSize: opts.MaxFileSize,
		langs:   make(map[string]struct{}, len(opts.Languages)),
		ignores: newIgnoreSet(abs),
		git:     gitLsFiles(abs),
	}
	if len(m.include) == 0 {
		m.include = DefaultInclude
	}
	if m.exclude == nil {
		m.exclude = DefaultExclude
	}
	if m.maxSize <= 0 {
		m.maxSize = DefaultMaxFileSize
	}
	for _, p := range append(append([]string{}, m.include...), m.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q", p)
		}
	}
	for _, l := range opts.Languages {
		m.langs[l] = struct{}{}
	}
	return m, nil
}

// Root returns the absolute root directory.
func (m *Matcher) Root() string { return m.root }

// Rel converts p, absolute or relative to the root, into the slash-separated
// root-relative form used as a file key. It reports false for paths outside
// the root.
func (m *Matcher) Rel(p string) (string, bool) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return "", false
		}
		p = rel
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") || strings.HasPrefix(p, "/") {
		return "", false
	}
	return p, true
}

// Abs returns the filesystem path of a root-relative key.
func (m *Matcher) Abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

// Match reports whether the root-relative path rel is indexed by name alone:
// supported language, included, not excluded, not ignored, not hidden.
func (m *Matcher) Match(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
		if _, skip := skipDirs[part]; skip {
			return false
		}
	}
	name := lang.ForExtension(path.Ext(rel))
	if name == "" {
		return false
	}
	if len(m.langs) > 0 {
		if _, ok := m.langs[name]; !ok {
			return false
		}
	}
	if !matchAny(m.include, rel) || matchAny(m.exclude, rel) {
		return false
	}
	if m.tracked(rel) {
		return true
	}
	return !m.ignores.ignored(rel, false)
}

// tracked reports whether git listed rel in the latest snapshot.
func (m *Matcher) tracked(rel string) bool {
	m.gitMu.RLock()
	defer m.gitMu.RUnlock()
	_, ok := m.git[rel]
	return ok
}

// SkipDir reports whether the directory rel should not be descended into.
func (m *Matcher) SkipDir(rel string) bool {
	name := path.Base(rel)
	if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
		return true
	}
	return m.ignores.ignored(rel, true)
}

// Lookup stats rel and returns its entry. It returns an error wrapping
// fs.ErrNotExist when the file is gone, and ErrExcluded when it exists but is
// not indexed (rules, symlink, directory or size limit).
func (m *Matcher) Lookup(rel string) (FileEntry, error) {
	info, err := os.Lstat(m.Abs(rel))
	if err != nil {
		return FileEntry{}, err
	}
	if !info.Mode().IsRegular() || !m.Match(rel) || info.Size() > m.maxSize {
		return FileEntry{}, fmt.Errorf("%s: %w", rel, ErrExcluded)
	}
	return m.entry(rel, info), nil
}

func (m *Matcher) entry(rel string, info fs.FileInfo) FileEntry {
	return FileEntry{
		Path:     rel,
		Language: lang.ForExtension(path.Ext(rel)),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// Walk returns every indexed file under the root, sorted by path. A missing
// or non-directory root is an error; unreadable entries are skipped. In a git
// work tree only files listed by git are returned, and the listing is
// refreshed for later Match calls.
func (m *Matcher) Walk(ctx context.Context) ([]FileEntry, error) {
	info, err := os.Stat(m.root)
	if err != nil {
		return nil, fmt.Errorf("reading root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", m.root)
	}

	git := gitLsFiles(m.root)
	m.gitMu.Lock()
	m.git = git
	m.gitMu.Unlock()

	var results []FileEntry
	err = filepath.WalkDir(m.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == m.root {
			return nil
		}
		rel, ok := m.Rel(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if m.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		// Skip symlinks and other irregular files.
		if !d.Type().IsRegular() || !m.Match(rel) {
			return nil
		}
		if git != nil {
			if _, ok := git[rel]; !ok {
				return nil
			}
		}
		fi, err := d.Info()
		if err != nil || fi.Size() > m.maxSize {
			return nil
		}
		results = append(results, m.entry(rel, fi))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

// Files discovers indexed source files under root.
func Files(ctx context.Context, root string, opts Options) ([]FileEntry, error) {
	m, err := NewMatcher(root, opts)
	if err != nil {
		return nil, err
	}
	return m.Walk(ctx)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// MatchGlob reports whether rel matches pattern. Patterns without a slash
// match against the base name as well, so "*.service.*" finds nested files.
func MatchGlob(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, path.Base(rel))
		return ok
	}
	return false
}

var testGlobs = []string{
	"**/*.test.*",
	"**/*.spec.*",
	"**/*_test.go",
	"**/*_test.py",
	"**/test_*.py",
	"**/__tests__/**",
	"**/tests/**",
	"**/test/**",
	"**/spec/**",
}

// IsTestFile reports whether rel looks like a test file by name or location.
func IsTestFile(rel string) bool {
	return matchAny(testGlobs, rel)
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

// ignoreSet holds the .gitignore of every directory consulted so far, keyed
// by root-relative directory ("" for the root). Files are compiled lazily.
type ignoreSet struct {
	root    string
	exclude *ignore.GitIgnore // .git/info/exclude

	mu   sync.Mutex
	dirs map[string]*ignore.GitIgnore
}

func newIgnoreSet(root string) *ignoreSet {
	s := &ignoreSet{root: root, dirs: make(map[string]*ignore.GitIgnore)}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".git", "info", "exclude")); err == nil {
		s.exclude = gi
	}
	return s
}

func (s *ignoreSet) load(dir string) *ignore.GitIgnore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gi, ok := s.dirs[dir]; ok {
		return gi
	}
	gi, err := ignore.CompileIgnoreFile(filepath.Join(s.root, filepath.FromSlash(dir), ".gitignore"))
	if err != nil {
		gi = nil
	}
	s.dirs[dir] = gi
	return gi
}

// ignored reports whether rel is ignored by .git/info/exclude or by the
// .gitignore of any ancestor directory, with patterns applied relative to the
// directory holding them.
func (s *ignoreSet) ignored(rel string, isDir bool) bool {
	matches := func(gi *ignore.GitIgnore, p string) bool {
		return gi.MatchesPath(p) || isDir && gi.MatchesPath(p+"/")
	}
	if s.exclude != nil && matches(s.exclude, rel) {
		return true
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		dir := strings.Join(parts[:i], "/")
		gi := s.load(dir)
		if gi == nil {
			continue
		}
		sub := rel
		if dir != "" {
			sub = strings.TrimPrefix(rel, dir+"/")
		}
		if matches(gi, sub) {
			return true
		}
	}
	return false
}
