package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codetree/internal/config"
	"github.com/phobologic/codetree/internal/search"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "src/models/user.ts", `export interface User {
  id: string;
  name: string;
}

export class UserService {
  getUserById(id: string): User {
    return { id, name: "" };
  }
}
`)
	writeFile(t, dir, "src/api/handler.ts", `import { UserService } from "../models/user";

export function handleRequest(id: string) {
  return new UserService().getUserById(id);
}
`)
	writeFile(t, dir, "tools/report.py", `def build_report(rows):
    return len(rows)
`)
	return dir
}

// runCLI runs codetree against root and returns stdout.
func runCLI(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"--root", root}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, root, args...)
	require.NoError(t, err)
	return out
}

func TestRunIndex(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "index")
	assert.Contains(t, out, "files: 3")
	assert.Contains(t, out, "dependencies: 1")
	assert.FileExists(t, filepath.Join(dir, ".codetree", "cache.json.zst"))

	// Second run starts from the cache and reports the same tree.
	assert.Equal(t, out, mustRun(t, dir, "index"))
}

func TestRunIndexPicksUpChanges(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	mustRun(t, dir, "index")

	writeFile(t, dir, "src/api/audit.ts", "export function audit(): void {}\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "tools", "report.py")))

	out := mustRun(t, dir, "index")
	assert.Contains(t, out, "files: 3")
	assert.Contains(t, mustRun(t, dir, "search", "audit"), "audit,function,src/api/audit.ts")
}

func TestRunNoCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "--no-cache", "index")
	assert.Contains(t, out, "files: 3")
	assert.NotContains(t, out, "cache:")
	assert.NoDirExists(t, filepath.Join(dir, ".codetree"))
}

func TestRunBoltBackend(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	writeFile(t, dir, ".codetree.yaml", "cache:\n  backend: bolt\n  path: .codetree/index.db\n")

	out := mustRun(t, dir, "index")
	assert.Contains(t, out, "files: 3")
	assert.FileExists(t, filepath.Join(dir, ".codetree", "index.db"))
	assert.Equal(t, out, mustRun(t, dir, "index"))
}

func TestRunLanguageFilter(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "--no-cache", "-l", "python", "index")
	assert.Contains(t, out, "files: 1")

	_, err := runCLI(t, dir, "--no-cache", "-l", "cobol", "index")
	assert.ErrorContains(t, err, `unsupported language "cobol"`)
}

func TestRunMap(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "map")
	assert.Contains(t, out, "files[3]{path,language,rank}:")
	assert.Contains(t, out, "  src/api/handler.ts,src/models/user.ts,UserService")
	assert.Contains(t, out, "handleRequest")

	out = mustRun(t, dir, "map", "-s", "UserService", "-m")
	assert.Contains(t, out, "members[1]{file,name,kind,line,signature}:")
	assert.Contains(t, out, "getUserById")
	assert.NotContains(t, out, "tools/report.py")

	out = mustRun(t, dir, "map", "-n", "1")
	assert.Contains(t, out, "files[1]{path,language,rank}:")

	_, err := runCLI(t, dir, "map", "-f", "nothing-matches")
	assert.ErrorContains(t, err, "no files matched")
}

func TestRunSearch(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "search", "getUser")
	assert.Contains(t, out, "query: getUser")
	assert.Contains(t, out, "getUserById,method,src/models/user.ts,7,")

	out = mustRun(t, dir, "search", "User", "-k", "interface")
	assert.Contains(t, out, "User,interface,src/models/user.ts,1,1.0000,exact,")
	assert.NotContains(t, out, "UserService")

	_, err := runCLI(t, dir, "search", "User", "-k", "widget")
	assert.ErrorContains(t, err, `unknown symbol kind "widget"`)

	out = mustRun(t, dir, "complete", "getU")
	assert.Contains(t, out, "getUserById")
}

func TestRunUsagesAndRelated(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "usages", "UserService")
	assert.Contains(t, out, "UserService,src/models/user.ts,src/api/handler.ts,1,named,../models/user")

	out = mustRun(t, dir, "related", "UserService")
	assert.Contains(t, out, "UserService,getUserById,method,src/models/user.ts,7,child,1,")
	assert.Contains(t, out, "UserService,User,interface,src/models/user.ts,1,sibling,1,")

	_, err := runCLI(t, dir, "usages", "NoSuchThing")
	assert.ErrorIs(t, err, search.ErrUnknownSymbol)
}

func TestRunPick(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, dir, "pick", "UserService")
	assert.Contains(t, out, "query: UserService")
	assert.Contains(t, out, "src/models/user.ts,")
	assert.NotContains(t, out, "tools/report.py")

	out = mustRun(t, dir, "pick", "--near", "src/models/user.ts")
	assert.Contains(t, out, "src/api/handler.ts,0.7000,high,imports src/models/user.ts")

	out = mustRun(t, dir, "pick", "--near", "./src/models/user.ts")
	assert.Contains(t, out, "src/api/handler.ts,0.7000,high,imports src/models/user.ts")
	out = mustRun(t, dir, "pick", "--near", filepath.Join(dir, "src", "models", "user.ts"))
	assert.Contains(t, out, "src/api/handler.ts,0.7000,high,imports src/models/user.ts")

	out = mustRun(t, dir, "pick", "UserService", "--context", "./tools/report.py")
	assert.Contains(t, out, "tools/report.py,0.8000,high,context file")
	assert.NotContains(t, out, "./tools/report.py")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	_, err := runCLI(t, filepath.Join(dir, "src", "api", "handler.ts"), "index")
	assert.ErrorContains(t, err, "not a directory")

	_, err = runCLI(t, dir, "pick")
	assert.ErrorContains(t, err, "a query or --near is required")

	writeFile(t, dir, ".codetree.yaml", "search:\n  fuzzy_threshold: 2\n")
	_, err = runCLI(t, dir, "index")
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "search.fuzzy_threshold", cerr.Field)
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &stdout, &stderr))
	assert.Equal(t, "codetree dev\n", stdout.String())
}
