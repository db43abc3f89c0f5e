package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- codetree:start -->"
	sentinelEnd   = "<!-- codetree:end -->"
)

// newInitCmd writes (or updates) a codetree usage section in an agent
// instructions file.
func newInitCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "init [path-to-CLAUDE.md]",
		Short: "Write a codetree usage section to an agent instructions file",
		Long: `Write a codetree usage section to a CLAUDE.md file. The section is wrapped
in sentinel comments so it can be updated in place on subsequent runs without
touching surrounding content. Creates the file if it does not exist.

path-to-CLAUDE.md defaults to ./CLAUDE.md.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := generateSection()
			stdout := cmd.OutOrStdout()

			// --dry-run with no path: just print the section itself.
			if dryRun && len(args) == 0 {
				_, _ = fmt.Fprintln(stdout, section)
				return nil
			}

			path := "CLAUDE.md"
			if len(args) > 0 {
				path = args[0]
			}

			existing, _ := os.ReadFile(path)
			updated := applySection(string(existing), section)

			if dryRun {
				_, _ = fmt.Fprint(stdout, updated)
				return nil
			}

			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote codetree section to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// generateSection returns the full sentinel-wrapped codetree documentation block.
func generateSection() string {
	body := `## codetree: Code Index

Use ` + "`codetree`" + ` via the Bash tool to locate code instead of broad Glob/Grep
exploration. It keeps a cached tree-sitter index of files, symbols and imports
under ` + "`.codetree/`" + ` and answers from it in TOON.

**Availability:** Check with ` + "`codetree --version`" + ` first; skip gracefully if
not found.

**Run it:**
` + "```" + `bash
codetree map -n 20                          # top 20 files by import centrality
codetree map -s Session -m                  # files declaring Session, with members
codetree search getUser                     # exact, prefix, fuzzy, camelCase, acronym
codetree search gubi -k function,method     # filter by symbol kind
codetree usages UserService                 # files importing a symbol
codetree related UserService                # siblings, members and imported symbols
codetree pick "where are sessions refreshed" # files relevant to a task
codetree pick --near src/auth/session.ts    # files around a path in the import graph
codetree index -l go,python                 # restrict languages and refresh the cache
` + "```" + `

**Caching:** The first run parses the whole repository; later runs only reparse
changed files. Add ` + "`.codetree/`" + ` to ` + "`.gitignore`" + `. ` + "`codetree watch`" + ` keeps the
cache current while you edit.

**All flags:** ` + "`codetree --help`" + ` and ` + "`codetree <command> --help`" + `

**How to use the output, follow these rules:**

1. **Start from ` + "`pick`" + ` or ` + "`map`" + `.** Read the returned files in order; the
   scores already combine symbol matches, path hints and import centrality.

2. **Use ` + "`search`" + ` instead of Grep to find definitions.** Results carry file,
   line and kind; abbreviations like ` + "`gubi`" + ` match ` + "`getUserById`" + `.

3. **Use ` + "`usages`" + ` and ` + "`related`" + ` before editing a symbol.** They list the
   importing files and neighbouring declarations that a change may affect.

4. **Only fall back to Glob/Grep for text codetree does not index**, such as
   string literals, comments or call sites inside function bodies.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
