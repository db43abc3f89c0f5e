package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/codetree/internal/builder"
	"github.com/phobologic/codetree/internal/toon"
	"github.com/phobologic/codetree/internal/watcher"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current while files change",
		Long: `Watch the repository and apply changes to the cached index after each
quiet period. One TOON line is printed per update until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			events := a.builder.Subscribe(64)
			w, err := watcher.New(a.builder.Matcher(), watcher.UpdaterHandler{Updater: a.builder, Logger: a.logger}, a.logger)
			if err != nil {
				return fmt.Errorf("creating watcher: %w", err)
			}
			if err := w.Start(); err != nil {
				_ = w.Stop()
				return fmt.Errorf("starting watcher: %w", err)
			}
			defer func() { _ = w.Stop() }()

			out := cmd.OutOrStdout()
			tree := a.builder.Tree()
			writeEvent(out, "ready", len(tree.Files), len(tree.Symbols), "")

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					if e.TreeChanged() {
						a.picker.UpdateTree(a.builder.Tree())
					}
					reportEvent(out, e, a.builder)
				}
			}
		},
	}
}

func reportEvent(out io.Writer, e builder.Event, b *builder.Builder) {
	switch e.Type {
	case builder.EventUpdateCompleted:
		detail := strings.Join(append(append([]string{}, e.Updated...), e.Removed...), " ")
		writeEvent(out, string(e.Type), e.Files, e.Symbols, detail)
	case builder.EventBuildCompleted:
		writeEvent(out, string(e.Type), e.Files, e.Symbols, e.Duration.String())
	case builder.EventFileRemoved, builder.EventParseError:
		tree := b.Tree()
		writeEvent(out, string(e.Type), len(tree.Files), len(tree.Symbols), e.Path)
	}
}

func writeEvent(out io.Writer, event string, files, symbols int, detail string) {
	var doc toon.Document
	doc.Table("event", []string{"type", "files", "symbols", "detail"},
		[][]string{{event, strconv.Itoa(files), strconv.Itoa(symbols), detail}})
	_, _ = fmt.Fprintln(out, doc.String())
}
