// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/codetree/internal/ranking"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Document accumulates top-level fields and tables in order.
type Document struct {
	parts []string
}

// Field appends a "key: value" line.
func (d *Document) Field(key, value string) {
	d.parts = append(d.parts, fmt.Sprintf("%s: %s", key, encodeValue(value)))
}

// Table appends a tabular array; every row must have one cell per column.
func (d *Document) Table(name string, columns []string, rows [][]string) {
	d.parts = append(d.parts, formatTabular(name, columns, rows))
}

// String returns the encoded document.
func (d *Document) String() string {
	return strings.Join(d.parts, "\n")
}

// Score formats a relevance or rank value.
func Score(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// EncodeMap converts a RepoMap into TOON format.
func EncodeMap(rm *ranking.RepoMap) string {
	var doc Document

	doc.Field("repo", rm.RepoName)
	doc.Field("root", rm.Root)

	var fileRows [][]string
	for i := range rm.Files {
		fi := &rm.Files[i]
		fileRows = append(fileRows, []string{fi.Path, fi.Language, Score(fi.Rank)})
	}
	doc.Table("files", []string{"path", "language", "rank"}, fileRows)

	var symbolRows [][]string
	for i := range rm.Files {
		fi := &rm.Files[i]
		for _, s := range fi.TopLevel() {
			symbolRows = append(symbolRows, []string{
				fi.Path,
				s.Name,
				string(s.Kind),
				strconv.Itoa(s.StartLine),
				yesNo(s.IsExported),
				s.Signature,
			})
		}
	}
	doc.Table("symbols", []string{"file", "name", "kind", "line", "exported", "signature"}, symbolRows)

	var depRows [][]string
	for i := range rm.Dependencies {
		d := &rm.Dependencies[i]
		depRows = append(depRows, []string{d.From, d.To, strings.Join(d.Symbols, " ")})
	}
	doc.Table("dependencies", []string{"source", "target", "symbols"}, depRows)

	if len(rm.Members) > 0 {
		var memberRows [][]string
		for _, m := range rm.Members {
			memberRows = append(memberRows, []string{
				m.FilePath,
				m.Name,
				string(m.Kind),
				strconv.Itoa(m.StartLine),
				m.Signature,
			})
		}
		doc.Table("members", []string{"file", "name", "kind", "line", "signature"}, memberRows)
	}

	return doc.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
