package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when a model response has none of the expected
// labelled lines.
var ErrUnparseable = errors.New("unparseable model response")

// Intent is the structured reading of a file query.
type Intent struct {
	Primary  string
	Keywords []string
	Kinds    []string
	Patterns []string
	Action   string
}

// IntentPrompt asks the model to describe query with fixed labels.
func IntentPrompt(query string) string {
	return `Analyze this request to find relevant source files and answer with exactly these lines:
PRIMARY: <the main identifier or concept to search for>
KEYWORDS: <comma-separated secondary search terms>
KINDS: <comma-separated symbol kinds among class, interface, type, enum, function, method, property, variable, or none>
PATTERNS: <comma-separated file name globs such as *.service.*, or none>
ACTION: <one of find, modify, create, debug, test, understand>

Request: ` + query + "\n"
}

// ParseIntent reads the labelled lines produced for IntentPrompt. PRIMARY is
// required; other labels are optional.
func ParseIntent(text string) (Intent, error) {
	var in Intent
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(label)) {
		case "PRIMARY":
			in.Primary = value
		case "KEYWORDS":
			in.Keywords = splitList(value)
		case "KINDS":
			in.Kinds = splitList(strings.ToLower(value))
		case "PATTERNS":
			in.Patterns = splitList(value)
		case "ACTION":
			in.Action = strings.ToLower(value)
		}
	}
	if in.Primary == "" {
		return Intent{}, ErrUnparseable
	}
	return in, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part == "" || strings.EqualFold(part, "none") {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Candidate is a file offered for reranking.
type Candidate struct {
	Path    string
	Symbols []string
}

// Rank is one parsed RANK line: a zero-based candidate index, a score in
// [0,1] and the model's reason.
type Rank struct {
	Index  int
	Score  float64
	Reason string
}

// RerankPrompt asks the model to score each candidate for query.
func RerankPrompt(query string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Rate how relevant each file is to the request, from 0.0 to 1.0.\n")
	b.WriteString("Answer with one line per file: RANK: <index>,<score>,<reason>\n\n")
	fmt.Fprintf(&b, "Request: %s\n\nFiles:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s", i, c.Path)
		if len(c.Symbols) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(c.Symbols, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseRanking reads RANK lines, skipping any whose index is outside
// [0, n) or whose score is not a number. Scores are clamped to [0,1].
func ParseRanking(text string, n int) ([]Rank, error) {
	var ranks []Rank
	seen := make(map[int]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 5 || !strings.EqualFold(line[:5], "RANK:") {
			continue
		}
		fields := strings.SplitN(line[5:], ",", 3)
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		score = max(0, min(1, score))
		r := Rank{Index: idx, Score: score}
		if len(fields) == 3 {
			r.Reason = strings.TrimSpace(fields[2])
		}
		seen[idx] = true
		ranks = append(ranks, r)
	}
	if len(ranks) == 0 {
		return nil, ErrUnparseable
	}
	return ranks, nil
}
