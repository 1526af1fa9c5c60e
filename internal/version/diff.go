package version

import (
	"strings"

	"github.com/autoloop-io/autoloop/internal/domain"
)

type DiffOp string

const (
	DiffOpContext DiffOp = " "
	DiffOpAdd     DiffOp = "+"
	DiffOpRemove  DiffOp = "-"
)

type DiffLine struct {
	Op   DiffOp
	Text string
}

// FileDiff is the line-level diff of one file between two snapshots.
type FileDiff struct {
	Name  string
	Lines []DiffLine
}

// Changed reports whether the file differs between the two snapshots.
func (d FileDiff) Changed() bool {
	for _, l := range d.Lines {
		if l.Op != DiffOpContext {
			return true
		}
	}
	return false
}

// inlineFileName names the synthetic file used when a payload is a
// single inline blob rather than a file set.
const inlineFileName = "main"

// Diff computes a structured line-level diff per file between two
// version snapshots. Pure function, no side effects. Files only present
// in a appear as all-removed; files only present in b as all-added.
func Diff(a, b domain.Version) []FileDiff {
	af := payloadFiles(a.Code)
	bf := payloadFiles(b.Code)

	inA := make(map[string]string, len(af))
	for _, f := range af {
		inA[f.Name] = f.Content
	}
	inB := make(map[string]string, len(bf))
	for _, f := range bf {
		inB[f.Name] = f.Content
	}

	var out []FileDiff

	// Files in b's order first, then files that only a still has.
	for _, f := range bf {
		out = append(out, FileDiff{
			Name:  f.Name,
			Lines: diffLines(splitLines(inA[f.Name]), splitLines(f.Content)),
		})
	}
	for _, f := range af {
		if _, ok := inB[f.Name]; ok {
			continue
		}
		out = append(out, FileDiff{
			Name:  f.Name,
			Lines: diffLines(splitLines(f.Content), nil),
		})
	}

	return out
}

func payloadFiles(p domain.CodePayload) []domain.CodeFile {
	if p.MultiFile() {
		return p.Files
	}
	return []domain.CodeFile{{Name: inlineFileName, Content: p.Inline}}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// diffLines produces a full-context diff via a longest-common-subsequence
// table. Snapshot payloads are small (user automation scripts), so the
// quadratic table is fine.
func diffLines(a, b []string) []DiffLine {
	n, m := len(a), len(b)

	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out []DiffLine
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			out = append(out, DiffLine{Op: DiffOpContext, Text: a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, DiffLine{Op: DiffOpRemove, Text: a[i]})
			i++
		default:
			out = append(out, DiffLine{Op: DiffOpAdd, Text: b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, DiffLine{Op: DiffOpRemove, Text: a[i]})
	}
	for ; j < m; j++ {
		out = append(out, DiffLine{Op: DiffOpAdd, Text: b[j]})
	}

	return out
}
