package version

import (
	"testing"

	"github.com/autoloop-io/autoloop/internal/domain"
)

func inlineVersion(code string) domain.Version {
	return domain.Version{Code: domain.CodePayload{Inline: code}}
}

func TestDiff_InlinePayloads(t *testing.T) {
	a := inlineVersion("line1\nline2\nline3\n")
	b := inlineVersion("line1\nchanged\nline3\n")

	files := Diff(a, b)
	if len(files) != 1 {
		t.Fatalf("expected 1 file diff, got %d", len(files))
	}
	if files[0].Name != "main" {
		t.Errorf("inline diff file name = %q, want main", files[0].Name)
	}
	if !files[0].Changed() {
		t.Error("expected file to be marked changed")
	}

	want := []DiffLine{
		{Op: DiffOpContext, Text: "line1"},
		{Op: DiffOpRemove, Text: "line2"},
		{Op: DiffOpAdd, Text: "changed"},
		{Op: DiffOpContext, Text: "line3"},
	}
	if len(files[0].Lines) != len(want) {
		t.Fatalf("expected %d diff lines, got %d: %v", len(want), len(files[0].Lines), files[0].Lines)
	}
	for i, l := range files[0].Lines {
		if l != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, l, want[i])
		}
	}
}

func TestDiff_IdenticalPayloads(t *testing.T) {
	a := inlineVersion("same\ncontent\n")
	b := inlineVersion("same\ncontent\n")

	files := Diff(a, b)
	if len(files) != 1 {
		t.Fatalf("expected 1 file diff, got %d", len(files))
	}
	if files[0].Changed() {
		t.Error("identical content must not be marked changed")
	}
	for _, l := range files[0].Lines {
		if l.Op != DiffOpContext {
			t.Errorf("identical content produced op %q", l.Op)
		}
	}
}

func TestDiff_AddedAndRemovedFiles(t *testing.T) {
	a := domain.Version{Code: domain.CodePayload{Files: []domain.CodeFile{
		{Name: "main.py", Content: "print('v1')\n"},
		{Name: "legacy.py", Content: "old\n"},
	}}}
	b := domain.Version{Code: domain.CodePayload{Files: []domain.CodeFile{
		{Name: "main.py", Content: "print('v2')\n"},
		{Name: "helper.py", Content: "new\n"},
	}}}

	files := Diff(a, b)
	byName := make(map[string]FileDiff, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	if len(files) != 3 {
		t.Fatalf("expected 3 file diffs, got %d", len(files))
	}

	helper, ok := byName["helper.py"]
	if !ok {
		t.Fatal("missing diff for added file helper.py")
	}
	for _, l := range helper.Lines {
		if l.Op != DiffOpAdd {
			t.Errorf("added file produced op %q", l.Op)
		}
	}

	legacy, ok := byName["legacy.py"]
	if !ok {
		t.Fatal("missing diff for removed file legacy.py")
	}
	for _, l := range legacy.Lines {
		if l.Op != DiffOpRemove {
			t.Errorf("removed file produced op %q", l.Op)
		}
	}

	if !byName["main.py"].Changed() {
		t.Error("modified main.py not marked changed")
	}
}

func TestDiff_EmptySides(t *testing.T) {
	files := Diff(inlineVersion(""), inlineVersion("hello\n"))
	if len(files) != 1 {
		t.Fatalf("expected 1 file diff, got %d", len(files))
	}
	if len(files[0].Lines) != 1 || files[0].Lines[0].Op != DiffOpAdd {
		t.Errorf("diff from empty = %v, want single add", files[0].Lines)
	}
}
