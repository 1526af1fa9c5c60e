package domain

import (
	"testing"
	"time"
)

func TestCodePayload_Empty(t *testing.T) {
	cases := []struct {
		name    string
		payload CodePayload
		want    bool
	}{
		{"zero value", CodePayload{}, true},
		{"whitespace inline", CodePayload{Inline: "  \n\t"}, true},
		{"inline code", CodePayload{Inline: "print('hi')"}, false},
		{"files all blank", CodePayload{Files: []CodeFile{{Name: "a.py", Content: "   "}}}, true},
		{"one file with code", CodePayload{Files: []CodeFile{
			{Name: "a.py", Content: ""},
			{Name: "b.py", Content: "x = 1"},
		}}, false},
	}

	for _, tc := range cases {
		if got := tc.payload.Empty(); got != tc.want {
			t.Errorf("%s: Empty() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCodePayload_Clone(t *testing.T) {
	orig := CodePayload{Files: []CodeFile{{Name: "main.py", Content: "a"}}}
	clone := orig.Clone()

	clone.Files[0].Content = "b"
	if orig.Files[0].Content != "a" {
		t.Error("mutating the clone changed the original")
	}
}

func TestCodePayload_Equal(t *testing.T) {
	a := CodePayload{Files: []CodeFile{{Name: "main.py", Content: "x"}}}
	b := CodePayload{Files: []CodeFile{{Name: "main.py", Content: "x"}}}
	if !a.Equal(b) {
		t.Error("identical payloads reported unequal")
	}

	b.Files[0].Content = "y"
	if a.Equal(b) {
		t.Error("different payloads reported equal")
	}

	if (CodePayload{Inline: "x"}).Equal(CodePayload{Inline: "y"}) {
		t.Error("different inline payloads reported equal")
	}
}

func TestAutomation_Deleted(t *testing.T) {
	var a Automation
	if a.Deleted() {
		t.Error("fresh automation reported deleted")
	}
	now := time.Now()
	a.DeletedAt = &now
	if !a.Deleted() {
		t.Error("soft-deleted automation not reported deleted")
	}
}
