package version

import "testing"

func TestNextSemVer(t *testing.T) {
	cases := []struct {
		current string
		bump    Bump
		want    string
	}{
		{"0.0.1", BumpPatch, "0.0.2"},
		{"0.0.9", BumpPatch, "0.0.10"},
		{"0.0.5", BumpMinor, "0.1.0"},
		{"0.3.7", BumpMajor, "1.0.0"},
		{"1.2.3", BumpPatch, "1.2.4"},
		{"1.2.3", BumpMinor, "1.3.0"},
		{"1.2.3", BumpMajor, "2.0.0"},
	}

	for _, tc := range cases {
		got, err := nextSemVer(tc.current, tc.bump)
		if err != nil {
			t.Fatalf("nextSemVer(%s, %s): %v", tc.current, tc.bump, err)
		}
		if got != tc.want {
			t.Errorf("nextSemVer(%s, %s) = %s, want %s", tc.current, tc.bump, got, tc.want)
		}
	}
}

func TestNextSemVer_Malformed(t *testing.T) {
	if _, err := nextSemVer("not-a-version", BumpPatch); err == nil {
		t.Error("expected error for malformed version")
	}
}

func TestBump_String(t *testing.T) {
	if BumpPatch.String() != "patch" || BumpMinor.String() != "minor" || BumpMajor.String() != "major" {
		t.Errorf("unexpected bump names: %s %s %s", BumpPatch, BumpMinor, BumpMajor)
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"0.0.1", "0.0.2", -1},
		{"0.0.2", "0.0.1", 1},
		{"1.2.3", "1.2.3", 0},
		{"0.10.0", "0.9.9", 1},
		{"2.0.0", "1.99.99", 1},
		{"garbage", "0.0.1", -1},
		{"0.0.1", "garbage", 1},
		{"garbage", "junk", 0},
	}

	for _, tc := range cases {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
