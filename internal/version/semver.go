package version

import "fmt"

// Bump selects which semver component the next version increments.
// PATCH is the default; callers flag MAJOR/MINOR for structural changes
// such as a file-set reshape.
type Bump int

const (
	BumpPatch Bump = iota
	BumpMinor
	BumpMajor
)

func (b Bump) String() string {
	switch b {
	case BumpMajor:
		return "major"
	case BumpMinor:
		return "minor"
	default:
		return "patch"
	}
}

const initialSemVer = "0.0.1"

func parseSemVer(s string) (major, minor, patch int, err error) {
	if _, err = fmt.Sscanf(s, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return 0, 0, 0, fmt.Errorf("parse semver %q: %w", s, err)
	}
	return major, minor, patch, nil
}

func nextSemVer(current string, bump Bump) (string, error) {
	major, minor, patch, err := parseSemVer(current)
	if err != nil {
		return "", err
	}
	switch bump {
	case BumpMajor:
		major, minor, patch = major+1, 0, 0
	case BumpMinor:
		minor, patch = minor+1, 0
	default:
		patch++
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch), nil
}

// Compare orders two MAJOR.MINOR.PATCH strings: -1, 0 or 1.
// Malformed input sorts before any well-formed version.
func Compare(a, b string) int {
	am, an, ap, aerr := parseSemVer(a)
	bm, bn, bp, berr := parseSemVer(b)
	if aerr != nil || berr != nil {
		if aerr != nil && berr != nil {
			return 0
		}
		if aerr != nil {
			return -1
		}
		return 1
	}
	for _, d := range []int{am - bm, an - bn, ap - bp} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}
