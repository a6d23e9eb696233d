package upgrade

import (
	"errors"
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// ErrInvalidVersion reports a version string that is not a dotted numeric
// version such as "1.2.9", "1.2.9.1" or "1.3.0rc1".
var ErrInvalidVersion = errors.New("invalid version")

func parse(v string) (*goversion.Version, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}
	parsed, err := goversion.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return parsed, nil
}

// CompareVersions orders two dotted versions. It returns -1, 0 or +1 as a
// is older than, equal to, or newer than b. Any number of segments is
// accepted and missing trailing segments count as zero, so "1.2" equals
// "1.2.0" and "1.2.9.1" is newer than "1.2.9". A pre-release suffix sorts
// before its release ("1.3.0rc1" < "1.3.0").
func CompareVersions(a, b string) (int, error) {
	va, err := parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// ValidVersion reports whether v can be ordered by CompareVersions.
func ValidVersion(v string) bool {
	_, err := parse(v)
	return err == nil
}
