// Package semver parses Eclipse platform versions such as "3.7" or "4.2.1".
package semver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	sv "github.com/Masterminds/semver"
)

type Version = sv.Version

var eclipseVersionRegex = regexp.MustCompile(`^v?[0-9]+\.[0-9]+(\.[0-9]+)?$`)

// IsEclipse reports whether s names an Eclipse platform version, like the name of an
// update site directory or the stem of its zip.
func IsEclipse(s string) bool {
	return eclipseVersionRegex.MatchString(strings.TrimSpace(s))
}

func Parse(s string) (*Version, error) {
	s = strings.TrimSpace(s)
	if !IsEclipse(s) {
		return nil, fmt.Errorf("invalid eclipse version %q: expected MAJOR.MINOR[.SERVICE]", s)
	}
	return sv.NewVersion(s)
}

// Sort orders Eclipse version strings ascending, keeping their original spelling.
func Sort(versions []string) ([]string, error) {
	parsed := make(sv.Collection, 0, len(versions))
	for _, v := range versions {
		p, err := Parse(v)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	sort.Sort(parsed)

	res := make([]string, len(parsed))
	for i := range parsed {
		res[i] = parsed[i].Original()
	}
	return res, nil
}

// Satisfies reports whether version matches constraint, e.g. ">= 3.6".
func Satisfies(version, constraint string) (bool, error) {
	v, err := Parse(version)
	if err != nil {
		return false, err
	}
	c, err := sv.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
