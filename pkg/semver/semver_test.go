package semver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsEclipse(t *testing.T) {
	testcases := map[string]bool{
		"3.7":          true,
		"4.2.1":        true,
		"v3.6":         true,
		"3":            false,
		"latest":       false,
		"3.7.zip":      false,
		"201105021200": false,
	}
	for in, expected := range testcases {
		if actual := IsEclipse(in); actual != expected {
			t.Errorf("%q: expected=%v, got=%v", in, expected, actual)
		}
	}
}

func TestSort(t *testing.T) {
	actual, err := Sort([]string{"4.2", "3.10", "3.7", "3.4"})
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"3.4", "3.7", "3.10", "4.2"}
	if d := cmp.Diff(expected, actual); d != "" {
		t.Errorf("unexpected order: %s", d)
	}

	if _, err := Sort([]string{"3.7", "trunk"}); err == nil {
		t.Error("expected error for a non-version")
	}
}

func TestSatisfies(t *testing.T) {
	ok, err := Satisfies("3.7", ">= 3.6")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("3.7 should satisfy >= 3.6")
	}
	ok, err = Satisfies("3.5", ">= 3.6")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("3.5 should not satisfy >= 3.6")
	}
}
