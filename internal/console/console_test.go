package console

import (
	"io"
	"strings"
	"testing"

	"relcut/internal/staging"
)

func stagedCollection(t *testing.T) *staging.Collection {
	t.Helper()
	coll, err := staging.NewCollection(t.TempDir(), "2.4")
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	artifacts := []staging.Artifact{
		{Name: "demo-2.4.tar.gz", Kind: staging.SourceDistribution, Signed: true},
		{Name: "demo-2.4-py3-none-any.whl", Kind: staging.WheelDistribution, Signed: true},
	}
	for _, a := range artifacts {
		if err := coll.Add(a); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return coll
}

func TestConfirmAffirmative(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"YES\n", true},
		{" y \n", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"publish\n", false},
		{"", false}, // Closed input declines
	}
	for _, tc := range cases {
		t.Run(strings.TrimSpace(tc.input)+"_input", func(t *testing.T) {
			t.Parallel()

			var out strings.Builder
			gate := NewGate(strings.NewReader(tc.input), &out)
			ok, err := gate.Confirm(stagedCollection(t), "## Release 2.4")
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if ok != tc.want {
				t.Errorf("Confirm(%q) = %v, want %v", tc.input, ok, tc.want)
			}
		})
	}
}

func TestConfirmRendersSummary(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	gate := NewGate(strings.NewReader("y\n"), &out)
	if _, err := gate.Confirm(stagedCollection(t), "Notable changes"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	rendered := out.String()
	for _, want := range []string{"Release 2.4", "demo-2.4.tar.gz", "demo-2.4-py3-none-any.whl", "Notable changes", "[y/N]"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestNextVersionReasksUntilNonEmpty(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	gate := NewGate(strings.NewReader("\n   \n2.5-dev\n"), &out)
	version, err := gate.NextVersion("2.4")
	if err != nil {
		t.Fatalf("NextVersion: %v", err)
	}
	if version != "2.5-dev" {
		t.Errorf("NextVersion = %q, want 2.5-dev", version)
	}
	if got := strings.Count(out.String(), "Next development version"); got != 3 {
		t.Errorf("expected 3 prompts, got %d", got)
	}
}

func TestNextVersionClosedInput(t *testing.T) {
	t.Parallel()

	gate := NewGate(strings.NewReader(""), io.Discard)
	if _, err := gate.NextVersion("2.4"); err == nil {
		t.Fatal("expected an error when input ends without a version")
	}
}
