package model

import (
	"strings"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Go ", "go", "", "DB"})
	if len(got) != 2 || got[0] != "go" || got[1] != "db" {
		t.Fatalf("unexpected tags %v", got)
	}
}

func TestValidateThread(t *testing.T) {
	if err := ValidateThread("hello", "body", []string{"go"}); err != nil {
		t.Fatalf("expected valid thread: %v", err)
	}
	cases := map[string]struct {
		title, body string
		tags        []string
	}{
		"blank title": {title: "  "},
		"long title":  {title: strings.Repeat("x", MaxTitleLen+1)},
		"long body":   {title: "t", body: strings.Repeat("x", MaxBodyLen+1)},
		"many tags":   {title: "t", tags: []string{"a", "b", "c", "d", "e", "f"}},
		"long tag":    {title: "t", tags: []string{strings.Repeat("x", MaxTagLen+1)}},
	}
	for name, tc := range cases {
		if err := ValidateThread(tc.title, tc.body, tc.tags); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
