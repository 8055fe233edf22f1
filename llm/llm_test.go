package llm

import (
	"sort"
	"testing"
)

func TestFlaggedCategoriesUsesCategoryVerdicts(t *testing.T) {
	t.Parallel()

	// Moderation APIs score every category with some small non-zero value
	// even when only one tripped; the labels must come from the booleans.
	mod := Moderation{
		Flagged: true,
		Flags: map[string]bool{
			"harassment": true,
			"violence":   false,
			"self-harm":  false,
			"sexual":     false,
			"hate":       false,
		},
		Scores: map[string]float64{
			"harassment": 0.91,
			"violence":   0.0003,
			"self-harm":  0.0001,
			"sexual":     0.0002,
			"hate":       0.0004,
		},
	}

	got := mod.FlaggedCategories()
	if len(got) != 1 || got[0] != "harassment" {
		t.Fatalf("FlaggedCategories() = %v, want [harassment]", got)
	}
}

func TestFlaggedCategoriesMultiple(t *testing.T) {
	t.Parallel()

	mod := Moderation{
		Flagged: true,
		Flags:   map[string]bool{"harassment": true, "hate": true, "violence": false},
	}

	got := mod.FlaggedCategories()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "harassment" || got[1] != "hate" {
		t.Fatalf("FlaggedCategories() = %v, want [harassment hate]", got)
	}
}

func TestFlaggedCategoriesEmptyFlags(t *testing.T) {
	t.Parallel()

	mod := Moderation{Flagged: false, Scores: map[string]float64{"violence": 0.0005}}
	if got := mod.FlaggedCategories(); len(got) != 0 {
		t.Fatalf("FlaggedCategories() = %v, want empty", got)
	}
}
