package rules

import (
	"errors"
	"testing"

	"github.com/router-for-me/PolicyRouter/internal/models"
)

func activeRule(id uint64, name, pattern string, source *string) models.PolicyRule {
	return models.PolicyRule{ID: id, Name: name, AliasPattern: pattern, SourceMatch: source, IsActive: true}
}

func strPtr(v string) *string { return &v }

func TestValidateRejectsInvalidPattern(t *testing.T) {
	v := NewValidator(5)
	candidate := activeRule(0, "broken", `room-(\d+`, nil)

	err := v.Validate(&candidate, nil)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
	var patternErr *InvalidPatternError
	if !errors.As(err, &patternErr) || patternErr.Pattern != `room-(\d+` {
		t.Fatalf("expected InvalidPatternError carrying the pattern, got %v", err)
	}
}

func TestValidateRejectsIdenticalPatternAndSource(t *testing.T) {
	v := NewValidator(5)
	existing := []models.PolicyRule{activeRule(1, "dup1", `room-\d+`, strPtr("10.0.0.10"))}
	candidate := activeRule(0, "dup2", `room-\d+`, strPtr("10.0.0.10"))

	err := v.Validate(&candidate, existing)
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if len(overlap.ConflictingNames) != 1 || overlap.ConflictingNames[0] != "dup1" {
		t.Fatalf("unexpected conflicts %v", overlap.ConflictingNames)
	}
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected errors.Is ErrOverlap")
	}
}

func TestValidateAllowsSamePatternWithDistinctSources(t *testing.T) {
	v := NewValidator(5)
	existing := []models.PolicyRule{activeRule(1, "src-a", `room-\d+`, strPtr("10.0.0.10"))}
	candidate := activeRule(0, "src-b", `room-\d+`, strPtr("10.0.0.20"))

	if err := v.Validate(&candidate, existing); err != nil {
		t.Fatalf("expected no conflict, got %v", err)
	}
}

func TestValidateTreatsBlankAndNoneSourcesAsEqual(t *testing.T) {
	v := NewValidator(5)
	existing := []models.PolicyRule{activeRule(1, "open", `room-\d+`, nil)}
	candidate := activeRule(0, "open-too", `room-\d+`, strPtr(" None "))

	if err := v.Validate(&candidate, existing); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap between unrestricted rules, got %v", err)
	}
}

func TestValidateDetectsOverlapThroughFixedProbes(t *testing.T) {
	v := NewValidator(1)
	v.intN = func(int) int { return 4242 }
	existing := []models.PolicyRule{activeRule(1, "all-rooms", `^room-\d+$`, nil)}
	candidate := activeRule(0, "room-one", `^room-1$`, nil)

	if err := v.Validate(&candidate, existing); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap via fixed probe room-1, got %v", err)
	}
}

func TestValidateDetectsOverlapThroughRandomProbes(t *testing.T) {
	v := NewValidator(1)
	v.intN = func(int) int { return 4242 }
	existing := []models.PolicyRule{activeRule(1, "forty", `^vmr-42`, nil)}
	candidate := activeRule(0, "two", `^vmr-\d{3}2$`, nil)

	if err := v.Validate(&candidate, existing); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap via random probe vmr-4242, got %v", err)
	}
}

func TestValidateIgnoresDisjointPatterns(t *testing.T) {
	v := NewValidator(20)
	existing := []models.PolicyRule{activeRule(1, "rooms", `^room-\d+$`, nil)}
	candidate := activeRule(0, "vmrs", `^vmr-\d+$`, nil)

	if err := v.Validate(&candidate, existing); err != nil {
		t.Fatalf("expected no conflict, got %v", err)
	}
}

func TestValidateSkipsSelfAndBrokenExistingRules(t *testing.T) {
	v := NewValidator(5)
	existing := []models.PolicyRule{
		activeRule(7, "self", `room-\d+`, nil),
		activeRule(8, "broken", `room-(`, nil),
	}
	candidate := activeRule(7, "self", `room-\d+`, nil)

	if err := v.Validate(&candidate, existing); err != nil {
		t.Fatalf("expected self and broken rules to be skipped, got %v", err)
	}
}

func TestValidateInactiveCandidateOnlyChecksPattern(t *testing.T) {
	v := NewValidator(5)
	existing := []models.PolicyRule{activeRule(1, "live", `room-\d+`, nil)}
	candidate := activeRule(0, "draft", `room-\d+`, nil)
	candidate.IsActive = false

	if err := v.Validate(&candidate, existing); err != nil {
		t.Fatalf("expected inactive candidate to pass, got %v", err)
	}
}

func TestProbeCorpusIncludesFixedAndRandomShapes(t *testing.T) {
	v := NewValidator(3)
	probes := v.probeCorpus()
	if len(probes) != len(fixedProbes)+6 {
		t.Fatalf("expected %d probes, got %d", len(fixedProbes)+6, len(probes))
	}
	for i, probe := range fixedProbes {
		if probes[i] != probe {
			t.Fatalf("expected fixed probe %q at %d, got %q", probe, i, probes[i])
		}
	}
}
