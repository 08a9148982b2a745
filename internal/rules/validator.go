package rules

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/router-for-me/PolicyRouter/internal/models"
)

// fixedProbes are alias shapes every overlap check tries.
var fixedProbes = []string{"room-1", "room-9999", "vmr-01", "conference-01"}

const defaultRandomProbes = 50

// Validator checks candidate rules against the active rule set.
//
// Overlap detection is a heuristic: patterns are compared on a probe corpus that is partly
// random and regenerated on every call, so two overlapping rules may pass one validation and
// fail the next.
type Validator struct {
	randomProbes int
	intN         func(n int) int
}

// NewValidator builds a validator drawing randomProbes room-<n> and vmr-<n> probes each.
func NewValidator(randomProbes int) *Validator {
	if randomProbes <= 0 {
		randomProbes = defaultRandomProbes
	}
	return &Validator{randomProbes: randomProbes, intN: rand.Intn}
}

// CompilePattern compiles an alias pattern, reporting failures as InvalidPatternError.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	return re, nil
}

// Validate fails with InvalidPatternError or OverlapError, or returns nil.
func (v *Validator) Validate(candidate *models.PolicyRule, existingActive []models.PolicyRule) error {
	if candidate == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	candidateRe, err := CompilePattern(candidate.AliasPattern)
	if err != nil {
		return err
	}
	if !candidate.IsActive {
		return nil
	}

	probes := v.probeCorpus()
	candidateSource := sourceKey(candidate.SourceMatch)

	var conflicts []string
	for i := range existingActive {
		other := &existingActive[i]
		if other.ID == candidate.ID && candidate.ID != 0 {
			continue
		}
		if !other.IsActive || sourceKey(other.SourceMatch) != candidateSource {
			continue
		}
		if other.AliasPattern == candidate.AliasPattern {
			conflicts = append(conflicts, other.Name)
			continue
		}
		otherRe, errCompile := regexp.Compile(other.AliasPattern)
		if errCompile != nil {
			continue
		}
		for _, probe := range probes {
			if candidateRe.MatchString(probe) && otherRe.MatchString(probe) {
				conflicts = append(conflicts, other.Name)
				break
			}
		}
	}

	if len(conflicts) > 0 {
		return &OverlapError{ConflictingNames: conflicts}
	}
	return nil
}

func (v *Validator) probeCorpus() []string {
	intN := v.intN
	if intN == nil {
		intN = rand.Intn
	}
	probes := make([]string, 0, len(fixedProbes)+2*v.randomProbes)
	probes = append(probes, fixedProbes...)
	for i := 0; i < v.randomProbes; i++ {
		probes = append(probes, fmt.Sprintf("room-%d", intN(10000)))
		probes = append(probes, fmt.Sprintf("vmr-%d", intN(10000)))
	}
	return probes
}

func sourceKey(source *string) string {
	normalized := NormalizeSourceMatch(source)
	if normalized == nil {
		return ""
	}
	return strings.ToLower(*normalized)
}
