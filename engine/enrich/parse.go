package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/pkg/fn"
)

// NotSpecified marks a field the model produced no text for.
const NotSpecified = "Not specified"

// GenericMitigation is the remediation reported when the model output could
// not be parsed.
const GenericMitigation = "apply vendor patches, update affected software, enforce input validation"

// MaxDegradedRunes caps the raw text kept in a degraded attack scenario.
const MaxDegradedRunes = 400

// Outcome records which step of the parse cascade produced a result.
type Outcome string

const (
	OutcomeBraceScan Outcome = "brace_scan"
	OutcomeRecovered Outcome = "recovered"
	OutcomeDegraded  Outcome = "degraded"
)

// greedy: first '{' through last '}', newlines included.
var braceObject = regexp.MustCompile(`(?s)\{.*\}`)

var errNoObject = errors.New("enrich: no brace-delimited object")

type parsed struct {
	result  domain.EnrichmentResult
	outcome Outcome
}

// Parse converts raw model text into an EnrichmentResult. It never fails:
// when neither the brace scan nor the wrap-and-retry recovery yields a JSON
// object the result is degraded.
func Parse(raw string) (domain.EnrichmentResult, Outcome) {
	p, _ := fn.FirstOk(
		func() fn.Result[parsed] { return braceScan(raw) },
		func() fn.Result[parsed] { return recoverWrapped(raw) },
		func() fn.Result[parsed] { return fn.Ok(degrade(raw)) },
	).Unwrap()
	return p.result, p.outcome
}

func braceScan(raw string) fn.Result[parsed] {
	match := braceObject.FindString(raw)
	if match == "" {
		return fn.Err[parsed](errNoObject)
	}
	return fn.MapResult(strictObject(match), func(r domain.EnrichmentResult) parsed {
		return parsed{result: r, outcome: OutcomeBraceScan}
	})
}

func recoverWrapped(raw string) fn.Result[parsed] {
	return fn.MapResult(strictObject("{"+strings.TrimSpace(raw)+"}"), func(r domain.EnrichmentResult) parsed {
		return parsed{result: r, outcome: OutcomeRecovered}
	})
}

func degrade(raw string) parsed {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = NotSpecified
	} else if r := []rune(text); len(r) > MaxDegradedRunes {
		text = string(r[:MaxDegradedRunes])
	}
	return parsed{
		result:  domain.EnrichmentResult{AttackScenario: text, Mitigation: GenericMitigation},
		outcome: OutcomeDegraded,
	}
}

// strictObject accepts only a well-formed JSON object. Required fields the
// model left out are reported as NotSpecified.
func strictObject(s string) fn.Result[domain.EnrichmentResult] {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return fn.Err[domain.EnrichmentResult](fmt.Errorf("enrich: strict parse: %w", err))
	}
	if obj == nil {
		return fn.Errf[domain.EnrichmentResult]("enrich: strict parse: null is not an object")
	}
	res := domain.EnrichmentFromObject(obj)
	if _, ok := obj[domain.SectionAttackScenario]; !ok {
		res.AttackScenario = NotSpecified
	}
	if _, ok := obj[domain.SectionMitigation]; !ok {
		res.Mitigation = NotSpecified
	}
	return fn.Ok(res)
}
