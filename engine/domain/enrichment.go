package domain

import (
	"encoding/json"
	"sort"
)

// EnrichmentResult is the structured output of the enrichment model.
// Extra holds any additional keys the model returned.
type EnrichmentResult struct {
	AttackScenario string
	Mitigation     string
	Extra          map[string]string
}

// EnrichmentFromObject builds a result from a decoded JSON object. String
// values are used as-is; any other value is kept as its JSON encoding.
func EnrichmentFromObject(obj map[string]any) EnrichmentResult {
	var res EnrichmentResult
	for k, v := range obj {
		text := jsonText(v)
		switch k {
		case SectionAttackScenario:
			res.AttackScenario = text
		case SectionMitigation:
			res.Mitigation = text
		default:
			if res.Extra == nil {
				res.Extra = make(map[string]string)
			}
			res.Extra[k] = text
		}
	}
	return res
}

func jsonText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Each visits attack_scenario, mitigation, then extra keys in sorted order.
func (e EnrichmentResult) Each(f func(k, v string)) {
	f(SectionAttackScenario, e.AttackScenario)
	f(SectionMitigation, e.Mitigation)
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f(k, e.Extra[k])
	}
}
