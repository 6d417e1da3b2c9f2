package graph

import (
	"strings"
	"unicode"

	"dealgraph/api/internal/store"
)

// Match is a single detected reference from a clause body to a variable.
type Match struct {
	Kind   string
	Weight int
}

// Matcher detects references from clause text to a variable. Implementations
// must be deterministic: the same body and variable always produce the same
// matches.
type Matcher interface {
	Match(body string, v store.Variable) []Match
}

// TermMatcher is the default matcher. It recognizes three reference forms,
// strongest first:
//
//   - verbatim: the variable's current value appears in the text and the
//     value is numeric-bearing (contains a digit)
//   - definition: the variable name appears wrapped in double quotes, the
//     defined-term convention in credit agreements
//   - keyword: every word of the variable name appears somewhere in the
//     clause body
//
// A clause/variable pair reports at most one match per kind.
type TermMatcher struct{}

func (TermMatcher) Match(body string, v store.Variable) []Match {
	var out []Match
	lower := strings.ToLower(body)

	if v.Value != "" && containsDigit(v.Value) && strings.Contains(lower, strings.ToLower(v.Value)) {
		out = append(out, Match{Kind: EdgeVerbatim, Weight: WeightVerbatim})
	}

	name := strings.TrimSpace(v.Label)
	if name != "" {
		quoted := `"` + strings.ToLower(name) + `"`
		if strings.Contains(lower, quoted) {
			out = append(out, Match{Kind: EdgeDefinition, Weight: WeightDefinition})
		} else if allWordsPresent(lower, name) {
			out = append(out, Match{Kind: EdgeKeyword, Weight: WeightKeyword})
		}
	}
	return out
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func allWordsPresent(lowerBody, name string) bool {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(lowerBody, w) {
			return false
		}
	}
	return true
}
