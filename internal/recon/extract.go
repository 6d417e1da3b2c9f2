package recon

import (
	"bufio"
	"strings"

	"dealgraph/api/internal/store"
)

// Extract scans a plain-text markup for proposed changes to known
// variables. A line mentioning a variable's label together with a value
// token becomes a proposal. Confidence depends on how the label appears:
//
//   - high: the label appears as a quoted defined term
//   - medium: the label appears unquoted
//   - low: only some words of the label appear
//
// Lines that mention no variable are ignored; extraction order follows
// the document, so re-running over the same markup yields the same items.
func Extract(markup string, variables []store.Variable) []ExtractedItem {
	var out []ExtractedItem
	seen := map[string]bool{}

	scanner := bufio.NewScanner(strings.NewReader(markup))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, v := range variables {
			if seen[v.ID] {
				continue
			}
			label := strings.TrimSpace(v.Label)
			if label == "" {
				continue
			}
			confidence, ok := labelConfidence(lower, label)
			if !ok {
				continue
			}
			value := proposedValue(line, label)
			if value == "" {
				continue
			}
			if strings.EqualFold(value, v.Value) {
				// The markup agrees with the draft; nothing to reconcile.
				seen[v.ID] = true
				continue
			}
			out = append(out, ExtractedItem{
				Snippet:       line,
				VariableID:    v.ID,
				ProposedValue: value,
				Confidence:    confidence,
			})
			seen[v.ID] = true
		}
	}
	return out
}

func labelConfidence(lowerLine, label string) (string, bool) {
	lowerLabel := strings.ToLower(label)
	if strings.Contains(lowerLine, `"`+lowerLabel+`"`) {
		return store.ConfidenceHigh, true
	}
	if strings.Contains(lowerLine, lowerLabel) {
		return store.ConfidenceMedium, true
	}
	words := strings.Fields(lowerLabel)
	if len(words) < 2 {
		return "", false
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(lowerLine, w) {
			hits++
		}
	}
	if hits*2 > len(words) {
		return store.ConfidenceLow, true
	}
	return "", false
}

// proposedValue pulls the value token out of a markup line, preferring
// the text after the last "to" or a colon, the forms counsel actually
// writes: `Applicable Margin: 2.75%` or `increase the Applicable Margin
// from 2.50% to 2.75%`.
func proposedValue(line, label string) string {
	if idx := strings.LastIndex(strings.ToLower(line), " to "); idx >= 0 {
		return trimValueToken(line[idx+4:])
	}
	if idx := strings.Index(line, ":"); idx >= 0 {
		return trimValueToken(line[idx+1:])
	}
	return ""
}

func trimValueToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	// Values are short; keep at most the first four tokens so a trailing
	// sentence does not leak into the proposal.
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
