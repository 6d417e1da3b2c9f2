package drift

import (
	"strconv"
	"strings"
)

// normalize collapses the formatting noise that should never count as
// drift: surrounding whitespace, letter case, and repeated interior
// whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// numericValue parses a financial value into a float, stripping the
// decorations common in agreement text: currency signs, percent signs,
// ratio suffixes, and thousands separators. The bool reports whether the
// value was numeric at all.
func numericValue(s string) (float64, bool) {
	t := strings.TrimSpace(strings.ToLower(s))
	t = strings.TrimPrefix(t, "$")
	t = strings.TrimPrefix(t, "€")
	t = strings.TrimPrefix(t, "£")
	t = strings.TrimSuffix(t, "%")
	t = strings.TrimSuffix(t, "x")
	t = strings.ReplaceAll(t, ",", "")
	t = strings.TrimSpace(t)
	if t == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Equivalent reports whether two values mean the same thing:
// textually identical after normalization, or numerically equal after
// stripping decorations. "2.50%" and "2.5 %" are equivalent; "2.50%"
// and "2.75%" are not.
func Equivalent(a, b string) bool {
	if normalize(a) == normalize(b) {
		return true
	}
	fa, okA := numericValue(a)
	fb, okB := numericValue(b)
	return okA && okB && fa == fb
}

// relativeDelta returns |current-baseline| / |baseline| when both values
// are numeric and the baseline is nonzero. The bool reports whether a
// delta could be computed.
func relativeDelta(baseline, current string) (float64, bool) {
	fb, okB := numericValue(baseline)
	fc, okC := numericValue(current)
	if !okB || !okC || fb == 0 {
		return 0, false
	}
	d := (fc - fb) / fb
	if d < 0 {
		d = -d
	}
	return d, true
}
