package portal

import (
	"fmt"
	"strings"
	"unicode"
)

// lineNames maps the two letter prefix of a station code to its line.
var lineNames = map[string]string{
	"TE": "Thomson-East Coast Line",
	"NS": "North-South Line",
	"EW": "East-West Line",
	"CC": "Circle Line",
	"CE": "Circle Line",
	"NE": "North-East Line",
	"DT": "Downtown Line",
	"CG": "Changi Airport Line",
	"BP": "Bukit Panjang LRT",
}

// ParseLines returns the line names for the codes in an option label such as
// "Marina Bay (TE20/CE1/NS27)", in label order.
func ParseLines(label string) ([]string, error) {
	open := strings.LastIndex(label, "(")
	end := strings.LastIndex(label, ")")
	if open < 0 || end < open {
		return nil, fmt.Errorf("option %q has no station codes", label)
	}

	var lines []string
	for _, code := range strings.Split(label[open+1:end], "/") {
		code = strings.TrimSpace(code)
		if len(code) < 2 {
			return nil, fmt.Errorf("option %q: malformed station code %q", label, code)
		}
		name, ok := lineNames[strings.ToUpper(code[:2])]
		if !ok {
			return nil, fmt.Errorf("option %q: unknown line for code %q", label, code)
		}
		lines = append(lines, name)
	}
	return lines, nil
}

// MatchOption returns the first label containing one of codes. Matching ignores
// case and spaces, and a code must not run into neighbouring letters or digits,
// so "NS2" does not match "NS27".
func MatchOption(labels, codes []string) (string, bool) {
	for _, label := range labels {
		norm := strings.ToLower(strings.ReplaceAll(label, " ", ""))
		for _, code := range codes {
			if containsCode(norm, strings.ToLower(strings.ReplaceAll(code, " ", ""))) {
				return label, true
			}
		}
	}
	return "", false
}

func containsCode(s, code string) bool {
	if code == "" {
		return false
	}
	for from := 0; from <= len(s)-len(code); {
		i := strings.Index(s[from:], code)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(code)
		if !isAlnumAt(s, start-1) && !isAlnumAt(s, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func isAlnumAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	r := rune(s[i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func sameCodes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
