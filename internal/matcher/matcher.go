// Package matcher normalizes the free-text targets operators type in and
// compares them against calendar headers scraped from the portal.
package matcher

import "strings"

var months = map[string]string{}

func init() {
	table := [][]string{
		{"january", "jan", "enero", "ene"},
		{"february", "feb", "febrero"},
		{"march", "mar", "marzo"},
		{"april", "apr", "abril", "abr"},
		{"may", "mayo"},
		{"june", "jun", "junio"},
		{"july", "jul", "julio"},
		{"august", "aug", "agosto", "ago"},
		{"september", "sep", "sept", "septiembre", "setiembre"},
		{"october", "oct", "octubre"},
		{"november", "nov", "noviembre"},
		{"december", "dec", "diciembre", "dic"},
	}
	for _, row := range table {
		for _, alias := range row {
			months[alias] = row[0]
		}
	}
}

// NormalizeMonth maps an English or Spanish month name or abbreviation to a
// lowercase English month name. Anything else is returned unchanged.
func NormalizeMonth(token string) string {
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(token)), ".")
	if canonical, ok := months[key]; ok {
		return canonical
	}
	return token
}

// NormalizeMonths applies NormalizeMonth to every token, dropping duplicates.
func NormalizeMonths(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m := NormalizeMonth(t)
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ParseList splits text on commas and newlines, trims each piece and drops
// empties and repeats, keeping first-seen order.
func ParseList(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// MonthMatches reports whether any desired token occurs in label, ignoring
// case. Substring matching is intentional: headers carry years and other words.
func MonthMatches(label string, desired []string) bool {
	l := strings.ToLower(label)
	for _, d := range desired {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && strings.Contains(l, d) {
			return true
		}
	}
	return false
}

// LocationMatches reports whether an option label names the wanted location.
func LocationMatches(option, wanted string) bool {
	w := strings.ToLower(strings.TrimSpace(wanted))
	return w != "" && strings.Contains(strings.ToLower(option), w)
}
