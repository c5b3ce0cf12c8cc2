package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// Extract returns the canonical ids cited in text, unique and in first-appearance order.
// When allowed is non-nil, ids outside it (not offered to the model) are skipped.
func Extract(text string, allowed map[string]bool) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, sub := range canonicalMarkerRe.FindAllStringSubmatch(text, -1) {
		parts, ok := splitIDs(sub[2])
		if !ok {
			continue
		}
		for _, id := range parts {
			if seen[id] {
				continue
			}
			if allowed != nil && !allowed[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// AssignAll extracts cited ids from text and assigns them in order
func AssignAll(reg *Registry, text string, allowed map[string]bool) []string {
	ids := Extract(text, allowed)
	for _, id := range ids {
		reg.Assign(id)
	}
	return ids
}

// numericMarkerRe matches display-style markers: [3], [3,4], [3-5], [3, 5-7], [3–5]
var numericMarkerRe = regexp.MustCompile(`( ?)\[\s*\d+(?:\s*[-–]\s*\d+)?(?:\s*,\s*\d+(?:\s*[-–]\s*\d+)?)*\s*\]`)

// StripUnmapped removes numeric markers whose numbers were never issued.
// Items of a grouped marker are kept or dropped individually; ranges survive only when
// both ends are valid.
func StripUnmapped(text string, valid func(n int) bool) string {
	return numericMarkerRe.ReplaceAllStringFunc(text, func(m string) string {
		lead := ""
		if strings.HasPrefix(m, " ") {
			lead = " "
		}
		body := strings.TrimSpace(m)
		body = strings.TrimSuffix(strings.TrimPrefix(body, "["), "]")

		var kept []string
		for _, item := range strings.Split(body, ",") {
			item = strings.TrimSpace(item)
			if itemValid(item, valid) {
				kept = append(kept, normalizeRange(item))
			}
		}
		if len(kept) == 0 {
			return ""
		}
		return lead + "[" + strings.Join(kept, ", ") + "]"
	})
}

// StripNumeric removes every numeric marker, including ranges and lists
func StripNumeric(text string) string {
	return StripUnmapped(text, func(int) bool { return false })
}

func itemValid(item string, valid func(int) bool) bool {
	for _, part := range splitRange(item) {
		n, err := strconv.Atoi(part)
		if err != nil || !valid(n) {
			return false
		}
	}
	return true
}

func splitRange(item string) []string {
	parts := strings.FieldsFunc(item, func(r rune) bool { return r == '-' || r == '–' })
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func normalizeRange(item string) string {
	return strings.Join(splitRange(item), "-")
}
