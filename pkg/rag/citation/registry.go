package citation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Entry is a single canonical document id with its display number
type Entry struct {
	DocumentID    string `json:"document_id"`
	DisplayNumber int    `json:"display_number"`
}

// Registry maps canonical document ids to per-conversation display numbers.
// Numbers are issued in first-appearance order and never reassigned.
// A Registry is not safe for concurrent use; the owning conversation's lock guards it.
type Registry struct {
	order   []string
	numbers map[string]int
	max     int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		numbers: make(map[string]int),
	}
}

// Assign returns the display number for id, issuing max+1 on first sight
func (r *Registry) Assign(canonicalID string) int {
	if n, ok := r.numbers[canonicalID]; ok {
		return n
	}
	r.max++
	r.numbers[canonicalID] = r.max
	r.order = append(r.order, canonicalID)
	return r.max
}

// Lookup returns the display number of an already assigned id
func (r *Registry) Lookup(canonicalID string) (int, bool) {
	n, ok := r.numbers[canonicalID]
	return n, ok
}

// HasNumber reports whether n is an issued display number
func (r *Registry) HasNumber(n int) bool {
	return n >= 1 && n <= r.max
}

// Len returns the number of assigned ids
func (r *Registry) Len() int {
	return len(r.order)
}

// Entries returns the mapping in assignment order
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{DocumentID: id, DisplayNumber: r.numbers[id]})
	}
	return entries
}

// Clone returns an independent copy
func (r *Registry) Clone() *Registry {
	c := &Registry{
		order:   append([]string(nil), r.order...),
		numbers: make(map[string]int, len(r.numbers)),
		max:     r.max,
	}
	for k, v := range r.numbers {
		c.numbers[k] = v
	}
	return c
}

// Remap rewrites canonical markers ([D2], [D2, D4]) to display markers ([1], [1, 2]).
// Ids without a number are dropped; a marker left empty is removed with its leading space.
// Display markers never match the canonical pattern, so Remap is idempotent.
func (r *Registry) Remap(text string) string {
	return rewriteCanonical(text, func(ids []string) string {
		nums := make([]string, 0, len(ids))
		seen := make(map[int]bool, len(ids))
		for _, id := range ids {
			n, ok := r.numbers[id]
			if !ok || seen[n] {
				continue
			}
			seen[n] = true
			nums = append(nums, strconv.Itoa(n))
		}
		if len(nums) == 0 {
			return ""
		}
		return "[" + strings.Join(nums, ", ") + "]"
	})
}

// Canonicalize keeps canonical markers but drops ids that were never assigned
func (r *Registry) Canonicalize(text string) string {
	return rewriteCanonical(text, func(ids []string) string {
		kept := make([]string, 0, len(ids))
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if _, ok := r.numbers[id]; !ok || seen[id] {
				continue
			}
			seen[id] = true
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			return ""
		}
		return "[" + strings.Join(kept, ", ") + "]"
	})
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Entries())
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	r.order = r.order[:0]
	r.numbers = make(map[string]int, len(entries))
	r.max = 0
	for _, e := range entries {
		r.order = append(r.order, e.DocumentID)
		r.numbers[e.DocumentID] = e.DisplayNumber
		if e.DisplayNumber > r.max {
			r.max = e.DisplayNumber
		}
	}
	return nil
}

// canonicalMarkerRe matches [ID] and [ID1, ID2]; ids start with a letter.
var canonicalMarkerRe = regexp.MustCompile(`( ?)\[\s*([A-Za-z][\w.:\-]*(?:\s*[,;]\s*[A-Za-z][\w.:\-]*)*)\s*\]`)

// rewriteCanonical applies fn to every canonical marker. Markers whose parts are not
// all id-like (letters plus at least one digit) are left untouched, e.g. "[x]" or "[Note]".
func rewriteCanonical(text string, fn func(ids []string) string) string {
	return canonicalMarkerRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := canonicalMarkerRe.FindStringSubmatch(m)
		ids, ok := splitIDs(sub[2])
		if !ok {
			return m
		}
		out := fn(ids)
		if out == "" {
			return ""
		}
		return sub[1] + out
	})
}

func splitIDs(group string) ([]string, bool) {
	parts := strings.FieldsFunc(group, func(r rune) bool { return r == ',' || r == ';' })
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !isCanonicalID(p) {
			return nil, false
		}
		ids = append(ids, p)
	}
	return ids, len(ids) > 0
}

func isCanonicalID(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
		return false
	}
	return strings.ContainsAny(s, "0123456789")
}
