package citation

import "strings"

const maxPendingMarker = 96

// StreamRemapper renumbers canonical markers inside a token stream before the text
// reaches the client. It works on a preview registry (a clone of the conversation's),
// assigning ids in the same first-appearance order the post-processing pass will use,
// so the numbers shown while streaming match the stored result.
type StreamRemapper struct {
	preview *Registry
	allowed map[string]bool
	pending strings.Builder
}

// NewStreamRemapper creates a remapper over a private copy of base
func NewStreamRemapper(base *Registry, allowed map[string]bool) *StreamRemapper {
	return &StreamRemapper{
		preview: base.Clone(),
		allowed: allowed,
	}
}

// Push consumes a chunk and returns the text that is safe to show
func (s *StreamRemapper) Push(chunk string) string {
	var out strings.Builder
	for _, r := range chunk {
		if s.pending.Len() == 0 {
			if r == '[' {
				s.pending.WriteRune(r)
				continue
			}
			out.WriteRune(r)
			continue
		}

		if r == '[' {
			// unbalanced bracket: release what we held and start over
			out.WriteString(s.pending.String())
			s.pending.Reset()
			s.pending.WriteRune(r)
			continue
		}

		s.pending.WriteRune(r)
		if r == ']' {
			out.WriteString(s.resolve(s.pending.String()))
			s.pending.Reset()
			continue
		}
		if s.pending.Len() > maxPendingMarker {
			out.WriteString(s.pending.String())
			s.pending.Reset()
		}
	}
	return out.String()
}

// Close releases any held partial marker
func (s *StreamRemapper) Close() string {
	rest := s.pending.String()
	s.pending.Reset()
	return rest
}

func (s *StreamRemapper) resolve(marker string) string {
	AssignAll(s.preview, marker, s.allowed)
	remapped := s.preview.Remap(marker)
	return StripUnmapped(remapped, s.preview.HasNumber)
}
