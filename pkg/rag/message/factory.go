package message

import (
	"research-chat-be/pkg/rag/citation"
	"research-chat-be/pkg/rag/prompt"
	"research-chat-be/pkg/store"
)

// Factory turns a generated answer into the stored assistant message
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// CitableIDs are the ids a turn may cite: this turn's documents plus everything already numbered
func (f *Factory) CitableIDs(reg *citation.Registry, passages []store.Passage) map[string]bool {
	ids := prompt.AllowedIDs(passages)
	for _, e := range reg.Entries() {
		ids[e.DocumentID] = true
	}
	return ids
}

// Assistant assigns display numbers for the answer's citations on reg and returns the
// message in canonical form. Ids never assigned are removed along with numeric markers
// that do not map to an issued number.
func (f *Factory) Assistant(reg *citation.Registry, answer string, passages []store.Passage) store.Message {
	cited := citation.AssignAll(reg, answer, f.CitableIDs(reg, passages))

	citedSet := make(map[string]bool, len(cited))
	for _, id := range cited {
		citedSet[id] = true
	}
	var passageIDs []string
	for _, p := range passages {
		if citedSet[p.DocumentID] {
			passageIDs = append(passageIDs, p.PassageID)
		}
	}

	return store.Message{
		Role:             store.RoleAssistant,
		Content:          citation.StripUnmapped(reg.Canonicalize(answer), reg.HasNumber),
		CitedDocumentIDs: cited,
		CitedPassageIDs:  passageIDs,
	}
}

// Render returns the display form of a stored message
func (f *Factory) Render(reg *citation.Registry, m store.Message) string {
	if m.Role != store.RoleAssistant {
		return m.Content
	}
	return reg.Remap(m.Content)
}
