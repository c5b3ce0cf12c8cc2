package prompt

import (
	"strings"

	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/rag/citation"
	"research-chat-be/pkg/store"
)

// Builder assembles the model input for one turn
type Builder struct {
	catalog map[string]store.Document
}

// NewBuilder creates a builder. catalog supplies titles for passage headers and may be nil.
func NewBuilder(catalog map[string]store.Document) *Builder {
	return &Builder{catalog: catalog}
}

// Build returns the system instruction, the stored history verbatim, then the literature and query
func (b *Builder) Build(query string, passages []store.Passage, history []store.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemInstruction})

	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	var user strings.Builder
	b.writeLiterature(&user, passages)
	b.writeUserQuery(&user, query)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user.String()})

	return messages
}

// AllowedIDs returns the canonical document ids offered to the model this turn
func AllowedIDs(passages []store.Passage) map[string]bool {
	ids := make(map[string]bool, len(passages))
	for _, p := range passages {
		ids[p.DocumentID] = true
	}
	return ids
}

// StripSourceMarkers removes numeric citation brackets that came with the source text ([3], [3,4], [3-5], [3,5-7])
func StripSourceMarkers(text string) string {
	return citation.StripNumeric(text)
}

const SystemInstruction = `You are a research assistant answering questions from the scientific literature provided to you.

Format your reply as follows:
1. Start the answer with a line containing only "## Answer".
2. Write the answer in clear prose, using only the literature in <literature> and the conversation so far.
3. Cite supporting documents inline using their bracketed document id exactly as given, e.g. [D12] or [D12, D40]. Never invent ids and never use numbers.
4. If the literature does not answer the question, say so plainly.
5. Optionally end with a line containing only "## References"; anything after it is discarded.`

func (b *Builder) writeLiterature(sb *strings.Builder, passages []store.Passage) {
	sb.WriteString("<literature>\n")
	for _, p := range passages {
		sb.WriteString("<passage id=\"")
		sb.WriteString(p.DocumentID)
		sb.WriteString("\"")
		if doc, ok := b.catalog[p.DocumentID]; ok && doc.Title != "" {
			sb.WriteString(" title=\"")
			sb.WriteString(strings.ReplaceAll(doc.Title, "\"", "'"))
			sb.WriteString("\"")
		}
		if p.Section != "" {
			sb.WriteString(" section=\"")
			sb.WriteString(p.Section)
			sb.WriteString("\"")
		}
		sb.WriteString(">\n")
		sb.WriteString(strings.TrimSpace(StripSourceMarkers(p.Text)))
		sb.WriteString("\n</passage>\n")
	}
	sb.WriteString("</literature>\n\n")
}

func (b *Builder) writeUserQuery(sb *strings.Builder, query string) {
	sb.WriteString("<question>\n")
	sb.WriteString(query)
	sb.WriteString("\n</question>")
}
