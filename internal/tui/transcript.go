package tui

import (
	"strings"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/retrieval"
)

// Citation is one retrieved document shown under an answer.
type Citation struct {
	SourceID string
	URI      string
	Text     string
}

// Entry is one rendered chat bubble.
type Entry struct {
	Role      models.Role
	Content   string
	Citations []Citation
	Expanded  bool
}

// Transcript folds stream events into chat entries. Citations from tool events
// are held until the answer that uses them arrives.
type Transcript struct {
	Entries []Entry
	pending []Citation
}

// AddUser appends a message typed by the user.
func (t *Transcript) AddUser(content string) {
	t.Entries = append(t.Entries, Entry{Role: models.RoleUser, Content: content})
}

// Apply folds ev into the transcript and reports whether it finished an answer.
func (t *Transcript) Apply(ev Event) bool {
	if ev.Error != "" {
		msg := ev.Error
		if ev.Details != "" {
			msg += " (" + ev.Details + ")"
		}
		t.Entries = append(t.Entries, Entry{Role: models.RoleSystem, Content: msg})
		t.pending = nil
		return true
	}

	switch ev.Type {
	case "tool":
		t.pending = append(t.pending, citationsFrom(ev)...)
	case "ai":
		// An assistant event without content is a tool request.
		if strings.TrimSpace(ev.Content) == "" {
			return false
		}
		t.Entries = append(t.Entries, Entry{Role: models.RoleAssistant, Content: ev.Content, Citations: t.pending})
		t.pending = nil
		return true
	case "system":
		t.Entries = append(t.Entries, Entry{Role: models.RoleSystem, Content: ev.Content})
	}
	// "human" events echo what AddUser already shows.
	return false
}

// Messages returns the conversation in request form, with msg appended as the
// new user message.
func (t *Transcript) Messages(msg string) []models.IncomingMessage {
	out := make([]models.IncomingMessage, 0, len(t.Entries)+1)
	for _, e := range t.Entries {
		switch e.Role {
		case models.RoleUser, models.RoleAssistant:
			out = append(out, models.IncomingMessage{Role: e.Role, Content: e.Content})
		case models.RoleSystem, models.RoleTool:
		}
	}
	return append(out, models.IncomingMessage{Role: models.RoleUser, Content: msg})
}

// WithCitations returns the indexes of entries that carry citations.
func (t *Transcript) WithCitations() []int {
	var idx []int
	for i, e := range t.Entries {
		if len(e.Citations) > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func citationsFrom(ev Event) []Citation {
	var out []Citation
	for _, src := range ev.Sources {
		for _, doc := range src.Result {
			uri := doc.SourceURI
			if uri == "" {
				uri = retrieval.ExtractURI(doc.Text)
			}
			out = append(out, Citation{SourceID: doc.SourceID, URI: uri, Text: doc.Text})
		}
	}
	// Without structured results, fall back to the serialized tool output.
	if len(out) == 0 && strings.HasPrefix(ev.Content, "Source:") {
		out = splitSourceBlocks(ev.Content)
	}
	return out
}

// splitSourceBlocks parses "Source: <id>\nContent: <text>" blocks.
func splitSourceBlocks(content string) []Citation {
	var out []Citation
	for _, line := range strings.Split(content, "\n") {
		if id, ok := strings.CutPrefix(line, "Source: "); ok {
			out = append(out, Citation{SourceID: id})
			continue
		}
		if len(out) == 0 {
			continue
		}
		cur := &out[len(out)-1]
		if cur.Text == "" {
			cur.Text = strings.TrimPrefix(line, "Content: ")
			continue
		}
		cur.Text += "\n" + line
	}
	for i := range out {
		out[i].URI = retrieval.ExtractURI(out[i].Text)
	}
	return out
}
