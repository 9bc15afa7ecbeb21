package models

// EntryKind tags a transcript entry as a user turn or a bot turn.
type EntryKind string

const (
	// EntryKindUser is an instruction typed by the user.
	EntryKindUser EntryKind = "user"
	// EntryKindBot is a reply produced by the console or the AI backend.
	EntryKindBot EntryKind = "bot"
)

// TranscriptEntry is one turn of the conversation transcript. Template is set
// only on bot entries produced by an accepted exchange and holds a snapshot of
// the template as it was right after that exchange.
type TranscriptEntry struct {
	Kind     EntryKind `json:"kind"`
	Text     string    `json:"text"`
	Template *Template `json:"template,omitempty"`
}

// UserEntry builds a user transcript entry.
func UserEntry(text string) TranscriptEntry {
	return TranscriptEntry{Kind: EntryKindUser, Text: text}
}

// BotEntry builds a bot transcript entry without a template snapshot.
func BotEntry(text string) TranscriptEntry {
	return TranscriptEntry{Kind: EntryKindBot, Text: text}
}

// BotEntryWithSnapshot builds a bot transcript entry carrying its own copy of t.
func BotEntryWithSnapshot(text string, t Template) TranscriptEntry {
	snapshot := t.Clone()
	return TranscriptEntry{Kind: EntryKindBot, Text: text, Template: &snapshot}
}

// HasSnapshot reports whether the entry carries a template snapshot.
func (e TranscriptEntry) HasSnapshot() bool {
	return e.Kind == EntryKindBot && e.Template != nil
}

// Clone returns a deep copy of the entry so callers cannot reach the stored snapshot.
func (e TranscriptEntry) Clone() TranscriptEntry {
	if e.Template != nil {
		snapshot := e.Template.Clone()
		e.Template = &snapshot
	}
	return e
}
