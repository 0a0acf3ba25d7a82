package domain

// ConversationTurn is one persisted exchange for a user. It is created by the
// transcript stage and may later be enriched with the completion and audio
// reference produced by the same run.
type ConversationTurn struct {
	UserID     string
	Timestamp  string
	RunID      string
	Prompt     string
	Completion string
	AudioRef   string
	TTL        int64
}

// Completed reports whether the turn carries both sides of the exchange.
func (t ConversationTurn) Completed() bool {
	return t.Prompt != "" && t.Completion != ""
}

// AudioArtifact identifies synthesized audio written to the audio store.
type AudioArtifact struct {
	StorageKey string
	UserID     string
	URL        string
}
