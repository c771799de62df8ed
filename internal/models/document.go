package models

// RetrievedDocument is one chunk returned by a similarity search.
type RetrievedDocument struct {
	Text      string  `json:"text"`
	SourceID  string  `json:"source_id"`
	SourceURI string  `json:"source_uri,omitempty"`
	Score     float64 `json:"score"`
}
