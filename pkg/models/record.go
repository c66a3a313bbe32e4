package models

import "time"

// IndexVersion is the on-disk schema version of index.json. Stores written
// with a different version are rebuilt from store.jsonl on load.
const IndexVersion = 1

// RecordIDPrefix prefixes every store record identifier.
const RecordIDPrefix = "rlm-obj-"

// ContentType classifies the payload of a store record.
type ContentType string

const (
	ContentConversation ContentType = "conversation"
	ContentToolOutput   ContentType = "tool_output"
	ContentFile         ContentType = "file"
	ContentArtifact     ContentType = "artifact"
)

// SourceKind discriminates where a record came from.
type SourceKind string

const (
	// SourceExternalized marks content relocated out of the host message list.
	SourceExternalized SourceKind = "externalized"
	// SourceIngested marks content read from a file path.
	SourceIngested SourceKind = "ingested"
	// SourceChildResult marks the captured output of a child model call.
	SourceChildResult SourceKind = "child_result"
)

// RecordSource carries the discriminant-specific provenance of a record.
type RecordSource struct {
	Kind SourceKind `json:"kind"`

	// Fingerprint is set for SourceExternalized records.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Path is the absolute ingest path for SourceIngested records.
	Path string `json:"path,omitempty"`

	// CallID is the child call identifier for SourceChildResult records.
	CallID string `json:"call_id,omitempty"`
}

// Record is one immutable entry in the external store. Records are created on
// externalization, ingestion, or child-result capture and never mutated.
type Record struct {
	ID            string       `json:"id"`
	CreatedAt     time.Time    `json:"created_at"`
	Type          ContentType  `json:"type"`
	Description   string       `json:"description"`
	TokenEstimate int          `json:"token_estimate"`
	Source        RecordSource `json:"source"`
	Content       string       `json:"content"`
}

// IndexEntry describes one record in index.json, including where its line
// lives in store.jsonl. Offset and Length are -1 until the corresponding
// append completes.
type IndexEntry struct {
	ID            string      `json:"id"`
	Type          ContentType `json:"type"`
	Description   string      `json:"description"`
	TokenEstimate int         `json:"token_estimate"`
	CreatedAt     time.Time   `json:"created_at"`
	Offset        int64       `json:"offset"`
	Length        int64       `json:"length"`
}

// StoreIndex is the full persisted index: insertion-ordered entries plus the
// running token total.
type StoreIndex struct {
	Version     int          `json:"version"`
	SessionID   string       `json:"session_id"`
	Entries     []IndexEntry `json:"entries"`
	TotalTokens int          `json:"total_tokens"`
}
