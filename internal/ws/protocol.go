package ws

import (
	"github.com/tensei-bridge/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot   MessageType = "snapshot"
	MsgDelta      MessageType = "delta"
	MsgCompletion MessageType = "completion"
	MsgError      MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.State `json:"sessions"`
}

type DeltaPayload struct {
	Updates []*session.State `json:"updates"`
	Removed []string         `json:"removed,omitempty"`
}

// CompletionPayload announces a session reaching the complete step, so
// UIs can celebrate without diffing deltas.
type CompletionPayload struct {
	SessionID   string         `json:"sessionId"`
	ResultAsset *session.Asset `json:"resultAsset,omitempty"`
}
