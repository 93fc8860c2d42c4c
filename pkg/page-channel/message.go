// Package pagechannel carries status messages between the worker and the
// pages it controls.
package pagechannel

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is written to every outbound message.
// Inbound messages without a version are accepted as version 1.
const SchemaVersion = 1

// Notices sent to pages.
const (
	// The page must clear its authentication marker.
	NoticeForceLogout = "force-logout"
	// The page must drop its local draft of the new post form.
	NoticeClearDraft = "clear-draft"
)

// Status is the worker's belief about connectivity and authentication.
type Status struct {
	Online   bool `json:"isOnline"`
	LoggedIn bool `json:"isLoggedIn"`
}

// StatusUpdate is a partial status; nil fields are left unchanged.
type StatusUpdate struct {
	Online   *bool `json:"isOnline,omitempty"`
	LoggedIn *bool `json:"isLoggedIn,omitempty"`
}

// Message is the envelope exchanged in both directions.
// Exactly one of the payload fields is set.
type Message struct {
	Version             int           `json:"v"`
	StatusUpdate        *StatusUpdate `json:"statusUpdate,omitempty"`
	RequestStatusUpdate bool          `json:"requestStatusUpdate,omitempty"`
	Notice              string        `json:"notice,omitempty"`
}

func StatusMessage(s Status) Message {
	online, loggedIn := s.Online, s.LoggedIn
	return Message{
		Version:      SchemaVersion,
		StatusUpdate: &StatusUpdate{Online: &online, LoggedIn: &loggedIn},
	}
}

func RequestStatusMessage() Message {
	return Message{Version: SchemaVersion, RequestStatusUpdate: true}
}

func NoticeMessage(notice string) Message {
	return Message{Version: SchemaVersion, Notice: notice}
}

// Decode parses and validates an inbound message.
func Decode(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	if msg.Version == 0 {
		msg.Version = SchemaVersion
	}
	if msg.Version != SchemaVersion {
		return msg, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	set := 0
	if msg.StatusUpdate != nil {
		set++
	}
	if msg.RequestStatusUpdate {
		set++
	}
	if msg.Notice != "" {
		set++
	}
	if set != 1 {
		return msg, fmt.Errorf("message must carry exactly one payload, has %d", set)
	}
	return msg, nil
}

// Encode marshals an outbound message, stamping the schema version.
func Encode(msg Message) ([]byte, error) {
	msg.Version = SchemaVersion
	return json.Marshal(msg)
}
