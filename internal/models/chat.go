package models

import (
	"encoding/base64"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeVoice MessageType = "voice"
)

// ChatMessage is persisted per session, ordered, capped to the most
// recent entries. AudioURL is set only for voice messages whose recording
// captured at least one byte; receivers treat absence as unplayable.
type ChatMessage struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	UserName      string      `json:"userName"`
	Message       string      `json:"message"`
	Type          MessageType `json:"type"`
	AudioURL      string      `json:"audioUrl,omitempty"`
	AudioDuration float64     `json:"audioDuration,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// VoiceDataURL encodes a voice recording as a data: URL. Empty payloads
// yield an empty string so the audioUrl field is omitted on the wire.
func VoiceDataURL(mimeType string, payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
