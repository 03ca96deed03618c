// Package channel defines the canonical message model shared by webhook
// normalization, ingestion, and outbound delivery, plus the transport registry.
package channel

import (
	"encoding/json"
	"strings"
	"time"
)

// Type identifies a messaging platform.
type Type string

const (
	TypeMessenger       Type = "messenger"
	TypeInstagram       Type = "instagram"
	TypeWhatsAppCloud   Type = "whatsapp_cloud"
	TypeWhatsAppSession Type = "whatsapp_session"
)

// String returns the channel type as a plain string.
func (t Type) String() string {
	return string(t)
}

// ParseType normalizes a raw channel string, returning "" when unknown.
func ParseType(raw string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeMessenger:
		return TypeMessenger
	case TypeInstagram:
		return TypeInstagram
	case TypeWhatsAppCloud:
		return TypeWhatsAppCloud
	case TypeWhatsAppSession:
		return TypeWhatsAppSession
	}
	return ""
}

// AttachmentType classifies the kind of attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is the provider-agnostic attachment descriptor. Every field is
// independently optional; it is derived from the provider payload and can be
// re-derived by reprocessing the audit copy.
type Attachment struct {
	Type       AttachmentType `json:"type"`
	Mime       string         `json:"mime,omitempty"`
	RemoteURL  string         `json:"remote_url,omitempty"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Size       int64          `json:"size,omitempty"`
}

// InboundEvent is one normalized inbound message from a provider webhook.
type InboundEvent struct {
	Channel           Type
	ExternalAccountID string
	ExternalUserID    string
	ExternalThreadID  string
	MessageID         string
	Text              string
	Attachments       []Attachment
	Timestamp         time.Time
	Raw               json.RawMessage
}

// StatusEvent is a delivery or read receipt for a previously sent message.
// ExternalAccountID identifies the provider account the receipt arrived on,
// so the webhook boundary can resolve the owning org the same way it does
// for inbound messages.
type StatusEvent struct {
	Channel           Type
	ExternalAccountID string
	ExternalMessageID string
	Status            string
	Timestamp         time.Time
}

// MessageType derives the canonical message type from the event content.
func (e InboundEvent) MessageType() string {
	if len(e.Attachments) == 0 {
		return "text"
	}
	switch e.Attachments[0].Type {
	case AttachmentImage:
		return "image"
	case AttachmentVideo:
		return "video"
	case AttachmentAudio:
		return "audio"
	default:
		return "file"
	}
}
