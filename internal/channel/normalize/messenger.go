// Package normalize converts provider-specific webhook bodies into canonical
// inbound events. Each provider has its own nesting; the output shape is the
// same for all of them.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

// Messenger walks a Messenger webhook body (entry[].messaging[]) and returns
// the normalized events. Self-authored echoes (sender == page id) are
// skipped; entries without a message key are skipped. Duplicates within one
// batch are not collapsed here — ingestion dedupes on the message id.
func Messenger(body []byte, receivedAt time.Time) ([]channel.InboundEvent, []channel.StatusEvent, error) {
	var payload struct {
		Entry []struct {
			ID        string            `json:"id"`
			Messaging []json.RawMessage `json:"messaging"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode messenger payload: %w", err)
	}

	var events []channel.InboundEvent
	var statuses []channel.StatusEvent
	for _, entry := range payload.Entry {
		for _, raw := range entry.Messaging {
			var item map[string]any
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			senderID := nestedString(item, "sender", "id")
			if senderID == "" || senderID == entry.ID {
				continue
			}
			if status, ok := messengerStatus(entry.ID, item, receivedAt); ok {
				statuses = append(statuses, status)
				continue
			}
			message, ok := item["message"].(map[string]any)
			if !ok {
				continue
			}
			messageID, _ := message["mid"].(string)
			if messageID == "" {
				continue
			}
			text, _ := message["text"].(string)
			attachments, _ := message["attachments"].([]any)

			events = append(events, channel.InboundEvent{
				Channel:           channel.TypeMessenger,
				ExternalAccountID: entry.ID,
				ExternalUserID:    senderID,
				ExternalThreadID:  senderID,
				MessageID:         messageID,
				Text:              text,
				Attachments:       MapAttachments(attachments),
				Timestamp:         epochOr(item["timestamp"], receivedAt),
				Raw:               raw,
			})
		}
	}
	return events, statuses, nil
}

// messengerStatus maps a delivery receipt. Read receipts carry only a
// watermark, never a message id, so they cannot be applied to a message row
// and are dropped.
func messengerStatus(accountID string, item map[string]any, receivedAt time.Time) (channel.StatusEvent, bool) {
	if delivery, ok := item["delivery"].(map[string]any); ok {
		if mids, ok := delivery["mids"].([]any); ok && len(mids) > 0 {
			if mid, ok := mids[0].(string); ok {
				return channel.StatusEvent{
					Channel:           channel.TypeMessenger,
					ExternalAccountID: accountID,
					ExternalMessageID: mid,
					Status:            "delivered",
					Timestamp:         epochOr(delivery["watermark"], receivedAt),
				}, true
			}
		}
	}
	return channel.StatusEvent{}, false
}

func nestedString(obj map[string]any, keys ...string) string {
	current := any(obj)
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	s, _ := current.(string)
	return s
}

// epochOr converts a provider epoch (seconds or milliseconds) to a time,
// falling back to the receipt time on missing or invalid values.
func epochOr(raw any, fallback time.Time) time.Time {
	epoch, ok := raw.(float64)
	if !ok || epoch <= 0 {
		return fallback
	}
	ms := int64(epoch)
	// Meta sends milliseconds; backfill responses sometimes send seconds.
	if ms < 1e12 {
		ms *= 1000
	}
	return time.UnixMilli(ms).UTC()
}
