package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

// Instagram walks an Instagram webhook body
// (entry[].changes[].value.messages[]) and returns the normalized events.
func Instagram(body []byte, receivedAt time.Time) ([]channel.InboundEvent, []channel.StatusEvent, error) {
	var payload struct {
		Entry []struct {
			ID      string `json:"id"`
			Changes []struct {
				Value json.RawMessage `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode instagram payload: %w", err)
	}

	var events []channel.InboundEvent
	var statuses []channel.StatusEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			var value map[string]any
			if err := json.Unmarshal(change.Value, &value); err != nil {
				continue
			}
			messages, _ := value["messages"].([]any)
			for _, rawMsg := range messages {
				item, ok := rawMsg.(map[string]any)
				if !ok {
					continue
				}
				senderID := firstString(item, []string{"from.id", "from", "sender.id"})
				if senderID == "" || senderID == entry.ID {
					continue
				}
				messageID := firstString(item, []string{"id", "mid"})
				if messageID == "" {
					continue
				}
				text := firstString(item, []string{"text", "message.text"})
				attachments := instagramAttachments(item)
				rawBytes, _ := json.Marshal(item)

				events = append(events, channel.InboundEvent{
					Channel:           channel.TypeInstagram,
					ExternalAccountID: entry.ID,
					ExternalUserID:    senderID,
					ExternalThreadID:  senderID,
					MessageID:         messageID,
					Text:              text,
					Attachments:       attachments,
					Timestamp:         epochOr(item["timestamp"], receivedAt),
					Raw:               rawBytes,
				})
			}
			for _, rawStatus := range statusList(value) {
				item, ok := rawStatus.(map[string]any)
				if !ok {
					continue
				}
				mid := firstString(item, []string{"id", "mid"})
				state := firstString(item, []string{"status"})
				if mid == "" || state == "" {
					continue
				}
				statuses = append(statuses, channel.StatusEvent{
					Channel:           channel.TypeInstagram,
					ExternalAccountID: entry.ID,
					ExternalMessageID: mid,
					Status:            state,
					Timestamp:         epochOr(item["timestamp"], receivedAt),
				})
			}
		}
	}
	return events, statuses, nil
}

func instagramAttachments(item map[string]any) []channel.Attachment {
	if list, ok := item["attachments"].([]any); ok {
		return MapAttachments(list)
	}
	// History API responses nest attachments under attachments.data.
	if wrapper, ok := item["attachments"].(map[string]any); ok {
		if list, ok := wrapper["data"].([]any); ok {
			return MapAttachments(list)
		}
	}
	return nil
}

func statusList(value map[string]any) []any {
	if list, ok := value["statuses"].([]any); ok {
		return list
	}
	return nil
}
