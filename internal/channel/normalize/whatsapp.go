package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

// WhatsApp walks a WhatsApp Cloud API webhook body
// (entry[].changes[].value.messages[]) and returns the normalized events.
// The value object carries metadata.phone_number_id identifying the receiving
// account; statuses arrive in the same envelope as messages.
func WhatsApp(body []byte, receivedAt time.Time) ([]channel.InboundEvent, []channel.StatusEvent, error) {
	var payload struct {
		Entry []struct {
			ID      string `json:"id"`
			Changes []struct {
				Value json.RawMessage `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode whatsapp payload: %w", err)
	}

	var events []channel.InboundEvent
	var statuses []channel.StatusEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			var value map[string]any
			if err := json.Unmarshal(change.Value, &value); err != nil {
				continue
			}
			accountID := entry.ID
			if metadata, ok := value["metadata"].(map[string]any); ok {
				if id, ok := metadata["phone_number_id"].(string); ok && id != "" {
					accountID = id
				}
			}
			messages, _ := value["messages"].([]any)
			for _, rawMsg := range messages {
				item, ok := rawMsg.(map[string]any)
				if !ok {
					continue
				}
				senderID := firstString(item, []string{"from"})
				messageID := firstString(item, []string{"id"})
				if senderID == "" || messageID == "" {
					continue
				}
				events = append(events, channel.InboundEvent{
					Channel:           channel.TypeWhatsAppCloud,
					ExternalAccountID: accountID,
					ExternalUserID:    senderID,
					ExternalThreadID:  senderID,
					MessageID:         messageID,
					Text:              firstString(item, []string{"text.body"}),
					Attachments:       whatsappAttachments(item),
					Timestamp:         whatsappEpoch(item["timestamp"], receivedAt),
					Raw:               mustMarshal(item),
				})
			}
			for _, rawStatus := range statusList(value) {
				item, ok := rawStatus.(map[string]any)
				if !ok {
					continue
				}
				mid := firstString(item, []string{"id"})
				state := firstString(item, []string{"status"})
				if mid == "" || state == "" {
					continue
				}
				statuses = append(statuses, channel.StatusEvent{
					Channel:           channel.TypeWhatsAppCloud,
					ExternalAccountID: accountID,
					ExternalMessageID: mid,
					Status:            state,
					Timestamp:         whatsappEpoch(item["timestamp"], receivedAt),
				})
			}
		}
	}
	return events, statuses, nil
}

// whatsappAttachments maps the Cloud API's typed media objects (image, video,
// audio, document, sticker) into the uniform descriptor.
func whatsappAttachments(item map[string]any) []channel.Attachment {
	for _, key := range []string{"image", "video", "audio", "document", "sticker"} {
		media, ok := item[key].(map[string]any)
		if !ok {
			continue
		}
		att := MapAttachment(media)
		if att.Type == channel.AttachmentFile && key != "document" {
			switch key {
			case "image", "sticker":
				att.Type = channel.AttachmentImage
			case "video":
				att.Type = channel.AttachmentVideo
			case "audio":
				att.Type = channel.AttachmentAudio
			}
		}
		return []channel.Attachment{att}
	}
	return nil
}

// whatsappEpoch parses the Cloud API's string epoch seconds.
func whatsappEpoch(raw any, fallback time.Time) time.Time {
	if s, ok := raw.(string); ok && s != "" {
		var epoch int64
		if _, err := fmt.Sscanf(s, "%d", &epoch); err == nil && epoch > 0 {
			return time.Unix(epoch, 0).UTC()
		}
		return fallback
	}
	return epochOr(raw, fallback)
}

func mustMarshal(item map[string]any) json.RawMessage {
	raw, err := json.Marshal(item)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
