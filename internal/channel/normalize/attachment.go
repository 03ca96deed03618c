package normalize

import (
	"strings"

	"github.com/loopline-io/loopline/internal/channel"
)

// Candidate field names per property, in priority order. Provider attachment
// shapes differ between live webhooks and history/backfill API responses, so
// the mapper takes the first non-null match rather than trusting one schema.
var (
	urlCandidates      = []string{"remote_url", "url", "payload.url", "file_url", "image_url", "video_url", "sticker_url", "href", "link"}
	mimeCandidates     = []string{"mime", "mime_type", "mimetype", "content_type", "payload.mime_type"}
	sizeCandidates     = []string{"size", "file_size", "filesize", "payload.size"}
	widthCandidates    = []string{"width", "payload.width", "image_data.width"}
	heightCandidates   = []string{"height", "payload.height", "image_data.height"}
	durationCandidates = []string{"duration_ms", "duration", "payload.duration", "video_data.length_ms"}
	typeCandidates     = []string{"type", "attachment_type", "payload.type"}
)

// MapAttachment extracts a uniform attachment descriptor from one provider
// attachment object.
func MapAttachment(raw map[string]any) channel.Attachment {
	att := channel.Attachment{
		Mime:       firstString(raw, mimeCandidates),
		RemoteURL:  firstString(raw, urlCandidates),
		Size:       firstInt(raw, sizeCandidates),
		Width:      int(firstInt(raw, widthCandidates)),
		Height:     int(firstInt(raw, heightCandidates)),
		DurationMs: firstInt(raw, durationCandidates),
	}
	att.Type = inferType(firstString(raw, typeCandidates), att.Mime)
	return att
}

// MapAttachments maps a slice of provider attachment objects, skipping
// entries that are not objects.
func MapAttachments(raw []any) []channel.Attachment {
	if len(raw) == 0 {
		return nil
	}
	out := make([]channel.Attachment, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, MapAttachment(obj))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func inferType(explicit, mime string) channel.AttachmentType {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "image", "sticker", "photo":
		return channel.AttachmentImage
	case "video":
		return channel.AttachmentVideo
	case "audio", "voice":
		return channel.AttachmentAudio
	case "file", "document":
		return channel.AttachmentFile
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return channel.AttachmentImage
	case strings.HasPrefix(mime, "video/"):
		return channel.AttachmentVideo
	case strings.HasPrefix(mime, "audio/"):
		return channel.AttachmentAudio
	}
	return channel.AttachmentFile
}

// lookupPath resolves a dot path ("payload.url") inside nested objects.
func lookupPath(obj map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(obj)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func firstString(obj map[string]any, candidates []string) string {
	for _, path := range candidates {
		value, ok := lookupPath(obj, path)
		if !ok {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstInt(obj map[string]any, candidates []string) int64 {
	for _, path := range candidates {
		value, ok := lookupPath(obj, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			if v != 0 {
				return int64(v)
			}
		case int64:
			if v != 0 {
				return v
			}
		case int:
			if v != 0 {
				return int64(v)
			}
		}
	}
	return 0
}
