package normalize

import (
	"testing"

	"github.com/loopline-io/loopline/internal/channel"
)

func TestMapAttachmentURLPriority(t *testing.T) {
	t.Parallel()

	// payload.url outranks image_url in the candidate order.
	att := MapAttachment(map[string]any{
		"payload":   map[string]any{"url": "https://cdn.example.com/a.jpg"},
		"image_url": "https://cdn.example.com/other.jpg",
		"type":      "image",
	})
	if att.RemoteURL != "https://cdn.example.com/a.jpg" {
		t.Fatalf("expected payload.url to win, got %q", att.RemoteURL)
	}
	if att.Type != channel.AttachmentImage {
		t.Fatalf("expected image type, got %q", att.Type)
	}
}

func TestMapAttachmentTypeFromMime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mime string
		want channel.AttachmentType
	}{
		{"image mime", "image/png", channel.AttachmentImage},
		{"video mime", "video/mp4", channel.AttachmentVideo},
		{"audio mime", "audio/ogg", channel.AttachmentAudio},
		{"unknown mime", "application/pdf", channel.AttachmentFile},
		{"no mime", "", channel.AttachmentFile},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			att := MapAttachment(map[string]any{"url": "https://x/y", "mime_type": tc.mime})
			if att.Type != tc.want {
				t.Fatalf("mime %q: expected %q, got %q", tc.mime, tc.want, att.Type)
			}
		})
	}
}

func TestMapAttachmentExplicitTypeBeatsMime(t *testing.T) {
	t.Parallel()

	att := MapAttachment(map[string]any{
		"type":      "sticker",
		"mime_type": "application/octet-stream",
	})
	if att.Type != channel.AttachmentImage {
		t.Fatalf("expected sticker to map to image, got %q", att.Type)
	}
}

func TestMapAttachmentDimensions(t *testing.T) {
	t.Parallel()

	att := MapAttachment(map[string]any{
		"url":         "https://x/v.mp4",
		"width":       float64(640),
		"height":      float64(480),
		"duration_ms": float64(12000),
		"file_size":   float64(1024),
	})
	if att.Width != 640 || att.Height != 480 || att.DurationMs != 12000 || att.Size != 1024 {
		t.Fatalf("unexpected dimensions: %+v", att)
	}
}

func TestMapAttachmentsSkipsNonObjects(t *testing.T) {
	t.Parallel()

	out := MapAttachments([]any{"junk", map[string]any{"url": "https://x/a"}, nil})
	if len(out) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(out))
	}
}
