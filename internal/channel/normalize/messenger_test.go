package normalize

import (
	"testing"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
)

var receiptTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestMessengerBasicMessage(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"timestamp": 1741953600000,
				"message": {"mid": "m-1", "text": "hello"}
			}]
		}]
	}`)

	events, statuses, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("expected no statuses, got %d", len(statuses))
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Channel != channel.TypeMessenger {
		t.Fatalf("unexpected channel: %s", ev.Channel)
	}
	if ev.ExternalAccountID != "page-1" || ev.ExternalUserID != "user-9" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.MessageID != "m-1" || ev.Text != "hello" {
		t.Fatalf("unexpected message: %+v", ev)
	}
	if ev.Timestamp.Year() != 2025 {
		t.Fatalf("timestamp not taken from payload epoch: %v", ev.Timestamp)
	}
}

func TestMessengerSkipsEchoes(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "page-1"},
				"message": {"mid": "m-echo", "text": "from the page itself"}
			}]
		}]
	}`)

	events, _, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected echo to be skipped, got %d events", len(events))
	}
}

func TestMessengerSkipsMissingMessageKey(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{"sender": {"id": "user-9"}, "postback": {"payload": "CLICK"}}]
		}]
	}`)

	events, _, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected entry without message key to be skipped, got %d", len(events))
	}
}

func TestMessengerTimestampFallback(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {"mid": "m-2", "text": "no timestamp"}
			}]
		}]
	}`)

	events, _, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].Timestamp.Equal(receiptTime) {
		t.Fatalf("expected receipt-time fallback, got %v", events[0].Timestamp)
	}
}

func TestMessengerDeliveryReceipt(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"delivery": {"mids": ["m-out-1"], "watermark": 1741953600000}
			}]
		}]
	}`)

	events, statuses, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no inbound events, got %d", len(events))
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].ExternalMessageID != "m-out-1" || statuses[0].Status != "delivered" {
		t.Fatalf("unexpected status: %+v", statuses[0])
	}
	if statuses[0].ExternalAccountID != "page-1" {
		t.Fatalf("expected page id on status, got %q", statuses[0].ExternalAccountID)
	}
}

func TestMessengerDropsReadReceipts(t *testing.T) {
	t.Parallel()

	// Read receipts carry a watermark but no message id, so there is nothing
	// to apply them to.
	body := []byte(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"read": {"watermark": 1741953600000}
			}]
		}]
	}`)

	events, statuses, err := Messenger(body, receiptTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 || len(statuses) != 0 {
		t.Fatalf("expected read receipt to be dropped, got %d events, %d statuses",
			len(events), len(statuses))
	}
}

func TestMessengerMalformedBody(t *testing.T) {
	t.Parallel()

	if _, _, err := Messenger([]byte(`{not json`), receiptTime); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
