package queues

import (
	"testing"
	"time"
)

func TestSelectDunningStep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	past := func(d time.Duration) time.Time { return now.Add(-d) }
	stamp := now.Add(-time.Hour)

	tests := []struct {
		name string
		inv  pendingInvoice
		want DunningStep
	}{
		{"due today", pendingInvoice{DueAt: past(2 * time.Hour)}, StepReminder},
		{"due today already reminded", pendingInvoice{DueAt: past(2 * time.Hour), RemindedAt: &stamp}, StepNone},
		{"two days overdue", pendingInvoice{DueAt: past(3 * 24 * time.Hour)}, StepNotice},
		{"notice already sent", pendingInvoice{DueAt: past(3 * 24 * time.Hour), OverdueNoticeAt: &stamp}, StepNone},
		{"eight days overdue", pendingInvoice{DueAt: past(8 * 24 * time.Hour)}, StepDeactivate},
		{"way overdue always deactivates", pendingInvoice{DueAt: past(30 * 24 * time.Hour), RemindedAt: &stamp, OverdueNoticeAt: &stamp}, StepDeactivate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SelectDunningStep(tc.inv, now); got != tc.want {
				t.Fatalf("SelectDunningStep(%s) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}
