// Package queues holds the domain logic behind each named queue. Every
// function here returns a jobs.Processor; the shared worker harness owns
// retries, dead-lettering, and shutdown.
package queues

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loopline-io/loopline/internal/email"
	"github.com/loopline-io/loopline/internal/jobs"
)

type emailSendPayload struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	OrgID       string `json:"orgId"`
	CampaignID  string `json:"campaignId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// EmailSend builds the email-send processor: suppression check, provider
// delivery, auditable outcome, campaign-recipient write-back. Suppressed is
// a successful outcome; the job completes without delivery.
func EmailSend(svc *email.Service) jobs.Processor {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload emailSendPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobs.NonRetryable(fmt.Errorf("decode email-send payload: %w", err))
		}
		if payload.To == "" || payload.OrgID == "" {
			return jobs.NonRetryable(fmt.Errorf("email-send payload missing to/orgId"))
		}

		_, err := svc.Deliver(ctx, email.SendInput{
			OrgID:       payload.OrgID,
			To:          payload.To,
			Subject:     payload.Subject,
			HTML:        payload.HTML,
			Provider:    payload.Provider,
			CampaignID:  payload.CampaignID,
			RecipientID: payload.RecipientID,
		})
		return err
	}
}
