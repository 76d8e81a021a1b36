package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/farid/autostrike/internal/models"
)

// Notifier posts a completion notification when a session reaches a
// terminal status.
type Notifier struct {
	WebhookURL string // if empty, no notifications
}

// completionPayload is the JSON body posted to the webhook endpoint.
type completionPayload struct {
	SessionID      string  `json:"session_id"`
	Name           string  `json:"name"`
	ProjectID      string  `json:"project_id"`
	Target         string  `json:"target"`
	Status         string  `json:"status"`
	Rounds         int     `json:"rounds"`
	Failure        string  `json:"failure,omitempty"`
	ReportRef      string  `json:"report_ref,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// SendCompletion posts the finished session's summary to the webhook URL.
// Returns nil if WebhookURL is empty (no-op). Non-fatal: errors are returned
// but callers should treat them as warnings.
func (n *Notifier) SendCompletion(sess *models.ScanSession) error {
	if n == nil || n.WebhookURL == "" {
		return nil
	}

	var elapsed time.Duration
	if sess.StartedAt != nil && sess.FinishedAt != nil {
		elapsed = sess.FinishedAt.Sub(*sess.StartedAt)
	}

	payload := completionPayload{
		SessionID:      sess.ID,
		Name:           sess.Name,
		ProjectID:      sess.ProjectID,
		Target:         sess.Target,
		Status:         string(sess.Status),
		Rounds:         sess.ExecutedRounds(),
		Failure:        sess.Failure,
		ReportRef:      sess.ReportRef,
		ElapsedSeconds: elapsed.Seconds(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshaling payload: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(n.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.WebhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned non-2xx status %d", resp.StatusCode)
	}

	return nil
}
