// Package notify hands aggregate run outcomes to a human: new items that
// were created as drafts, and conflicts requiring review. Formatting and
// delivery beyond the structured event are someone else's problem.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Item is one line of a notification body.
type Item struct {
	Identity string `json:"identity"`
	Title    string `json:"title,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Notifier receives the two event classes the engine emits. Delivery is
// best-effort; a notifier must never fail the run.
type Notifier interface {
	NewItems(runID string, items []Item)
	Conflicts(runID string, items []Item)
}

// Null discards all notifications.
type Null struct{}

func (Null) NewItems(string, []Item)  {}
func (Null) Conflicts(string, []Item) {}

// Webhook posts notification events as JSON to a configured URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook builds a webhook notifier with a short delivery timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type event struct {
	Subject string `json:"subject"`
	RunID   string `json:"run_id"`
	Items   []Item `json:"items"`
}

// NewItems implements Notifier.
func (w *Webhook) NewItems(runID string, items []Item) {
	w.post(event{Subject: "new items created", RunID: runID, Items: items})
}

// Conflicts implements Notifier.
func (w *Webhook) Conflicts(runID string, items []Item) {
	w.post(event{Subject: "conflict requiring human review", RunID: runID, Items: items})
}

func (w *Webhook) post(e event) {
	if w.URL == "" || len(e.Items) == 0 {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("notify: encode event: %v", err)
		return
	}
	resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify: deliver %q: %v", e.Subject, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Printf("notify: deliver %q: status %d", e.Subject, resp.StatusCode)
	}
}
