package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookPostsEvents(t *testing.T) {
	var got event
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode event: %v", err)
		}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	wh.NewItems("run-1", []Item{{Identity: "GW-1000", Title: "Intercessors"}})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got.Subject != "new items created" || got.RunID != "run-1" {
		t.Fatalf("event = %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Identity != "GW-1000" {
		t.Fatalf("items = %v", got.Items)
	}

	wh.Conflicts("run-1", []Item{{Identity: "GW-2000", Detail: "price conflict"}})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if got.Subject != "conflict requiring human review" {
		t.Fatalf("event = %+v", got)
	}
}

func TestWebhookSkipsEmptyBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	wh.NewItems("run-1", nil)
	wh.Conflicts("run-1", nil)

	if calls != 0 {
		t.Fatalf("calls = %d, empty batches must not post", calls)
	}
}

func TestWebhookDeliveryFailureIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Failure is logged, never surfaced; the call must simply return.
	NewWebhook(srv.URL).NewItems("run-1", []Item{{Identity: "GW-1000"}})
}
