package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/slotexec/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "slotexec-history")
	event := history.Event{
		Type:       history.EventFailed,
		OccurredAt: time.Now().UTC(),
		Slot:       1,
		Depth:      2,
		Statement:  "SELECT broken",
		Duration:   2 * time.Millisecond,
		Error:      "no such column: broken",
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/slotexec-history/_doc" {
		t.Errorf("Unexpected URL path: %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Unexpected content type: %s", contentType)
	}
	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if got.Type != history.EventFailed || got.Statement != event.Statement || got.Error != event.Error || got.Slot != 1 {
		t.Errorf("Unexpected document: %+v", got)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "idx")
	if err := sink.Send(context.Background(), history.Event{Type: history.EventExecuted}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	sink := New("http://127.0.0.1:1", "idx")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Send(ctx, history.Event{Type: history.EventExecuted}); err == nil {
		t.Fatalf("expected error for unreachable server")
	}
}
