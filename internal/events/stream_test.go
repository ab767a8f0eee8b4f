package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/installmatch/backend/internal/models"
)

func TestStreamHandler_Unauthenticated(t *testing.T) {
	h := NewStreamHandler(NewBroker(nil), func(context.Context) (models.Identity, bool) {
		return models.Identity{}, false
	}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestStreamHandler_WritesEvents(t *testing.T) {
	b := NewBroker(nil)
	acct := uuid.New()
	h := NewStreamHandler(b, func(context.Context) (models.Identity, bool) {
		return models.Identity{AccountID: acct, Role: models.RoleContractor}, true
	}, nil)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Message{Kind: KindBalanceChanged, Audience: []uuid.UUID{acct}, Payload: []byte(`{"balance":10}`)})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: balance_changed" || lines[1] != `data: {"balance":10}` {
		t.Errorf("stream = %q", lines)
	}

	cancel()
	resp.Body.Close()
	srv.Close()
	for i := 0; i < 100 && b.Subscribers() != 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Subscribers() != 0 {
		t.Errorf("subscriber not released after disconnect")
	}
}
