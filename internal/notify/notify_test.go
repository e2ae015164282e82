package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/notify"
)

func sampleEvent() notify.Event {
	return notify.Event{
		Type:          notify.EventSettled,
		ContestID:     "c1",
		ContestType:   model.ContestPlayer,
		WinnerLabel:   model.LabelCreator,
		WinnerID:      "alice",
		CreatorUserID: "alice",
		ClaimerUserID: "bob",
		CreatorWin:    "17.00",
		ClaimerWin:    "-10.00",
		At:            time.Date(2026, 9, 14, 4, 0, 0, 0, time.UTC),
	}
}

func TestWebhook_PostsEvent(t *testing.T) {
	var got notify.Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Event-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(srv.URL, 0, nil)
	if err := wh.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if got.ContestID != "c1" || got.WinnerLabel != model.LabelCreator {
		t.Errorf("unexpected payload: %+v", got)
	}
	if header != notify.EventSettled {
		t.Errorf("expected event type header, got %q", header)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := notify.NewWebhook(srv.URL, 100, nil).Notify(context.Background(), sampleEvent())
	var httpErr *notify.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError 503, got %v", err)
	}
}

func TestHTTPError_KeepsNumericStatus(t *testing.T) {
	for code, want := range map[int]string{
		http.StatusBadGateway: "webhook: http status 502",
		599:                   "webhook: http status 599",
	} {
		if got := (&notify.HTTPError{StatusCode: code}).Error(); got != want {
			t.Errorf("status %d: expected %q, got %q", code, want, got)
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingSink) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti_FailingSinkDoesNotStopOthers(t *testing.T) {
	bad := &recordingSink{err: errors.New("boom")}
	good := &recordingSink{}
	m := notify.NewMulti(nil).Add("bad", bad).Add("good", good)

	err := m.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(good.events) != 1 {
		t.Errorf("expected good sink to receive the event, got %d", len(good.events))
	}
}

func TestHub_BroadcastsToClient(t *testing.T) {
	hub := notify.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	if err := hub.Notify(ctx, sampleEvent()); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev notify.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ContestID != "c1" || ev.Type != notify.EventSettled {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := notify.NewHub(nil) // not running, nothing drains the buffer
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.Notify(context.Background(), sampleEvent())
	}
	if !errors.Is(err, notify.ErrHubBackpressure) {
		t.Errorf("expected ErrHubBackpressure, got %v", err)
	}
}
