package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestTelegramPostsMessage(t *testing.T) {
	var calls int32
	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42", srv.URL, 0)
	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 || got.ChatID != "42" || got.Text != "hello" {
		t.Fatalf("calls = %d, body = %+v", calls, got)
	}
}

func TestTelegramReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram("TOKEN", "42", srv.URL, 0).Notify(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Notify() error = %v, want chat not found", err)
	}
}

func TestTelegramWithoutTokenIsNoop(t *testing.T) {
	tg := NewTelegram("", "42", "http://127.0.0.1:1", 0)
	if tg.Enabled() {
		t.Fatalf("Enabled() = true without token")
	}
	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
}

func TestFormat(t *testing.T) {
	got := Format("venuecheck_failed", [][2]string{{"venue", "okx"}, {"failed", "fees"}})
	want := "[spot-connect] venuecheck_failed\nvenue: okx\nfailed: fees"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}
