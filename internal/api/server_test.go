package api

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

	"github.com/gin-gonic/gin"

	"notisync/internal/eventbus"
	"notisync/internal/inbox"
	"notisync/internal/notification"
	"notisync/internal/prefs"
	"notisync/internal/storage"
	logx "notisync/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeInbox struct {
	mu         sync.Mutex
	items      []notification.Notification
	refreshErr error
	refreshes  int
	bulk       int
}

func (f *fakeInbox) Notifications() []notification.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification.Notification
	for _, n := range f.items {
		if n.Type != notification.TypeCollabMessage {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeInbox) All() []notification.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Notification(nil), f.items...)
}

func (f *fakeInbox) ByCategory(c notification.Category) []notification.Notification {
	var out []notification.Notification
	for _, n := range f.All() {
		if n.Category == c {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeInbox) UnreadCount() int {
	n := 0
	for _, it := range f.All() {
		if !it.Read {
			n++
		}
	}
	return n
}

func (f *fakeInbox) Status() inbox.Status {
	return inbox.Status{ID: "ib-1", Connected: true, Unread: f.UnreadCount(), Total: len(f.All())}
}

func (f *fakeInbox) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeInbox) MarkRead(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && !f.items[i].Read {
			f.items[i].Read = true
			return true
		}
	}
	return false
}

func (f *fakeInbox) MarkAllRead() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk++
	n := 0
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T) (*Server, *fakeInbox, *prefs.Store) {
	t.Helper()
	now := time.Now()
	ib := &fakeInbox{items: []notification.Notification{
		{ID: "a", Type: notification.TypeOrderApproved, Category: notification.CategoryPublish, CreatedAt: now},
		{ID: "b", Type: notification.TypeCollabMessage, Category: notification.CategoryCollaboration, CreatedAt: now.Add(-time.Minute)},
		{ID: "c", Type: notification.TypePaymentReceived, Category: notification.CategoryFinance, CreatedAt: now.Add(-2 * time.Minute), Read: true},
	}}
	ps, err := prefs.Open(context.Background(), storage.NewMemory(), eventbus.New(), logx.Nop())
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	return NewServer(ib, ps, logx.Nop()), ib, ps
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: bad json %q", method, path, rec.Body.String())
		}
	}
	return rec.Code, out
}

func dataLen(t *testing.T, body map[string]any) int {
	t.Helper()
	list, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("data is not a list: %#v", body["data"])
	}
	return len(list)
}

func TestListNotifications(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	code, body := doJSON(t, h, http.MethodGet, "/v1/notifications", "")
	if code != http.StatusOK || dataLen(t, body) != 2 {
		t.Fatalf("filtered list: code=%d body=%v", code, body)
	}
	_, body = doJSON(t, h, http.MethodGet, "/v1/notifications?all=1", "")
	if dataLen(t, body) != 3 {
		t.Fatalf("all list: %v", body)
	}
	_, body = doJSON(t, h, http.MethodGet, "/v1/notifications?category=finance", "")
	if dataLen(t, body) != 1 {
		t.Fatalf("finance list: %v", body)
	}
	code, body = doJSON(t, h, http.MethodGet, "/v1/notifications?category=weather", "")
	if code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("unknown category: code=%d body=%v", code, body)
	}
}

func TestListNotificationsEmptyIsArray(t *testing.T) {
	s, ib, _ := newTestServer(t)
	ib.items = nil
	_, body := doJSON(t, s.Handler(), http.MethodGet, "/v1/notifications", "")
	if dataLen(t, body) != 0 {
		t.Fatalf("expected empty array: %v", body)
	}
}

func TestMarkReadAndReadAll(t *testing.T) {
	s, ib, _ := newTestServer(t)
	h := s.Handler()

	_, body := doJSON(t, h, http.MethodGet, "/v1/unread-count", "")
	if body["count"].(float64) != 2 {
		t.Fatalf("unread = %v", body["count"])
	}
	_, body = doJSON(t, h, http.MethodPost, "/v1/notifications/a/read", "")
	if body["changed"] != true || body["count"].(float64) != 1 {
		t.Fatalf("mark read: %v", body)
	}
	_, body = doJSON(t, h, http.MethodPost, "/v1/notifications/a/read", "")
	if body["changed"] != false {
		t.Fatalf("second mark read should be a no-op: %v", body)
	}
	_, body = doJSON(t, h, http.MethodPost, "/v1/notifications/read-all", "")
	if body["changed"].(float64) != 1 || body["count"].(float64) != 0 || ib.bulk != 1 {
		t.Fatalf("read-all: %v bulk=%d", body, ib.bulk)
	}
}

func TestRefreshAndStatus(t *testing.T) {
	s, ib, _ := newTestServer(t)
	h := s.Handler()

	code, _ := doJSON(t, h, http.MethodPost, "/v1/refresh", "")
	if code != http.StatusOK || ib.refreshes != 1 {
		t.Fatalf("refresh: code=%d refreshes=%d", code, ib.refreshes)
	}
	ib.refreshErr = errors.New("upstream down")
	code, body := doJSON(t, h, http.MethodPost, "/v1/refresh", "")
	if code != http.StatusBadGateway || body["error"] != "upstream down" {
		t.Fatalf("refresh failure: code=%d body=%v", code, body)
	}

	_, body = doJSON(t, h, http.MethodGet, "/v1/status", "")
	data := body["data"].(map[string]any)
	if data["connected"] != true || data["total"].(float64) != 3 || body["sound_enabled"] != true {
		t.Fatalf("status: %v", body)
	}
}

func TestPatchPreferences(t *testing.T) {
	s, _, ps := newTestServer(t)
	h := s.Handler()

	code, body := doJSON(t, h, http.MethodPatch, "/v1/preferences", `{"collab_messages":false}`)
	if code != http.StatusOK {
		t.Fatalf("patch: code=%d body=%v", code, body)
	}
	if ps.Get().Enabled(notification.PrefCollabMessages) {
		t.Fatalf("preference not applied")
	}
	code, _ = doJSON(t, h, http.MethodPatch, "/v1/preferences", `{"telepathy":true}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown key: code=%d", code)
	}
	code, _ = doJSON(t, h, http.MethodPatch, "/v1/preferences", `{"collab_messages":"no"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("non-boolean: code=%d", code)
	}
}

func TestSoundToggle(t *testing.T) {
	s, _, ps := newTestServer(t)
	h := s.Handler()

	code, body := doJSON(t, h, http.MethodPut, "/v1/sound", `{"enabled":false}`)
	if code != http.StatusOK || body["enabled"] != false || ps.SoundEnabled() {
		t.Fatalf("sound off: code=%d body=%v", code, body)
	}
	_, body = doJSON(t, h, http.MethodGet, "/v1/sound", "")
	if body["enabled"] != false {
		t.Fatalf("get sound: %v", body)
	}
	code, _ = doJSON(t, h, http.MethodPut, "/v1/sound", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("missing enabled: code=%d", code)
	}
}

func TestClientAgainstServer(t *testing.T) {
	s, _, ps := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	got, err := c.SetPreferences(ctx, map[string]bool{"finance_invoices": false})
	if err != nil {
		t.Fatalf("set prefs: %v", err)
	}
	if got["finance_invoices"] {
		t.Fatalf("returned prefs: %v", got)
	}
	if _, err := c.SetPreferences(ctx, map[string]bool{"bogus": false}); err == nil || !strings.Contains(err.Error(), "unknown preference") {
		t.Fatalf("expected api error, got %v", err)
	}
	if err := c.SetSound(ctx, false); err != nil || ps.SoundEnabled() {
		t.Fatalf("set sound: err=%v enabled=%v", err, ps.SoundEnabled())
	}
	p, err := c.Preferences(ctx)
	if err != nil || p["finance_invoices"] {
		t.Fatalf("prefs: %v %v", p, err)
	}
	if raw, err := c.Status(ctx); err != nil || !strings.Contains(string(raw), `"connected":true`) {
		t.Fatalf("status: %s %v", raw, err)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestHealthAndPprof(t *testing.T) {
	s, _, _ := newTestServer(t)
	code, body := doJSON(t, s.Handler(), http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", code, body)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/heap", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off by default, got %d", rec.Code)
	}

	ps, _ := prefs.Open(context.Background(), storage.NewMemory(), eventbus.New(), logx.Nop())
	withPprof := NewServer(&fakeInbox{}, ps, logx.Nop(), WithPprof())
	rec = httptest.NewRecorder()
	withPprof.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof goroutine: %d", rec.Code)
	}
}
