package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/config"
)

type fakeApp struct {
	sessionCount      int
	conversationCount int
	connectedRelays   int
	startTime         time.Time
}

func (f *fakeApp) ActiveSessionCount() int      { return f.sessionCount }
func (f *fakeApp) ActiveConversationCount() int { return f.conversationCount }
func (f *fakeApp) ConnectedRelayCount() int     { return f.connectedRelays }
func (f *fakeApp) StartTime() time.Time         { return f.startTime }

func testCfg(relays []string, maxSessions int) *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{MaxSessions: maxSessions},
		Nostr:     config.NostrConfig{Relays: relays},
	}
}

func TestCheckHealthHealthyWhenFullyConnected(t *testing.T) {
	app := &fakeApp{connectedRelays: 2, startTime: time.Now().Add(-time.Minute)}
	hc := NewHealthChecker(app, testCfg([]string{"wss://a", "wss://b"}, 100), zap.NewNop(), "test")

	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
}

func TestCheckHealthUnhealthyWithNoConfiguredRelays(t *testing.T) {
	app := &fakeApp{startTime: time.Now()}
	hc := NewHealthChecker(app, testCfg(nil, 100), zap.NewNop(), "test")

	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy with zero configured relays, got %s", resp.Status)
	}
}

func TestCheckHealthDegradedBelowHalfRelaysConnected(t *testing.T) {
	app := &fakeApp{connectedRelays: 1, startTime: time.Now()}
	hc := NewHealthChecker(app, testCfg([]string{"wss://a", "wss://b", "wss://c"}, 100), zap.NewNop(), "test")

	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusDegraded {
		t.Fatalf("expected degraded with 1/3 relays connected, got %s", resp.Status)
	}
}

func TestCheckHealthUnhealthyAtCriticalSessionUtilization(t *testing.T) {
	app := &fakeApp{connectedRelays: 1, sessionCount: 96, startTime: time.Now()}
	hc := NewHealthChecker(app, testCfg([]string{"wss://a"}, 100), zap.NewNop(), "test")

	resp := hc.CheckHealth(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy at 96%% session utilization, got %s", resp.Status)
	}
}

func TestHandleHealthWritesJSONWithOKStatus(t *testing.T) {
	app := &fakeApp{connectedRelays: 1, startTime: time.Now()}
	hc := NewHealthChecker(app, testCfg([]string{"wss://a"}, 100), zap.NewNop(), "test")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	hc.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %s", ct)
	}
}

func TestHandleHealthRejectsNonGet(t *testing.T) {
	app := &fakeApp{startTime: time.Now()}
	hc := NewHealthChecker(app, testCfg([]string{"wss://a"}, 100), zap.NewNop(), "test")

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()

	hc.HandleHealth(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
