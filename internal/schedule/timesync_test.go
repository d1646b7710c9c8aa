package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func dateServer(t *testing.T, skew time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().Add(skew).UTC().Format(http.TimeFormat))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTimeSync(t *testing.T) {
	ahead := dateServer(t, 2*time.Minute)
	aheadMore := dateServer(t, 4*time.Minute)
	ts := NewTimeSync(ahead.URL, aheadMore.URL)

	if ts.IsSynced() {
		t.Error("TimeSync should not be synced initially")
	}
	if !ts.ShouldResync() {
		t.Error("TimeSync should want a sync before the first one")
	}

	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Failed to sync time: %v", err)
	}
	if !ts.IsSynced() {
		t.Error("TimeSync should be synced after calling Sync()")
	}

	// Date headers have one-second resolution.
	offset := ts.Offset()
	if offset < 2*time.Minute || offset > 4*time.Minute {
		t.Errorf("Expected offset near 3m, got %v", offset)
	}

	diff := ts.Now().Sub(time.Now())
	if diff < 2*time.Minute || diff > 4*time.Minute {
		t.Errorf("Synced time is off by %v", diff)
	}
	if ts.ShouldResync() {
		t.Error("TimeSync should not want a resync right after syncing")
	}
}

func TestTimeSyncIgnoresBadServers(t *testing.T) {
	noDate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil
	}))
	defer noDate.Close()
	good := dateServer(t, 0)

	ts := NewTimeSync(noDate.URL, good.URL)
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if off := ts.Offset(); off > 2*time.Second || off < -2*time.Second {
		t.Errorf("Expected a near-zero offset, got %v", off)
	}
}

func TestTimeSyncAllServersFail(t *testing.T) {
	ts := NewTimeSync("http://127.0.0.1:1")
	if err := ts.Sync(context.Background()); err == nil {
		t.Error("Expected an error when no server answers")
	}
	if ts.IsSynced() {
		t.Error("TimeSync should stay unsynced")
	}
}
