package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeServers are asked for their Date header by TimeSync.
var DefaultTimeServers = []string{
	"https://www.google.com",
	"https://www.cloudflare.com",
	"https://www.amazon.com",
}

// TimeSync is a clock corrected by the average offset between the local
// clock and the Date headers of a few well-synchronized web servers. It
// satisfies settle.Clock.
type TimeSync struct {
	servers []string
	client  *resty.Client
	now     func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
}

func NewTimeSync(servers ...string) *TimeSync {
	if len(servers) == 0 {
		servers = DefaultTimeServers
	}
	return &TimeSync{
		servers: servers,
		client:  resty.New().SetTimeout(5 * time.Second),
		now:     time.Now,
	}
}

// Sync measures the offset against every server and keeps the average of
// the ones that answered.
func (ts *TimeSync) Sync(ctx context.Context) error {
	var total time.Duration
	ok := 0
	for _, server := range ts.servers {
		offset, err := ts.offsetFrom(ctx, server)
		if err != nil {
			slog.Debug("time sync failed", "server", server, "err", err)
			continue
		}
		slog.Debug("time offset", "server", server, "offset", offset)
		total += offset
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("failed to sync time with any server")
	}

	ts.mu.Lock()
	ts.offset = total / time.Duration(ok)
	ts.lastSync = ts.now()
	ts.synced = true
	ts.mu.Unlock()
	return nil
}

func (ts *TimeSync) offsetFrom(ctx context.Context, url string) (time.Duration, error) {
	before := ts.now()
	resp, err := ts.client.R().SetContext(ctx).Head(url)
	if err != nil {
		return 0, err
	}
	after := ts.now()

	date := resp.Header().Get("Date")
	if date == "" {
		return 0, fmt.Errorf("no Date header in response")
	}
	serverTime, err := http.ParseTime(date)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// Half the round trip is spent before the server stamps the response.
	local := before.Add(after.Sub(before) / 2)
	return serverTime.Sub(local), nil
}

// Now is the local time adjusted by the measured offset.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.now().Add(ts.offset)
}

func (ts *TimeSync) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

func (ts *TimeSync) IsSynced() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.synced
}

// ShouldResync reports whether the last sync is over an hour old.
func (ts *TimeSync) ShouldResync() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return !ts.synced || ts.now().Sub(ts.lastSync) > time.Hour
}
