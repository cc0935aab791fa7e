package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
)

// TimeSync estimates how far the local clock is from the target site's clock, using
// the Date header of HEAD requests.
type TimeSync struct {
	client  *http.Client
	servers []string
	log     *log.Logger
	now     func() time.Time

	offset time.Duration
	synced bool
}

// NewTimeSync syncs against the origin of targetURL first, then well-known servers.
func NewTimeSync(targetURL string, logger *log.Logger) *TimeSync {
	servers := []string{}
	if u, err := url.Parse(targetURL); err == nil && u.Scheme != "" && u.Host != "" {
		servers = append(servers, u.Scheme+"://"+u.Host)
	}
	servers = append(servers, "https://www.google.com", "https://www.cloudflare.com")

	return &TimeSync{
		client:  &http.Client{Timeout: 5 * time.Second},
		servers: servers,
		log:     logger,
		now:     time.Now,
	}
}

// Sync averages the offsets of every server that answered.
func (ts *TimeSync) Sync(ctx context.Context) error {
	var total time.Duration
	ok := 0

	for _, server := range ts.servers {
		offset, err := ts.offsetFrom(ctx, server)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ts.log.Debug("time sync failed", "server", server, "err", err)
			continue
		}
		ts.log.Debug("time offset", "server", server, "offset", offset)
		total += offset
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("failed to sync time with any of %d servers", len(ts.servers))
	}

	ts.offset = total / time.Duration(ok)
	ts.synced = true
	return nil
}

func (ts *TimeSync) offsetFrom(ctx context.Context, server string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, server, nil)
	if err != nil {
		return 0, err
	}

	before := ts.now()
	resp, err := ts.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	after := ts.now()

	date := resp.Header.Get("Date")
	if date == "" {
		return 0, fmt.Errorf("no Date header in response")
	}
	serverTime, err := http.ParseTime(date)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// Assume the server stamped the response halfway through the round trip.
	local := before.Add(after.Sub(before) / 2)
	return serverTime.Sub(local), nil
}

// Now is the local time corrected by the measured offset.
func (ts *TimeSync) Now() time.Time {
	if !ts.synced {
		return ts.now()
	}
	return ts.now().Add(ts.offset)
}

func (ts *TimeSync) Offset() time.Duration { return ts.offset }

func (ts *TimeSync) IsSynced() bool { return ts.synced }
