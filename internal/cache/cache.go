package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"groupmecal/internal/groupme"
	"groupmecal/internal/ics"
	appLog "groupmecal/internal/log"
	"groupmecal/internal/metrics"
)

// DefaultDisplayName is used until GroupMe reports a group name.
const DefaultDisplayName = "GroupMe Calendar"

// flightKey is the single cache key: one process serves one group.
const flightKey = "feed"

// ErrUpstream wraps every failure to obtain events from GroupMe.
var ErrUpstream = errors.New("upstream unavailable")

// NeverRefreshed is the initial RefreshedAt; old enough that the first
// request always rebuilds.
var NeverRefreshed = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Fetcher is the upstream dependency of the Controller.
// *groupme.Client satisfies it.
type Fetcher interface {
	FetchEvents(ctx context.Context, accessToken, groupID string) (*groupme.Result, error)
}

// State is the cached output of the last successful rebuild. It is
// replaced as a whole; Document always matches RefreshedAt.
type State struct {
	Document    string
	RefreshedAt time.Time
	DisplayName string
}

// Options configures a Controller.
type Options struct {
	AccessToken string
	GroupID     string

	// Interval is the freshness window. Zero means every call rebuilds.
	Interval time.Duration

	// Timezone is emitted as X-WR-TIMEZONE.
	Timezone string

	// StaticName, when set, is the display name regardless of what
	// GroupMe reports.
	StaticName string

	// FetchTimeout bounds one rebuild's upstream calls. Zero leaves it to
	// the HTTP client.
	FetchTimeout time.Duration
}

// Controller decides between serving the cached feed and rebuilding it.
type Controller struct {
	opts    Options
	fetcher Fetcher
	builder *ics.Builder
	now     func() time.Time

	mu    sync.RWMutex
	state State

	flight singleflight.Group
}

// NewController returns a Controller in the stale state.
func NewController(opts Options, fetcher Fetcher, builder *ics.Builder) *Controller {
	name := opts.StaticName
	if name == "" {
		name = DefaultDisplayName
	}
	return &Controller{
		opts:    opts,
		fetcher: fetcher,
		builder: builder,
		now:     time.Now,
		state: State{
			RefreshedAt: NeverRefreshed,
			DisplayName: name,
		},
	}
}

// WithClock replaces the controller's clock. Intended for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DisplayName returns the calendar name without the "GroupMe: " prefix.
func (c *Controller) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.DisplayName
}

// Timezone returns the configured feed timezone.
func (c *Controller) Timezone() string {
	return c.opts.Timezone
}

// Feed returns the serialized calendar, rebuilding it when stale.
// Concurrent stale callers share a single rebuild. On failure the cached
// state is left untouched so the next call retries.
func (c *Controller) Feed(ctx context.Context) (string, error) {
	if doc, remaining, ok := c.fresh(); ok {
		metrics.CacheRequestsTotal.WithLabelValues(metrics.StateFresh).Inc()
		appLog.Debug("cache hit", "time_remaining", remaining.Round(time.Second).String())
		return doc, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues(metrics.StateStale).Inc()
	appLog.Info("cache miss")

	v, err, shared := c.flight.Do(flightKey, func() (any, error) {
		return c.rebuild(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		appLog.Debug("joined in-flight rebuild")
	}
	return v.(string), nil
}

// BuildError renders the degraded-mode calendar for errText.
func (c *Controller) BuildError(errText string) string {
	return c.builder.BuildError(errText, c.DisplayName())
}

// fresh reports whether the cached document may be served, and for how
// much longer.
func (c *Controller) fresh() (string, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.Document == "" || c.opts.Interval == 0 {
		return "", 0, false
	}
	age := c.now().Sub(c.state.RefreshedAt)
	if age > c.opts.Interval {
		return "", 0, false
	}
	return c.state.Document, c.opts.Interval - age, true
}

func (c *Controller) rebuild(ctx context.Context) (string, error) {
	// Another flight may have finished between our freshness check and
	// this one starting.
	if doc, _, ok := c.fresh(); ok {
		return doc, nil
	}

	started := time.Now()
	defer func() {
		metrics.RebuildDuration.Observe(time.Since(started).Seconds())
	}()

	// Other callers may be waiting on this flight, so one caller going
	// away must not abort it.
	fetchCtx := context.WithoutCancel(ctx)
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.opts.FetchTimeout)
		defer cancel()
	}

	res, err := c.fetcher.FetchEvents(fetchCtx, c.opts.AccessToken, c.opts.GroupID)
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues(metrics.ResultFailure).Inc()
		appLog.Error("failed to load GroupMe events", err, "group_id", c.opts.GroupID)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	metrics.UpstreamFetchTotal.WithLabelValues(metrics.ResultSuccess).Inc()

	name := c.resolveName(res.GroupName)
	doc, stats := c.builder.Build(res.Payload, ics.Meta{
		DisplayName: name,
		Timezone:    c.opts.Timezone,
	})
	metrics.EventsSkippedTotal.WithLabelValues(metrics.ReasonDeleted).Add(float64(stats.Deleted))
	metrics.EventsSkippedTotal.WithLabelValues(metrics.ReasonInvalid).Add(float64(stats.Skipped))

	c.mu.Lock()
	c.state = State{
		Document:    doc,
		RefreshedAt: c.now(),
		DisplayName: name,
	}
	c.mu.Unlock()

	appLog.Info("feed rebuilt",
		"events", stats.Included,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"display_name", name,
	)
	return doc, nil
}

// resolveName picks the display name: static override, then the freshly
// fetched group name, then whatever was known before.
func (c *Controller) resolveName(fetched string) string {
	if c.opts.StaticName != "" {
		return c.opts.StaticName
	}
	if fetched != "" {
		return fetched
	}
	return c.DisplayName()
}
