package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tndd/datadoggo-v3-alpaca/internal/jobrun"
	"github.com/tndd/datadoggo-v3-alpaca/internal/memstore"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/ratelimit"
)

var testNow = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

type response struct {
	body string
	err  error
}

// fakeFetcher serves scripted responses keyed by unit and page token. The
// last response for a key repeats once the script runs out.
type fakeFetcher struct {
	mu      sync.Mutex
	scripts map[string][]response
	calls   []alpaca.Request
	onFetch func(req alpaca.Request)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{scripts: make(map[string][]response)}
}

func requestKey(req alpaca.Request) string {
	unit := req.Query.Get("symbols")
	if unit == "" {
		unit = req.Query.Get("underlying_symbols")
	}
	if unit == "" {
		unit = req.Query.Get("asset_class")
	}
	return unit + "|" + req.PageToken()
}

func (f *fakeFetcher) on(unit, token string, rs ...response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[unit+"|"+token] = append(f.scripts[unit+"|"+token], rs...)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req alpaca.Request) ([]byte, error) {
	if f.onFetch != nil {
		f.onFetch(req)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	key := requestKey(req)
	script := f.scripts[key]
	if len(script) == 0 {
		f.mu.Unlock()
		return nil, &alpaca.StatusError{StatusCode: 404, Body: "no script for " + key}
	}
	r := script[0]
	if len(script) > 1 {
		f.scripts[key] = script[1:]
	}
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeFetcher) callsFor(unit string) []alpaca.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alpaca.Request
	for _, c := range f.calls {
		if strings.HasPrefix(requestKey(c), unit+"|") {
			out = append(out, c)
		}
	}
	return out
}

func served(body string) response { return response{body: body} }
func fail(err error) response     { return response{err: err} }
func unavailable() response       { return fail(&alpaca.StatusError{StatusCode: 503, Body: "busy"}) }
func dayAt(i int) time.Time       { return time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC).AddDate(0, 0, i) }
func quote(s string) string       { return fmt.Sprintf("%q", s) }
func nextToken(t string) string {
	if t == "" {
		return "null"
	}
	return quote(t)
}

// barJSON renders one provider bar; close varies so revisions are visible.
func barJSON(day int, close float64) string {
	return fmt.Sprintf(`{"t":%q,"o":1,"h":2,"l":0.5,"c":%v,"v":100,"n":10,"vw":1.2}`,
		dayAt(day).Format(time.RFC3339), close)
}

// barsPage renders n consecutive daily bars for symbol starting at day.
func barsPage(symbol string, day, n int, next string) string {
	bars := make([]string, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, barJSON(day+i, 1.5))
	}
	return barsPageOf(symbol, next, bars...)
}

func barsPageOf(symbol, next string, bars ...string) string {
	return fmt.Sprintf(`{"bars":{%q:[%s]},"next_page_token":%s}`, symbol, strings.Join(bars, ","), nextToken(next))
}

type harness struct {
	clock   clockwork.FakeClock
	fetcher *fakeFetcher
	store   *memstore.Store
	tracker *jobrun.Tracker
	runner  *Runner
}

type harnessOption func(*Settings, *Dependencies)

func withSettings(fn func(*Settings)) harnessOption {
	return func(s *Settings, _ *Dependencies) { fn(s) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	gov, err := ratelimit.New(ratelimit.Config{Limit: 10000, Window: time.Minute}, clock)
	require.NoError(t, err)
	store := memstore.New()
	tracker := jobrun.NewTracker([]jobrun.Sink{store}, jobrun.WithClock(clock))
	t.Cleanup(tracker.Close)

	h := &harness{clock: clock, fetcher: newFakeFetcher(), store: store, tracker: tracker}
	settings := Settings{Workers: 4, MaxAttempts: 3, BaseBackoff: -1, FetchTimeout: 5 * time.Second}
	deps := Dependencies{
		Fetcher:  h.fetcher,
		Governor: gov,
		Entities: store,
		Cursors:  store,
		Tracker:  tracker,
		Clock:    clock,
	}
	for _, opt := range opts {
		opt(&settings, &deps)
	}
	h.runner, err = NewRunner(settings, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) cursor(t *testing.T, key model.CursorKey) *model.SyncCursor {
	t.Helper()
	c, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	return c
}

func stockJob(symbols ...string) Job {
	return Job{
		Kind:      model.JobStockBars,
		Symbols:   symbols,
		Timeframe: "1Day",
		Start:     dayAt(0),
		End:       dayAt(30),
	}
}

func stockCursorKey(symbol string) model.CursorKey {
	return model.CursorKey{AssetClass: model.ClassStock, Symbol: symbol, Timeframe: "1Day", JobKind: model.JobStockBars}
}
