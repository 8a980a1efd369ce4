package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/observability"
	"github.com/quakewatch/quake-alert-service/internal/scheduler"
)

const bulletin = `<html><pre>
Tarih      Saat      Enlem(N)  Boylam(E) Derinlik(km)  MD   ML   Mw    Yer                                               Çözüm Niteliği
---------- --------  --------  -------   ----------    ------------    --------------
2025.01.10 09:05:56  36.9173   27.6803        8.9      -.-  1.4  -.-   GOKOVA KORFEZI (EGE DENIZI)                       Ýlksel
</pre></html>`

type stubFetcher struct {
	mu     sync.Mutex
	body   string
	err    error
	calls  int
	panics bool
}

func (f *stubFetcher) Fetch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("fetcher exploded")
	}
	return f.body, f.err
}

func (f *stubFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubInserter struct {
	mu       sync.Mutex
	inserted [][]domain.Earthquake
	pass     bool // when true, report the whole batch as new
}

func (s *stubInserter) InsertEvents(_ context.Context, events []domain.Earthquake) ([]domain.Earthquake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, events)
	if s.pass {
		return events, nil
	}
	return nil, nil
}

type stubDispatcher struct {
	mu      sync.Mutex
	batches [][]domain.Earthquake
}

func (d *stubDispatcher) Dispatch(_ context.Context, events []domain.Earthquake) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, events)
}

func (d *stubDispatcher) dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func newScheduler(f *stubFetcher, ins *stubInserter, disp *stubDispatcher, clock clockwork.Clock, debugDir string) *scheduler.Scheduler {
	return scheduler.New(f, ins, disp, clock, time.Hour, debugDir,
		slog.New(slog.DiscardHandler), observability.NewMetricsForTesting())
}

func runUntilCycles(t *testing.T, s *scheduler.Scheduler, clock *clockwork.FakeClock, want uint64) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return s.Status().Cycles >= want
	}, 2*time.Second, 5*time.Millisecond)
	return cancel
}

func TestScheduler_CycleStoresAndDispatches(t *testing.T) {
	f := &stubFetcher{body: bulletin}
	ins := &stubInserter{pass: true}
	disp := &stubDispatcher{}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, ins, disp, clock, "")

	runUntilCycles(t, s, clock, 1)

	assert.Equal(t, 1, f.fetchCalls())
	assert.Equal(t, 1, disp.dispatched())
	assert.NoError(t, s.CheckReadiness(context.Background()))

	st := s.Status()
	assert.Equal(t, "success", st.LastOutcome)
	assert.Equal(t, 1, st.LastInserted)
	assert.True(t, st.Running)
}

func TestScheduler_SleepsBetweenCycles(t *testing.T) {
	f := &stubFetcher{body: bulletin}
	ins := &stubInserter{}
	disp := &stubDispatcher{}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, ins, disp, clock, "")

	runUntilCycles(t, s, clock, 1)
	assert.Equal(t, 1, f.fetchCalls())

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		return s.Status().Cycles >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.fetchCalls())
}

func TestScheduler_AllDuplicatesSkipsDispatch(t *testing.T) {
	f := &stubFetcher{body: bulletin}
	ins := &stubInserter{pass: false}
	disp := &stubDispatcher{}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, ins, disp, clock, "")

	runUntilCycles(t, s, clock, 1)

	assert.Zero(t, disp.dispatched())
	assert.Equal(t, "success", s.Status().LastOutcome)
}

func TestScheduler_FetchErrorKeepsLoopAlive(t *testing.T) {
	f := &stubFetcher{err: errors.New("upstream down")}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, &stubInserter{}, &stubDispatcher{}, clock, "")

	runUntilCycles(t, s, clock, 1)

	st := s.Status()
	assert.Equal(t, "error", st.LastOutcome)
	assert.Contains(t, st.LastError, "upstream down")
	assert.Error(t, s.CheckReadiness(context.Background()))

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		return s.Status().Cycles >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_PanicContained(t *testing.T) {
	f := &stubFetcher{panics: true}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, &stubInserter{}, &stubDispatcher{}, clock, "")

	runUntilCycles(t, s, clock, 1)
	assert.Contains(t, s.Status().LastError, "cycle panicked")
}

func TestScheduler_RetainsRawOnExtractionError(t *testing.T) {
	dir := t.TempDir()
	f := &stubFetcher{body: "<html><body>maintenance page</body></html>"}
	clock := clockwork.NewFakeClock()
	s := newScheduler(f, &stubInserter{}, &stubDispatcher{}, clock, dir)

	runUntilCycles(t, s, clock, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "koeri-response-")
	assert.Equal(t, ".html", filepath.Ext(entries[0].Name()))
}
