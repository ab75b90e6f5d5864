// Package loadtest measures how quickly a plan edit made on one device
// reaches every other device subscribed to the same document.
//
// Run opens one remote.Store per simulated device, subscribes each of them,
// then writes a sequence of documents round-robin from the devices. Each
// write waits until every other device has received it before the next one
// is made, so the reported propagation latency is end to end for a single
// edit and never hidden by coalescing.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
)

// ErrTimeout is returned when an edit does not reach every device in time.
var ErrTimeout = errors.New("edit did not reach every device in time")

// DeviceFactory opens the store a simulated device talks through.
type DeviceFactory func(ctx context.Context, device int) (remote.Store, error)

// Config controls a run.
type Config struct {
	// Devices is the number of simulated devices (default 10).
	Devices int

	// Edits is the number of documents written (default 50).
	Edits int

	// Timeout bounds how long one edit may take to reach every device
	// (default 5s).
	Timeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Devices: 10,
		Edits:   50,
		Timeout: 5 * time.Second,
	}
}

// LatencyStats summarizes a set of measured durations.
type LatencyStats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
}

// Report is the outcome of a run.
type Report struct {
	Devices int
	Edits   int

	// Put measures the writer's Put call.
	Put LatencyStats

	// Propagation measures Put start to receipt on another device.
	Propagation LatencyStats

	// Missed counts edits that timed out on at least one device.
	Missed int
}

// tracker matches received documents to the edits that produced them.
type tracker struct {
	mu      sync.Mutex
	sentAt  map[int64]time.Time
	writer  map[int64]int
	seen    map[[2]int64]bool
	got     map[int64]int
	expect  map[int64]int
	done    map[int64]chan struct{}
	devices int
	samples []time.Duration
}

func newTracker(devices int) *tracker {
	return &tracker{
		sentAt:  make(map[int64]time.Time),
		writer:  make(map[int64]int),
		seen:    make(map[[2]int64]bool),
		got:     make(map[int64]int),
		expect:  make(map[int64]int),
		done:    make(map[int64]chan struct{}),
		devices: devices,
	}
}

// start registers an edit before it is written and returns a channel closed
// once every other device has it. A negative device means no device wrote
// it, so all of them must receive it.
func (t *tracker) start(stamp int64, device int) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentAt[stamp] = time.Now()
	t.writer[stamp] = device
	t.expect[stamp] = t.devices
	if device >= 0 {
		t.expect[stamp]--
	}
	ch := make(chan struct{})
	t.done[stamp] = ch
	if t.expect[stamp] == 0 {
		close(ch)
	}
	return ch
}

func (t *tracker) receive(device int, d model.AppData) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	stamp := d.LastUpdated
	sent, ok := t.sentAt[stamp]
	if !ok || t.writer[stamp] == device {
		return
	}
	key := [2]int64{int64(device), stamp}
	if t.seen[key] {
		return
	}
	t.seen[key] = true
	t.samples = append(t.samples, now.Sub(sent))
	t.got[stamp]++
	if t.got[stamp] == t.expect[stamp] {
		close(t.done[stamp])
	}
}

func (t *tracker) reset() {
	t.mu.Lock()
	t.samples = nil
	t.mu.Unlock()
}

func (t *tracker) durations() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.samples...)
}

// Run simulates the devices against the document id.
func Run(ctx context.Context, id string, open DeviceFactory, config *Config) (*Report, error) {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	devices, edits, timeout := config.Devices, config.Edits, config.Timeout
	if devices <= 0 {
		devices = def.Devices
	}
	if edits <= 0 {
		edits = def.Edits
	}
	if timeout <= 0 {
		timeout = def.Timeout
	}
	logger := logging.OrNop(config.Logger).Named("loadtest")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := newTracker(devices)
	stores := make([]remote.Store, devices)

	g, gctx := errgroup.WithContext(runCtx)
	for i := range stores {
		g.Go(func() error {
			s, err := open(gctx, i)
			if err != nil {
				return fmt.Errorf("device %d: failed to open store: %w", i, err)
			}
			stores[i] = s
			if _, err := s.Subscribe(runCtx, id, func(d model.AppData) { tr.receive(i, d) }); err != nil {
				return fmt.Errorf("device %d: failed to subscribe: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(stores, logger)
		return nil, err
	}
	defer closeAll(stores, logger)

	base := time.Now().UnixMilli()
	today := model.FormatDate(time.Now())

	// A subscription may still be settling on the server when Subscribe
	// returns. Wait until a first document reaches every device.
	warmup := model.NewAppData(today)
	warmup.LastUpdated = base
	ready := tr.start(base, -1)
	if err := stores[0].Put(ctx, id, warmup); err != nil {
		return nil, fmt.Errorf("failed to write first document: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(timeout):
		return nil, fmt.Errorf("devices did not connect: %w", ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tr.reset()

	report := &Report{Devices: devices, Edits: edits}
	puts := make([]time.Duration, 0, edits)

	for k := 0; k < edits; k++ {
		device := k % devices
		stamp := base + int64(k) + 1

		doc := model.NewAppData(today)
		doc.Notes[today] = fmt.Sprintf("edit %d from device %d", k, device)
		doc.LastUpdated = stamp

		reached := tr.start(stamp, device)
		began := time.Now()
		if err := stores[device].Put(ctx, id, doc); err != nil {
			return report, fmt.Errorf("device %d: edit %d failed: %w", device, k, err)
		}
		puts = append(puts, time.Since(began))

		select {
		case <-reached:
		case <-time.After(timeout):
			report.Missed++
			logger.Warn("edit timed out", zap.Int("edit", k), zap.Int("device", device))
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}

	report.Put = computeLatencyStats(puts)
	report.Propagation = computeLatencyStats(tr.durations())
	if report.Missed > 0 {
		return report, fmt.Errorf("%w: %d of %d edits", ErrTimeout, report.Missed, edits)
	}
	return report, nil
}

func closeAll(stores []remote.Store, logger *zap.Logger) {
	for i, s := range stores {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Debug("failed to close device store", zap.Int("device", i), zap.Error(err))
		}
	}
}

// computeLatencyStats sorts durations and reads off the percentiles.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(sorted)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Samples: len(sorted),
	}
}

// Print writes the report in a fixed layout.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Devices: %d  Edits: %d  Missed: %d\n", r.Devices, r.Edits, r.Missed)
	for _, row := range []struct {
		name string
		s    LatencyStats
	}{{"Put", r.Put}, {"Propagation", r.Propagation}} {
		fmt.Fprintf(w, "%s (%d samples):\n", row.name, row.s.Samples)
		fmt.Fprintf(w, "  Min:   %v\n", row.s.Min)
		fmt.Fprintf(w, "  P50:   %v\n", row.s.P50)
		fmt.Fprintf(w, "  Mean:  %v\n", row.s.Mean)
		fmt.Fprintf(w, "  P95:   %v\n", row.s.P95)
		fmt.Fprintf(w, "  P99:   %v\n", row.s.P99)
		fmt.Fprintf(w, "  Max:   %v\n", row.s.Max)
	}
}
