package progress

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"chunkup/pkg/transfer"
)

// Percent tracks a byte count against a total and reports whole
// percentages, each value at most once and never decreasing.
type Percent struct {
	total int64
	done  int64
	last  int64
}

// NewPercent creates a tracker for total bytes
func NewPercent(total int64) *Percent {
	return &Percent{total: total}
}

// Add records n more bytes. It returns the current percentage and
// whether it differs from the last reported one.
func (p *Percent) Add(n int64) (int64, bool) {
	p.done += n
	if p.total <= 0 {
		return 0, false
	}
	pct := Ceil(p.done, p.total)
	if pct == p.last {
		return pct, false
	}
	p.last = pct
	return pct, true
}

// Done returns the bytes recorded so far
func (p *Percent) Done() int64 { return p.done }

// Ceil returns ceil(done / total * 100), clamped to [0, 100]
func Ceil(done, total int64) int64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return (done*100 + total - 1) / total
}

// Reader counts bytes read through it
type Reader struct {
	R      io.Reader
	OnRead func(n int64)
}

// Read implements io.Reader and reports bytes read
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.R.Read(p)
	if n > 0 && pr.OnRead != nil {
		pr.OnRead(int64(n))
	}
	return
}

// Describe renders a progress message for display
func Describe(m transfer.Message) string {
	switch m.Phase {
	case transfer.PhaseReading:
		return fmt.Sprintf("Reading %d%%", Ceil(m.Loaded, m.Total))
	case transfer.PhaseCompressing:
		return fmt.Sprintf("Compressing %d/%d", m.Loaded, m.Total)
	case transfer.PhaseUploading:
		return fmt.Sprintf("Uploading %d%%", m.Loaded)
	case transfer.PhaseDecompressing:
		return fmt.Sprintf("Decompressing %d%%", m.Loaded)
	default:
		return "Processing"
	}
}

// Reporter logs progress messages with throughput. Reading progress is
// reported as bytes processed; other phases are logged as described. At
// most one line per interval is logged for each phase, except the final
// value of a phase.
type Reporter struct {
	Logger   *slog.Logger
	Interval time.Duration

	mu      sync.Mutex
	started map[transfer.Phase]time.Time
	logged  map[transfer.Phase]time.Time
}

// NewReporter creates a reporter logging to logger
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		Logger:   logger,
		Interval: time.Second,
		started:  make(map[transfer.Phase]time.Time),
		logged:   make(map[transfer.Phase]time.Time),
	}
}

// Emit implements transfer.Emitter
func (r *Reporter) Emit(m transfer.Message) {
	if m.Kind != transfer.KindProgress {
		return
	}

	r.mu.Lock()
	now := time.Now()
	start, ok := r.started[m.Phase]
	if !ok {
		start = now
		r.started[m.Phase] = now
	}
	final := m.Loaded >= m.Total
	if last, ok := r.logged[m.Phase]; ok && !final && now.Sub(last) < r.Interval {
		r.mu.Unlock()
		return
	}
	r.logged[m.Phase] = now
	r.mu.Unlock()

	if m.Phase != transfer.PhaseReading {
		r.Logger.Info(Describe(m))
		return
	}

	elapsed := now.Sub(start).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	rate := uint64(float64(m.Loaded) / elapsed)
	r.Logger.Info(fmt.Sprintf("Processed %s of %s (%d%%) | Rate: %s/s",
		humanize.IBytes(uint64(m.Loaded)), humanize.IBytes(uint64(m.Total)),
		Ceil(m.Loaded, m.Total), humanize.IBytes(rate)))
}
