package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// SampleSink persists archived samples in batches
type SampleSink interface {
	InsertBatch(samples []Sample) error
}

// ArchiveWriterConfig sizes the writer's queue and batches
type ArchiveWriterConfig struct {
	BatchSize   int           // samples per insert (default 50)
	FlushPeriod time.Duration // max age of a partial batch (default 30s)
	QueueSize   int           // pending samples before Write drops (default 500)
}

func (c ArchiveWriterConfig) withDefaults() ArchiveWriterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 500
	}
	return c
}

// ArchiveWriterStats reports what the writer did since it started
type ArchiveWriterStats struct {
	Archived   int64     `json:"archived"`
	Batches    int64     `json:"batches"`
	Failures   int64     `json:"failures"`
	Duplicates int64     `json:"duplicates"`
	Dropped    int64     `json:"dropped"`
	Queued     int       `json:"queued"`
	LastFlush  time.Time `json:"last_flush,omitempty"`
}

// ArchiveWriter archives live readings in the background.
//
// Every refresh cycle re-reads each channel's newest entry, so the same
// observation arrives again until the device posts a new one. Write queues a
// sample only when its observation time is newer than the last one queued for
// that sensor, keeping repeated cycles from weighting a day's average.
type ArchiveWriter struct {
	sink   SampleSink
	cfg    ArchiveWriterConfig
	logger zerolog.Logger

	queue     chan Sample
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	newest map[models.SensorID]time.Time

	archived   atomic.Int64
	batches    atomic.Int64
	failures   atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
	lastFlush  atomic.Int64 // unix nanoseconds
}

// NewArchiveWriter starts a writer that inserts into sink.
func NewArchiveWriter(sink SampleSink, cfg ArchiveWriterConfig, logger zerolog.Logger) *ArchiveWriter {
	cfg = cfg.withDefaults()
	w := &ArchiveWriter{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Sample, cfg.QueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		newest: make(map[models.SensorID]time.Time),
	}
	go w.loop()

	logger.Info().
		Int("batch_size", cfg.BatchSize).
		Dur("flush_period", cfg.FlushPeriod).
		Int("queue_size", cfg.QueueSize).
		Msg("Archive writer started")
	return w
}

// Write queues reading for archiving. It reports false when the reading has
// no usable value or time, repeats an already queued observation, the queue
// is full, or the writer is closed.
func (w *ArchiveWriter) Write(id models.SensorID, reading models.Reading) bool {
	if reading.ObservedAt.IsZero() || !reading.IsValid() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	if last, ok := w.newest[id]; ok && !reading.ObservedAt.After(last) {
		w.duplicates.Add(1)
		return false
	}

	select {
	case w.queue <- Sample{Sensor: id, Value: reading.Value, ObservedAt: reading.ObservedAt}:
		w.newest[id] = reading.ObservedAt
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn().Str("sensor", id.String()).Msg("Archive queue full, dropping sample")
		return false
	}
}

func (w *ArchiveWriter) loop() {
	defer close(w.exited)

	ticker := time.NewTicker(w.cfg.FlushPeriod)
	defer ticker.Stop()

	pending := make([]Sample, 0, w.cfg.BatchSize)
	for {
		select {
		case s := <-w.queue:
			pending = append(pending, s)
			if len(pending) >= w.cfg.BatchSize {
				pending = w.flush(pending)
			}
		case <-ticker.C:
			pending = w.flush(pending)
		case <-w.done:
			// Write refuses new samples once done is closed, so the queue only shrinks
			for {
				select {
				case s := <-w.queue:
					pending = append(pending, s)
					if len(pending) >= w.cfg.BatchSize {
						pending = w.flush(pending)
					}
				default:
					w.flush(pending)
					w.logger.Info().Int64("archived", w.archived.Load()).Msg("Archive writer stopped")
					return
				}
			}
		}
	}
}

// flush inserts pending and hands the slice back emptied. A failed batch is
// logged and discarded.
func (w *ArchiveWriter) flush(pending []Sample) []Sample {
	if len(pending) == 0 {
		return pending
	}

	if err := w.sink.InsertBatch(pending); err != nil {
		w.failures.Add(1)
		w.logger.Error().Err(err).Int("samples", len(pending)).Msg("Failed to archive batch")
		return pending[:0]
	}

	w.archived.Add(int64(len(pending)))
	w.batches.Add(1)
	w.lastFlush.Store(time.Now().UnixNano())
	w.logger.Debug().Int("samples", len(pending)).Msg("Archived batch")
	return pending[:0]
}

// Close stops accepting samples, writes everything still queued and waits
// for the writer to exit. It is safe to call more than once.
func (w *ArchiveWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		close(w.done)
		<-w.exited
	})
}

func (w *ArchiveWriter) Stats() ArchiveWriterStats {
	stats := ArchiveWriterStats{
		Archived:   w.archived.Load(),
		Batches:    w.batches.Load(),
		Failures:   w.failures.Load(),
		Duplicates: w.duplicates.Load(),
		Dropped:    w.dropped.Load(),
		Queued:     len(w.queue),
	}
	if ns := w.lastFlush.Load(); ns != 0 {
		stats.LastFlush = time.Unix(0, ns)
	}
	return stats
}
