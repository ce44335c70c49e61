package exports

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lendcore/core/events"
	"lendcore/observability"
)

const (
	defaultSinkBuffer  = 1024
	defaultSinkTimeout = 5 * time.Second
)

// Sink is an events.Emitter that persists effects to a Store off the caller's
// goroutine. Effects arriving while the buffer is full are dropped and
// counted.
type Sink struct {
	store  *Store
	height func() uint64
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Record
	wg     sync.WaitGroup
	once   sync.Once
}

// SinkOption mutates sink configuration.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	buffer int
	logger *slog.Logger
}

func WithBuffer(size int) SinkOption {
	return func(c *sinkConfig) {
		if size > 0 {
			c.buffer = size
		}
	}
}

func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(c *sinkConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSink starts a sink writing to store. height reports the block height
// stamped on each record.
func NewSink(store *Store, height func() uint64, opts ...SinkOption) (*Sink, error) {
	if store == nil {
		return nil, errors.New("exports: store required")
	}
	cfg := sinkConfig{buffer: defaultSinkBuffer, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if height == nil {
		height = func() uint64 { return 0 }
	}
	ctx, cancel := context.WithCancel(context.Background())
	sink := &Sink{
		store:  store,
		height: height,
		logger: cfg.logger,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan Record, cfg.buffer),
	}
	sink.wg.Add(1)
	go sink.worker()
	return sink, nil
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	record, err := NewRecord(s.height(), evt)
	if err != nil {
		s.logger.Warn("effect not recorded", "type", evt.EventType(), "error", err)
		return
	}
	select {
	case <-s.ctx.Done():
		observability.Events().RecordDropped("store")
	case s.queue <- record:
	default:
		observability.Events().RecordDropped("store")
	}
}

// Close drains buffered effects and stops the worker.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for {
		select {
		case record := <-s.queue:
			s.write(s.batch(record))
		case <-s.ctx.Done():
			for {
				select {
				case record := <-s.queue:
					s.write(s.batch(record))
				default:
					return
				}
			}
		}
	}
}

// batch collects whatever else is already queued behind first.
func (s *Sink) batch(first Record) []Record {
	records := []Record{first}
	for len(records) < 256 {
		select {
		case record := <-s.queue:
			records = append(records, record)
		default:
			return records
		}
	}
	return records
}

func (s *Sink) write(records []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSinkTimeout)
	defer cancel()
	if err := s.store.Append(ctx, records...); err != nil {
		s.logger.Error("persist effects", "count", len(records), "error", err)
		for range records {
			observability.Events().RecordDropped("store")
		}
		return
	}
	for _, record := range records {
		observability.Events().RecordEffect(record.Type)
	}
}
