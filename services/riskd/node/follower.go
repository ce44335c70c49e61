package node

import (
	"context"
	"log/slog"
	"time"
)

// HeightSink receives the latest observed block height.
type HeightSink interface {
	SetBlockHeight(height uint64)
}

// Follower polls the node for its block number and forwards every advance to
// the sink.
type Follower struct {
	client   *Client
	sink     HeightSink
	interval time.Duration
	logger   *slog.Logger
	last     uint64
}

// NewFollower constructs a Follower polling at interval.
func NewFollower(client *Client, sink HeightSink, interval time.Duration, logger *slog.Logger) *Follower {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{client: client, sink: sink, interval: interval, logger: logger}
}

// Poll fetches the height once and forwards it when it advanced.
func (f *Follower) Poll(ctx context.Context) (uint64, error) {
	height, err := f.client.BlockNumber(ctx)
	if err != nil {
		return f.last, err
	}
	if height > f.last {
		f.sink.SetBlockHeight(height)
		f.last = height
	}
	return f.last, nil
}

// Run polls until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("block height poll failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
