package ingest

import (
	"context"
	"time"

	"github.com/flightdeck/skyboard/internal/logger"
)

// Collector ties the receiver to the stream client: read a batch of
// snapshots, append it, pace to the configured interval, repeat until the
// context is cancelled. Append failures are logged and the loop keeps going;
// the next batch retries against the same offset.
type Collector struct {
	receiver  *Receiver
	stream    *StreamClient
	batchSize int
	interval  time.Duration
	fast      bool
}

// NewCollector builds a collector. batchSize is the number of snapshots per
// batch; interval the pacing between batches.
func NewCollector(receiver *Receiver, stream *StreamClient, batchSize int, interval time.Duration, fast bool) *Collector {
	if batchSize < 1 {
		batchSize = 1
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Collector{
		receiver:  receiver,
		stream:    stream,
		batchSize: batchSize,
		interval:  interval,
		fast:      fast,
	}
}

// Run opens the streaming channel and loops until ctx is done. Statistics
// are logged every ten batches and once more on shutdown.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.stream.OpenChannel(ctx); err != nil {
		return err
	}
	logger.L.Info("starting ads-b collection",
		"batch_size", c.batchSize, "interval", c.interval, "fast", c.fast)

	batch := 0
	for {
		select {
		case <-ctx.Done():
			c.stream.LogStats()
			logger.L.Info("collector stopped")
			return nil
		default:
		}

		batch++
		start := time.Now()

		snapshotPause := c.interval / time.Duration(c.batchSize)
		records := c.receiver.ReadBatch(ctx, c.batchSize, snapshotPause, c.fast)
		if len(records) == 0 {
			logger.L.Warn("no aircraft currently visible", "batch", batch)
		} else if err := c.stream.AppendRows(ctx, records); err != nil {
			logger.L.Error("failed to append batch", "batch", batch, "error", err)
		}

		if batch%10 == 0 {
			c.stream.LogStats()
		}

		sleep := c.interval - time.Since(start)
		if sleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sleep):
			}
		}
	}
}
