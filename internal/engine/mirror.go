package engine

import (
	"context"
	"sync"
	"time"

	"relaygate/internal/models"

	"go.uber.org/zap"
)

const mirrorTimeout = 5 * time.Second

// mirrorWriter serializes snapshot writes to the state mirror. Samples that
// arrive while a write is in flight are coalesced per key, so the mirror
// always ends up holding the latest snapshot of every device.
type mirrorWriter struct {
	mirror StateMirror
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]models.DeviceRecord
	wake    chan struct{}
}

func newMirrorWriter(mirror StateMirror, logger *zap.Logger) *mirrorWriter {
	return &mirrorWriter{
		mirror:  mirror,
		logger:  logger,
		pending: make(map[string]models.DeviceRecord),
		wake:    make(chan struct{}, 1),
	}
}

// enqueue records the latest snapshot for key; it never blocks
func (w *mirrorWriter) enqueue(key string, record models.DeviceRecord) {
	w.mu.Lock()
	w.pending[key] = record
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run writes queued snapshots until ctx is cancelled, then writes what is left
func (w *mirrorWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *mirrorWriter) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]models.DeviceRecord)
	w.mu.Unlock()

	for key, record := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := w.mirror.Save(ctx, key, record); err != nil {
			w.logger.Warn("Failed to mirror device state", zap.String("device", key), zap.Error(err))
		}
		cancel()
	}
}
