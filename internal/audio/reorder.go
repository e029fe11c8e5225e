package audio

import (
	"context"
	"sort"
	"time"

	"audio-transcription-service/internal/models"
)

// ReorderByTimestamp buffers chunks over a bounded window (up to
// ReorderMaxChunks items or ReorderWindow of wall time) and re-emits each
// window sorted by timestamp ascending. Every window is a stable permutation
// of its input: no chunk is dropped or duplicated. Chunks delayed beyond the
// window are not retroactively reordered.
func (p *Processor) ReorderByTimestamp(ctx context.Context, in <-chan models.AudioChunk) <-chan models.AudioChunk {
	out := make(chan models.AudioChunk, p.cfg.ReorderMaxChunks)

	go func() {
		defer close(out)

		buf := make([]models.AudioChunk, 0, p.cfg.ReorderMaxChunks)
		timer := time.NewTimer(p.cfg.ReorderWindow)
		defer timer.Stop()
		stopTimer(timer)

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			sort.SliceStable(buf, func(i, j int) bool {
				return buf[i].Timestamp < buf[j].Timestamp
			})
			for _, c := range buf {
				select {
				case out <- c:
				case <-ctx.Done():
					return false
				}
			}
			buf = buf[:0]
			return true
		}

		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					flush()
					return
				}
				if len(buf) == 0 {
					timer.Reset(p.cfg.ReorderWindow)
				}
				buf = append(buf, chunk)
				if len(buf) >= p.cfg.ReorderMaxChunks {
					stopTimer(timer)
					if !flush() {
						return
					}
				}
			case <-timer.C:
				if !flush() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// stopTimer stops the timer and drains a pending tick so Reset is safe.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
