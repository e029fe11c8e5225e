package audio

import (
	"context"
	"testing"
	"time"

	"audio-transcription-service/internal/models"
)

func chunkWithTimestamp(ts int64) models.AudioChunk {
	return models.AudioChunk{Data: []byte{1, 2, 3, 4}, Timestamp: ts, SessionID: "s1"}
}

func collect(t *testing.T, out <-chan models.AudioChunk, n int) []models.AudioChunk {
	t.Helper()
	got := make([]models.AudioChunk, 0, n)
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case c, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-deadline:
			t.Fatalf("timed out after %d of %d chunks", len(got), n)
		}
	}
	return got
}

func TestReorder_SortsWithinWindow(t *testing.T) {
	p := NewProcessor(Config{ReorderMaxChunks: 10, ReorderWindow: 50 * time.Millisecond})

	in := make(chan models.AudioChunk, 3)
	for _, ts := range []int64{30, 10, 20} {
		in <- chunkWithTimestamp(ts)
	}
	close(in)

	out := p.ReorderByTimestamp(context.Background(), in)
	got := collect(t, out, 3)

	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(got))
	}
	for i, ts := range want {
		if got[i].Timestamp != ts {
			t.Errorf("position %d: expected timestamp %d, got %d", i, ts, got[i].Timestamp)
		}
	}
}

func TestReorder_PermutationNoLossNoDuplication(t *testing.T) {
	p := NewProcessor(Config{ReorderMaxChunks: 8, ReorderWindow: 20 * time.Millisecond})

	in := make(chan models.AudioChunk, 64)
	timestamps := []int64{5, 3, 9, 1, 7, 2, 8, 4, 6, 12, 10, 11}
	for _, ts := range timestamps {
		in <- chunkWithTimestamp(ts)
	}
	close(in)

	out := p.ReorderByTimestamp(context.Background(), in)
	got := collect(t, out, len(timestamps))

	seen := make(map[int64]int)
	for _, c := range got {
		seen[c.Timestamp]++
	}
	for _, ts := range timestamps {
		if seen[ts] != 1 {
			t.Errorf("timestamp %d emitted %d times, want exactly once", ts, seen[ts])
		}
	}
}

func TestReorder_FlushesOnCapacity(t *testing.T) {
	p := NewProcessor(Config{ReorderMaxChunks: 2, ReorderWindow: time.Hour})

	in := make(chan models.AudioChunk)
	out := p.ReorderByTimestamp(context.Background(), in)

	in <- chunkWithTimestamp(2)
	in <- chunkWithTimestamp(1)

	got := collect(t, out, 2)
	if got[0].Timestamp != 1 || got[1].Timestamp != 2 {
		t.Errorf("expected [1 2], got [%d %d]", got[0].Timestamp, got[1].Timestamp)
	}
	close(in)
}

func TestReorder_FlushesOnTimer(t *testing.T) {
	p := NewProcessor(Config{ReorderMaxChunks: 100, ReorderWindow: 30 * time.Millisecond})

	in := make(chan models.AudioChunk)
	out := p.ReorderByTimestamp(context.Background(), in)

	in <- chunkWithTimestamp(42)

	select {
	case c := <-out:
		if c.Timestamp != 42 {
			t.Errorf("expected timestamp 42, got %d", c.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("timer flush did not happen")
	}
	close(in)
}

func TestReorder_CancellationStopsStage(t *testing.T) {
	p := NewProcessor(Config{ReorderMaxChunks: 100, ReorderWindow: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan models.AudioChunk)
	out := p.ReorderByTimestamp(ctx, in)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed output after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancellation")
	}
}
