package stream

import (
	"context"
	"math"
	"testing"
	"time"

	"audio-transcription-service/internal/events"
	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/provider"
	"audio-transcription-service/internal/provider/mock"
	"audio-transcription-service/internal/resilience"
	"audio-transcription-service/internal/session"
)

func newTestCoordinator(t *testing.T, client provider.Transcriber) (*Coordinator, *session.Registry, *provider.Adapter) {
	t.Helper()
	breaker := resilience.NewCircuitBreaker(resilience.BreakerSettings{
		Name:                 "test",
		FailureRateThreshold: 50,
		SlidingWindowSize:    10,
		MinimumCalls:         5,
		OpenStateWait:        30 * time.Second,
	})
	retry, err := resilience.NewBackoffPolicy(time.Millisecond, 10*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("backoff policy: %v", err)
	}
	adapter := provider.NewAdapter(client, breaker, provider.Config{
		BatchWindow:        10 * time.Millisecond,
		MinRequestInterval: 0,
		RequestTimeout:     time.Second,
		Retry:              retry,
	}, nil)
	registry := session.NewRegistry()
	publisher := events.NewPublisher(events.Config{Enabled: false}, nil)
	return NewCoordinator(adapter, registry, publisher, nil), registry, adapter
}

func TestAggregate(t *testing.T) {
	history := []models.TranscriptionUpdate{
		models.Final("Hello", 0.8, 1),
		models.Partial("wor", 0.9, 2),
		models.Final("world", 0.92, 3),
	}
	text, confidence := aggregate(history)
	if text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", text)
	}
	want := (0.8 + 0.9 + 0.92) / 3
	if math.Abs(confidence-want) > 1e-9 {
		t.Errorf("expected confidence %v, got %v", want, confidence)
	}
}

func TestAggregateSkipsBlankFinals(t *testing.T) {
	history := []models.TranscriptionUpdate{
		models.Final("Hello", 0.8, 1),
		models.Final("   ", 0.5, 2),
		models.Final("world", 0.9, 3),
	}
	text, _ := aggregate(history)
	if text != "Hello world" {
		t.Errorf("expected blank finals skipped, got %q", text)
	}
}

func TestAggregateFallsBackToLastPartial(t *testing.T) {
	history := []models.TranscriptionUpdate{
		models.Partial("hel", 0.6, 1),
		models.Partial("hello there", 0.7, 2),
	}
	text, confidence := aggregate(history)
	if text != "hello there" {
		t.Errorf("expected last partial, got %q", text)
	}
	want := (0.6 + 0.7) / 2
	if math.Abs(confidence-want) > 1e-9 {
		t.Errorf("expected confidence %v, got %v", want, confidence)
	}
}

func TestAggregateEmptyHistory(t *testing.T) {
	text, confidence := aggregate(nil)
	if text != "" || confidence != 0.0 {
		t.Errorf("expected empty aggregate, got %q / %v", text, confidence)
	}
}

func TestStartStreamingRecordsAndEmits(t *testing.T) {
	client := mock.New(provider.Result{Text: "hello world", Final: true, Confidence: 0.9})
	c, registry, _ := newTestCoordinator(t, client)

	sess := registry.CreateSession("conn-1")
	chunks := make(chan models.AudioChunk, 1)
	chunks <- models.AudioChunk{Data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00}, SessionID: sess.ID()}
	close(chunks)

	out := c.StartStreaming(context.Background(), sess.ID(), chunks)

	var got []models.TranscriptionUpdate
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-out:
			if !ok {
				if len(got) != 1 {
					t.Fatalf("expected 1 update, got %d", len(got))
				}
				if got[0].Text != "hello world" {
					t.Errorf("unexpected text %q", got[0].Text)
				}
				if sess.HistoryLen() != 1 {
					t.Errorf("expected 1 update in history, got %d", sess.HistoryLen())
				}
				return
			}
			got = append(got, update)
		case <-deadline:
			t.Fatal("stream did not complete")
		}
	}
}

func TestStartStreamingDiscardsAfterClose(t *testing.T) {
	client := mock.New(provider.Result{Text: "late", Final: true, Confidence: 0.9})
	c, registry, _ := newTestCoordinator(t, client)

	sess := registry.CreateSession("conn-1")
	registry.CloseSession(sess.ID())

	chunks := make(chan models.AudioChunk, 1)
	chunks <- models.AudioChunk{Data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00}, SessionID: sess.ID()}
	close(chunks)

	out := c.StartStreaming(context.Background(), sess.ID(), chunks)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-out:
			if !ok {
				if sess.HistoryLen() != 0 {
					t.Errorf("closed session must not accumulate history, got %d", sess.HistoryLen())
				}
				return
			}
			t.Errorf("closed session must not emit updates, got %+v", update)
		case <-deadline:
			t.Fatal("stream did not complete")
		}
	}
}

func TestEndSessionAggregatesAndCloses(t *testing.T) {
	client := mock.New()
	c, registry, adapter := newTestCoordinator(t, client)

	sess := registry.CreateSession("conn-1")
	id := sess.ID()
	registry.AddTranscriptionUpdate(id, models.Final("Hello", 0.8, adapter.NextSequenceID(id)))
	registry.AddTranscriptionUpdate(id, models.Partial("wor", 0.9, adapter.NextSequenceID(id)))
	registry.AddTranscriptionUpdate(id, models.Final("world", 0.92, adapter.NextSequenceID(id)))

	final, err := c.EndSession(context.Background(), id)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if final.Text != "Hello world" {
		t.Errorf("expected aggregate %q, got %q", "Hello world", final.Text)
	}
	want := (0.8 + 0.9 + 0.92) / 3
	if math.Abs(final.Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %v, got %v", want, final.Confidence)
	}
	if final.SequenceID != 4 {
		t.Errorf("aggregate must take the next sequence id, got %d", final.SequenceID)
	}
	if sess.State() != session.StateClosed {
		t.Errorf("expected session closed, got %v", sess.State())
	}
	if sess.HistoryLen() != 4 {
		t.Errorf("aggregate must be recorded before close, got %d entries", sess.HistoryLen())
	}
}

func TestEndSessionUnknown(t *testing.T) {
	c, _, _ := newTestCoordinator(t, mock.New())
	if _, err := c.EndSession(context.Background(), "missing"); err == nil {
		t.Errorf("expected error for unknown session")
	}
}

func TestGetAggregatedTranscription(t *testing.T) {
	c, registry, _ := newTestCoordinator(t, mock.New())
	sess := registry.CreateSession("conn-1")
	registry.AddTranscriptionUpdate(sess.ID(), models.Final("partial view", 0.75, 1))

	text, confidence, err := c.GetAggregatedTranscription(sess.ID())
	if err != nil {
		t.Fatalf("GetAggregatedTranscription: %v", err)
	}
	if text != "partial view" || confidence != 0.75 {
		t.Errorf("unexpected aggregate %q / %v", text, confidence)
	}
	if sess.State() != session.StateActive {
		t.Errorf("read-only aggregate must not close the session")
	}
}

func TestSendUpdateRejectsInvalid(t *testing.T) {
	c, registry, _ := newTestCoordinator(t, mock.New())
	sess := registry.CreateSession("conn-1")

	bad := models.TranscriptionUpdate{Type: "bogus", SequenceID: 1}
	if err := c.SendUpdate(context.Background(), sess.ID(), bad); err == nil {
		t.Errorf("expected error for invalid update")
	}
	if sess.HistoryLen() != 0 {
		t.Errorf("invalid update must not enter history")
	}
}

func TestPreserveAudioDataCopiesAndEvicts(t *testing.T) {
	c, _, _ := newTestCoordinator(t, mock.New())
	c.budget = 8

	src := []byte{1, 2, 3, 4}
	c.PreserveAudioData("s1", src)
	src[0] = 99

	buffered := c.PreservedAudioData("s1")
	if len(buffered) != 1 {
		t.Fatalf("expected 1 buffered chunk, got %d", len(buffered))
	}
	if buffered[0][0] != 1 {
		t.Errorf("buffer must not alias the caller's slice")
	}

	c.PreserveAudioData("s1", []byte{5, 6, 7, 8})
	c.PreserveAudioData("s1", []byte{9, 10, 11, 12})

	buffered = c.PreservedAudioData("s1")
	if len(buffered) != 2 {
		t.Fatalf("expected eviction down to 2 chunks, got %d", len(buffered))
	}
	if buffered[0][0] != 5 || buffered[1][0] != 9 {
		t.Errorf("expected oldest chunk evicted, got %v", buffered)
	}

	c.DiscardAudioData("s1")
	if got := c.PreservedAudioData("s1"); got != nil {
		t.Errorf("expected nil after discard, got %v", got)
	}
}
