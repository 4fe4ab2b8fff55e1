package streamfanout

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
)

type closingReader struct{ io.Reader }

func (closingReader) Close() error { return nil }

func bodyFrom(s string) io.ReadCloser { return closingReader{strings.NewReader(s)} }

func drain(t *testing.T, ch <-chan gwtypes.ResponseChunk, timeout time.Duration) []gwtypes.ResponseChunk {
	t.Helper()
	var out []gwtypes.ResponseChunk
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("timed out waiting for fanout channel")
		}
	}
}

func TestFanoutEmitsDeltasThenTerminalOnDone(t *testing.T) {
	sse := "data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n" +
		"data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n" +
		"data: [DONE]\n"

	ch := Fanout(context.Background(), bodyFrom(sse))
	chunks := drain(t, ch, 2*time.Second)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks (3 deltas + terminator), got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Delta.Content != "hel" || chunks[1].Delta.Content != "lo" {
		t.Fatalf("unexpected delta content: %+v", chunks[:2])
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != gwtypes.FinishStop {
		t.Fatalf("expected terminal finishReason=stop, got %q", last.FinishReason)
	}
}

func TestFanoutGuaranteesTerminalChunkOnStreamCloseWithoutDoneMarker(t *testing.T) {
	sse := "data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n"
	ch := Fanout(context.Background(), bodyFrom(sse))
	chunks := drain(t, ch, 2*time.Second)

	if len(chunks) == 0 {
		t.Fatal("expected at least the terminal chunk")
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason == "" {
		t.Fatalf("expected terminal chunk to carry a finishReason even without [DONE], got %+v", last)
	}
}

func TestFanoutSkipsMalformedFramesWithoutAborting(t *testing.T) {
	sse := "data: not-json\n" +
		"data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n"
	ch := Fanout(context.Background(), bodyFrom(sse))
	chunks := drain(t, ch, 2*time.Second)

	if len(chunks) != 2 {
		t.Fatalf("expected malformed frame skipped, leaving 1 delta + terminal, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Delta.Content != "ok" {
		t.Fatalf("unexpected first chunk: %+v", chunks[0])
	}
}

func TestFanoutEmitsErrorTerminalOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sse := "data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"y\"}}]}\n"
	ch := Fanout(ctx, bodyFrom(sse))
	chunks := drain(t, ch, 2*time.Second)

	if len(chunks) == 0 {
		t.Fatal("expected a terminal chunk even when canceled immediately")
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != gwtypes.FinishError {
		t.Fatalf("expected finishReason=error on cancellation, got %q", last.FinishReason)
	}
	if last.Error == "" {
		t.Fatal("expected error message set on canceled terminal chunk")
	}
}

func TestFanoutIgnoresBlankAndCommentLines(t *testing.T) {
	sse := ": heartbeat\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"z\"}}]}\n" +
		"data: [DONE]\n"
	ch := Fanout(context.Background(), bodyFrom(sse))
	chunks := drain(t, ch, 2*time.Second)
	if len(chunks) != 2 {
		t.Fatalf("expected heartbeat/blank lines ignored, got %d chunks: %+v", len(chunks), chunks)
	}
}
