// Package streamfanout translates a provider-native SSE/chunk stream into
// the uniform ResponseChunk sequence the transport layer emits (C11). It is
// a pure transform: no retries. A disconnected stream mid-way fails the
// whole call; it always emits at least one terminal chunk with
// finishReason set, even on upstream error.
package streamfanout

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
)

// rawChunk mirrors the OpenAI-style streaming delta shape shared by the
// openai and vllm adapters (both OpenAI-compatible wire formats).
type rawChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Fanout reads SSE frames from body and sends uniform ResponseChunks on the
// returned channel, closing it after the terminal chunk. The channel always
// receives exactly one terminal chunk (finishReason set), even when body
// errors or ctx is canceled mid-stream — in that case the terminal chunk
// carries finishReason=error and an error message.
func Fanout(ctx context.Context, body io.ReadCloser) <-chan gwtypes.ResponseChunk {
	out := make(chan gwtypes.ResponseChunk)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var lastUsage *gwtypes.Usage
		var lastModel, lastID string

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				emitTerminal(out, terminalError(lastID, lastModel, lastUsage, "canceled"))
				return
			default:
			}

			line := scanner.Text()
			payload, done, ok := parseSSELine(line)
			if !ok {
				continue
			}
			if done {
				emitTerminal(out, terminal(lastID, lastModel, gwtypes.FinishStop, lastUsage))
				return
			}

			var rc rawChunk
			if err := json.Unmarshal(payload, &rc); err != nil {
				continue // malformed frame: skip, do not abort the whole stream
			}
			if rc.ID != "" {
				lastID = rc.ID
			}
			if rc.Model != "" {
				lastModel = rc.Model
			}
			if rc.Usage != nil {
				lastUsage = &gwtypes.Usage{
					PromptTokens:     rc.Usage.PromptTokens,
					CompletionTokens: rc.Usage.CompletionTokens,
					TotalTokens:      rc.Usage.TotalTokens,
				}
			}
			if len(rc.Choices) == 0 {
				continue
			}
			c := rc.Choices[0]
			chunk := gwtypes.ResponseChunk{
				ID:    lastID,
				Model: lastModel,
				Delta: gwtypes.ChoiceMessage{Role: gwtypes.RoleAssistant, Content: c.Delta.Content},
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				chunk.FinishReason = gwtypes.FinishReason(*c.FinishReason)
			}
			if !emit(ctx, out, chunk) {
				emitTerminal(out, terminalError(lastID, lastModel, lastUsage, "canceled"))
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emitTerminal(out, terminalError(lastID, lastModel, lastUsage, err.Error()))
			return
		}
		// Upstream closed the connection without a terminator frame: still
		// guarantee a terminal chunk, per C11's contract.
		emitTerminal(out, terminal(lastID, lastModel, gwtypes.FinishStop, lastUsage))
	}()
	return out
}

func terminal(id, model string, reason gwtypes.FinishReason, usage *gwtypes.Usage) gwtypes.ResponseChunk {
	return gwtypes.ResponseChunk{ID: id, Model: model, FinishReason: reason, Usage: usage}
}

func terminalError(id, model string, usage *gwtypes.Usage, msg string) gwtypes.ResponseChunk {
	return gwtypes.ResponseChunk{ID: id, Model: model, FinishReason: gwtypes.FinishError, Usage: usage, Error: msg}
}

func emit(ctx context.Context, out chan<- gwtypes.ResponseChunk, chunk gwtypes.ResponseChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

const terminalWait = time.Second

// emitTerminal sends the terminal chunk even when ctx is already canceled,
// giving up only if no reader takes it within terminalWait.
func emitTerminal(out chan<- gwtypes.ResponseChunk, chunk gwtypes.ResponseChunk) {
	select {
	case out <- chunk:
	case <-time.After(terminalWait):
	}
}

// parseSSELine extracts the JSON payload of one `data: ...` SSE frame,
// reporting done=true on the `[DONE]` terminator used by OpenAI-compatible
// upstreams. Non-data lines (blank lines, `:` comments/heartbeats) are
// reported as ok=false and skipped by the caller.
func parseSSELine(line string) (payload []byte, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return nil, false, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return nil, false, false
	}
	if data == "[DONE]" {
		return nil, true, true
	}
	return []byte(data), false, true
}
