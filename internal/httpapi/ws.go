package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/coregate/gateway/internal/gwtypes"
)

// wsFrameType is the closed set of WS /ws frame types from §6.
type wsFrameType string

const (
	wsFrameCompletion         wsFrameType = "completion"
	wsFramePing               wsFrameType = "ping"
	wsFramePong               wsFrameType = "pong"
	wsFrameError              wsFrameType = "error"
	wsFrameCompletionChunk    wsFrameType = "completion_chunk"
	wsFrameCompletionStarted  wsFrameType = "completion_started"
	wsFrameCompletionFinished wsFrameType = "completion_finished"
)

// wsFrame is the uniform JSON envelope exchanged over /ws: {type,
// requestId, data}.
type wsFrame struct {
	Type      wsFrameType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func wsDataOf(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// writeFrame marshals f and writes it as a text WebSocket message.
func writeFrame(ctx context.Context, conn *websocket.Conn, f wsFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// WebSocketHandler implements WS /ws: a caller sends a {type=completion,
// requestId, data=Request} frame and receives completion_started, zero or
// more completion_chunk frames, then completion_finished — or, on
// failure, an {type=error} frame with the socket kept open unless the
// error was fatal to the connection itself, per §6's error semantics.
func WebSocketHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()

		ctx := r.Context()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
					return
				}
				d.Logger.Warn("ws: read failed", slog.String("error", err.Error()))
				return
			}

			var in wsFrame
			if err := json.Unmarshal(raw, &in); err != nil {
				_ = writeFrame(ctx, conn, wsFrame{Type: wsFrameError, Data: wsDataOf(map[string]string{"error": "invalid frame: " + err.Error()})})
				continue
			}

			switch in.Type {
			case wsFramePing:
				_ = writeFrame(ctx, conn, wsFrame{Type: wsFramePong, RequestID: in.RequestID})
			case wsFrameCompletion:
				handleWSCompletion(ctx, conn, d, in)
			default:
				_ = writeFrame(ctx, conn, wsFrame{
					Type:      wsFrameError,
					RequestID: in.RequestID,
					Data:      wsDataOf(map[string]string{"error": "unknown frame type"}),
				})
			}
		}
	}
}

func handleWSCompletion(ctx context.Context, conn *websocket.Conn, d Dependencies, in wsFrame) {
	var req gwtypes.Request
	if err := json.Unmarshal(in.Data, &req); err != nil {
		_ = writeFrame(ctx, conn, wsFrame{
			Type:      wsFrameError,
			RequestID: in.RequestID,
			Data:      wsDataOf(map[string]string{"error": "invalid completion data: " + err.Error()}),
		})
		return
	}
	req.RequestID = in.RequestID
	req.Stream = true

	_ = writeFrame(ctx, conn, wsFrame{Type: wsFrameCompletionStarted, RequestID: in.RequestID})

	chunks, err := d.Pipeline.CompleteStream(ctx, req)
	if err != nil {
		p := classifyErr(err)
		_ = writeFrame(ctx, conn, wsFrame{Type: wsFrameError, RequestID: in.RequestID, Data: wsDataOf(p)})
		return
	}

	for chunk := range chunks {
		if werr := writeFrame(ctx, conn, wsFrame{Type: wsFrameCompletionChunk, RequestID: in.RequestID, Data: wsDataOf(chunk)}); werr != nil {
			d.Logger.Warn("ws: write failed", slog.String("error", werr.Error()), slog.String("requestId", in.RequestID))
			return
		}
	}
	_ = writeFrame(ctx, conn, wsFrame{Type: wsFrameCompletionFinished, RequestID: in.RequestID})
}
