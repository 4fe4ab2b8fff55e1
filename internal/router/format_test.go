package router

import (
	"testing"

	"github.com/coregate/gateway/internal/gwtypes"
)

func respWithContent(content string) gwtypes.Response {
	return gwtypes.Response{Choices: []gwtypes.Choice{{Message: gwtypes.ChoiceMessage{Content: content}}}}
}

func TestShapeOutputNoopWhenNothingRequested(t *testing.T) {
	resp := respWithContent("hello")
	out := ShapeOutput(resp, OutputFormat{})
	if out.Choices[0].Message.Content != "hello" {
		t.Fatalf("expected untouched content, got %q", out.Choices[0].Message.Content)
	}
}

func TestShapeOutputStripsThinkBlock(t *testing.T) {
	resp := respWithContent("<think>reasoning here</think>the answer")
	out := ShapeOutput(resp, OutputFormat{StripThink: true})
	if out.Choices[0].Message.Content != "the answer" {
		t.Fatalf("got %q, want %q", out.Choices[0].Message.Content, "the answer")
	}
}

func TestShapeOutputExtractsJSONBlock(t *testing.T) {
	resp := respWithContent("here you go:\n```json\n{\"a\":1}\n```")
	out := ShapeOutput(resp, OutputFormat{Type: "json"})
	if out.Choices[0].Message.Content != `{"a":1}` {
		t.Fatalf("got %q", out.Choices[0].Message.Content)
	}
}

func TestShapeOutputTruncatesToMaxChars(t *testing.T) {
	resp := respWithContent("0123456789")
	out := ShapeOutput(resp, OutputFormat{MaxChars: 4})
	if out.Choices[0].Message.Content != "0123..." {
		t.Fatalf("got %q", out.Choices[0].Message.Content)
	}
}
