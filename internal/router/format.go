package router

import (
	"regexp"
	"strings"

	"github.com/coregate/gateway/internal/gwtypes"
)

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// OutputFormat controls post-processing applied to a completion response
// before it reaches the caller.
type OutputFormat struct {
	Type       string // "json" | "markdown" | "text" | ""
	StripThink bool
	MaxChars   int
}

// ShapeOutput rewrites the first choice's content per fmt, leaving resp
// untouched when no shaping was requested.
func ShapeOutput(resp gwtypes.Response, fmt OutputFormat) gwtypes.Response {
	if fmt.Type == "" && !fmt.StripThink && fmt.MaxChars == 0 {
		return resp
	}
	if len(resp.Choices) == 0 {
		return resp
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return resp
	}

	if fmt.StripThink {
		content = strings.TrimSpace(thinkBlockRe.ReplaceAllString(content, ""))
	}
	if fmt.MaxChars > 0 && len(content) > fmt.MaxChars {
		content = content[:fmt.MaxChars] + "..."
	}
	switch fmt.Type {
	case "json":
		content = extractJSON(content)
	case "markdown":
		content = strings.TrimSpace(content)
	case "text":
		content = stripMarkdown(content)
	}

	resp.Choices[0].Message.Content = content
	return resp
}

// extractJSON attempts to find a JSON block within the content.
func extractJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		start := idx + 7
		if end := strings.Index(content[start:], "```"); end >= 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	content = strings.TrimSpace(content)
	if len(content) > 0 && (content[0] == '{' || content[0] == '[') {
		return content
	}
	return content
}

// stripMarkdown removes common markdown formatting.
func stripMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimLeft(line, "#")
		line = strings.TrimSpace(line)
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, "*", "")
		line = strings.ReplaceAll(line, "`", "")
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
