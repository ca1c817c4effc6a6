package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MaxLength is the longest content, in characters, that is rendered.
const MaxLength = 2_000_000

type Mode string

const (
	ModePretty   Mode = "pretty"
	ModeMarkdown Mode = "markdown"
	ModeRaw      Mode = "raw"
)

var ErrUnknownMode = errors.New("render: unknown mode")

type Result struct {
	Mode        Mode   `json:"mode"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Length      int    `json:"length"`
	TooLong     bool   `json:"tooLong,omitempty"`
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdown
}

// ParseMode maps a query value to a Mode. Empty means pretty.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePretty, nil
	case ModePretty, ModeMarkdown, ModeRaw:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Render formats a response for display. Content longer than MaxLength is
// replaced by a notice.
func Render(content string, mode Mode) (Result, error) {
	length := utf8.RuneCountInString(content)
	if length > MaxLength {
		return Result{
			Mode:        mode,
			ContentType: "text/plain",
			Content:     fmt.Sprintf("Too long to display (Length = %d)", length),
			Length:      length,
			TooLong:     true,
		}, nil
	}

	switch mode {
	case ModeRaw:
		return Result{Mode: mode, ContentType: "text/plain", Content: content, Length: length}, nil
	case ModePretty:
		if pretty, ok := prettyJSON(content); ok {
			return Result{Mode: mode, ContentType: "application/json", Content: pretty, Length: length}, nil
		}
		return Result{Mode: mode, ContentType: "text/plain", Content: content, Length: length}, nil
	case ModeMarkdown:
		var buf bytes.Buffer
		if err := getMarkdown().Convert([]byte(content), &buf); err != nil {
			return Result{}, fmt.Errorf("render markdown: %w", err)
		}
		return Result{Mode: mode, ContentType: "text/html", Content: buf.String(), Length: length}, nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func prettyJSON(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}
