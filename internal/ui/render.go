package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"geonli-desk/internal/config"
	"geonli-desk/internal/export"
	"geonli-desk/internal/highlight"
	"geonli-desk/internal/store"
)

const (
	maxDisplayChars = 1_000_000
	maxLineChars    = 8000
	emptyHint       = "No analysis selected.\n\nPress n to start one, or i to type a message and one is created for you."
)

func glamourStyle(theme string) string {
	switch theme {
	case "dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night":
		return theme
	}
	return config.DefaultGlamourStyle
}

func transcriptKey(snap store.MessagesSnapshot, query, theme string, width int) string {
	last := ""
	if n := len(snap.Messages); n > 0 {
		last = snap.Messages[n-1].ID
	}
	return fmt.Sprintf("%s|n=%d|last=%s|c=%t|l=%t|e=%t|w=%d|q=%s|t=%s",
		snap.SessionID, len(snap.Messages), last, snap.Composing, snap.Loading, snap.Err != nil,
		width, strings.ToLower(query), theme)
}

// renderTranscript shows the displayed log. Plain states are set directly;
// markdown is rendered off the update loop and applied by renderMsg.
func (m *Model) renderTranscript(force bool) tea.Cmd {
	snap := m.snapshot
	state := m.app.UI.State()
	key := transcriptKey(snap, state.SearchText, state.Theme, m.viewport.Width)
	if !force && key == m.renderKey {
		return nil
	}
	m.renderKey = key
	m.renderNonce++

	switch {
	case snap.SessionID == "":
		m.rendering = false
		m.setViewportContent(emptyHint)
		return nil
	case len(snap.Messages) == 0 && snap.Loading:
		m.rendering = false
		m.setViewportContent("Loading messages...")
		return nil
	case len(snap.Messages) == 0 && snap.Err != nil:
		m.rendering = false
		m.setViewportContent("Could not load messages: " + snap.Err.Error() + "\n\nPress ctrl+r to retry.")
		return nil
	case len(snap.Messages) == 0:
		m.rendering = false
		m.setViewportContent("No messages yet. Press i to ask about an image.")
		return nil
	}

	md := sanitizeMarkdownForDisplay(export.BuildTranscriptMarkdown(snap.Messages))
	if snap.Composing {
		md += "\n_Analyzing..._\n"
	}
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	m.rendering = true
	return renderMarkdownCmd(key, md, glamourStyle(state.Theme), wrap, m.renderNonce)
}

func renderMarkdownCmd(key, md, style string, wrap, nonce int) tea.Cmd {
	return func() tea.Msg {
		out := renderMsg{key: key, rendered: md, nonce: nonce}
		if len(md) > 500_000 {
			return out
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return out
		}
		if rendered, err := r.Render(md); err == nil {
			out.rendered = rendered
		}
		return out
	}
}

func (m *Model) setViewportContent(content string) {
	m.matchCount = 0
	if query := m.app.UI.Filter().SearchText; query != "" {
		res := highlight.ApplyANSI(content, query, func(s string) string { return searchMatchStyle.Render(s) })
		content = res.Text
		m.matchCount = res.Count
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func sanitizeMarkdownForDisplay(md string) string {
	md = stripEmbeddedImageData(md)
	md = clampLongLines(md, maxLineChars)
	if len(md) <= maxDisplayChars {
		return md
	}
	trimmed := strings.TrimRight(md[:maxDisplayChars], "\n")
	return trimmed + "\n\n... [transcript truncated for display; use export for full content] ...\n"
}

// stripEmbeddedImageData replaces inline data URLs that leak into message
// text with a short marker.
func stripEmbeddedImageData(s string) string {
	var b strings.Builder
	pos := 0
	for {
		i := strings.Index(s[pos:], "data:image/")
		if i < 0 {
			b.WriteString(s[pos:])
			break
		}
		start := pos + i
		b.WriteString(s[pos:start])

		rest := s[start:]
		markerIdx := strings.Index(rest, ";base64,")
		if markerIdx < 0 {
			b.WriteString("data:image/")
			pos = start + len("data:image/")
			continue
		}

		payloadStart := start + markerIdx + len(";base64,")
		j := payloadStart
		for j < len(s) && isBase64Byte(s[j]) {
			j++
		}

		b.WriteString("[embedded image data omitted: ")
		b.WriteString(strconv.Itoa(j - payloadStart))
		b.WriteString(" base64 chars]")
		pos = j
	}
	return b.String()
}

func isBase64Byte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '=' || c == '\n' || c == '\r':
		return true
	default:
		return false
	}
}

func clampLongLines(s string, max int) string {
	if max <= 0 || len(s) == 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if len(line) <= max {
			continue
		}
		head := line[:max/2]
		tail := line[len(line)-max/2:]
		lines[i] = head + "... [line truncated " + strconv.Itoa(len(line)-max) + " chars] ..." + tail
	}
	return strings.Join(lines, "\n")
}
