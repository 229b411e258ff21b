package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geonli-desk/internal/model"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText, "txt":
		return FormatText, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ext() string {
	if f == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}

const stampLayout = "2006-01-02 15:04:05"

type Exporter struct {
	dir string
	cwd string
	now func() time.Time
}

// New returns an Exporter writing into dir. A relative dir resolves against
// the working directory.
func New(dir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{dir: strings.TrimSpace(dir), cwd: cwd, now: time.Now}, nil
}

func (e *Exporter) Export(session model.Session, messages []model.Message, format Format) (string, error) {
	path := e.outputPath(session, format)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	var body string
	switch format {
	case FormatMarkdown:
		body = BuildSessionMarkdown(session, BuildTranscriptMarkdown(messages), e.now().UTC())
	default:
		body = BuildTranscript(messages)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// BuildTranscript renders one "[time] sender: text" line per message.
func BuildTranscript(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("[" + stamp(m.CreatedAt) + "] ")
		b.WriteString(string(m.Sender) + ": ")
		b.WriteString(strings.TrimSpace(m.Text))
		if m.HasImage() {
			if strings.TrimSpace(m.Text) != "" {
				b.WriteString(" ")
			}
			b.WriteString("[image]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildTranscriptMarkdown is the rendering the terminal view feeds to
// glamour.
func BuildTranscriptMarkdown(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Text)
		if content == "" && !m.HasImage() {
			continue
		}
		switch m.Sender {
		case model.SenderUser:
			header := "## You"
			if m.Provisional {
				header += " (sending)"
			}
			b.WriteString(header + "\n\n")
		default:
			b.WriteString("## Analysis\n\n")
		}
		if m.HasImage() {
			b.WriteString("_image attached_\n\n")
		}
		if content != "" {
			b.WriteString(content + "\n\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func BuildSessionMarkdown(session model.Session, transcript string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# " + safeValue(session.Name) + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("id: " + session.ID + "\n")
	b.WriteString("project: " + safeValue(session.ProjectID) + "\n")
	b.WriteString(fmt.Sprintf("archived: %t\n", session.Archived))
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(session model.Session, format Format) string {
	dir := e.dir
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.cwd, dir)
	}
	return filepath.Join(dir, safeFileName(session.Name)+"-"+safeFileName(session.ID)+format.ext())
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(stampLayout)
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "session"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
