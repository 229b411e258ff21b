package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"geonli-desk/internal/model"
)

func TestBuildTranscriptFormatsEachMessage(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "1", Sender: model.SenderUser, Text: "what is in this image?", ImageRef: "data:image/png;base64,AA", CreatedAt: ts},
		{ID: "2", Sender: model.SenderAI, Text: "A river delta.", CreatedAt: ts.Add(time.Second)},
	}

	got := BuildTranscript(msgs)
	want := "[2024-03-09 14:05:00] user: what is in this image? [image]\n" +
		"[2024-03-09 14:05:01] ai: A river delta.\n"
	if got != want {
		t.Fatalf("transcript mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildTranscriptEmptyLog(t *testing.T) {
	if got := BuildTranscript(nil); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestBuildTranscriptMarkdownMarksProvisional(t *testing.T) {
	msgs := []model.Message{
		{ID: "local-1", Sender: model.SenderUser, Text: "hello", Provisional: true},
		{ID: "2", Sender: model.SenderAI, Text: "**bold** answer"},
		{ID: "3", Sender: model.SenderAI, Text: "   "},
	}
	out := BuildTranscriptMarkdown(msgs)
	if !strings.Contains(out, "## You (sending)") {
		t.Fatalf("expected provisional marker, got:\n%s", out)
	}
	if !strings.Contains(out, "**bold** answer") {
		t.Fatalf("expected AI markdown to pass through, got:\n%s", out)
	}
	if strings.Count(out, "## Analysis") != 1 {
		t.Fatalf("expected blank AI message to be skipped, got:\n%s", out)
	}
}

func TestExporterWritesIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	e.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	session := model.Session{ID: "abc/123", Name: "Coastline study"}
	msgs := []model.Message{{ID: "1", Sender: model.SenderUser, Text: "hi"}}

	path, err := e.Export(session, msgs, FormatMarkdown)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("unexpected export dir: %s", path)
	}
	if base := filepath.Base(path); base != "Coastline_study-abc_123.md" {
		t.Fatalf("unexpected file name: %s", base)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Coastline study\n") {
		t.Fatalf("unexpected markdown header:\n%s", data)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "txt": FormatText, "MD": FormatMarkdown} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
