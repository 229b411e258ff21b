package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var ErrToolNotFound = errors.New("clipboard tool not found")

const defaultTimeout = 3 * time.Second

type Command struct {
	Path string
	Args []string
}

// SelectCommand picks the first clipboard writer available on goos.
func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	type candidate struct {
		name string
		args []string
	}
	var candidates []candidate
	switch goos {
	case "darwin":
		candidates = []candidate{{name: "pbcopy"}}
	case "linux", "freebsd", "openbsd":
		candidates = []candidate{
			{name: "wl-copy"},
			{name: "xclip", args: []string{"-selection", "clipboard"}},
			{name: "xsel", args: []string{"--clipboard", "--input"}},
		}
	case "windows":
		candidates = []candidate{{name: "clip.exe"}, {name: "clip"}}
	}
	for _, c := range candidates {
		if path, err := lookPath(c.name); err == nil {
			return Command{Path: path, Args: c.args}, nil
		}
	}
	return Command{}, fmt.Errorf("%w on %s", ErrToolNotFound, goos)
}

// System writes to the desktop clipboard through an external tool.
type System struct {
	Timeout  time.Duration
	goos     string
	lookPath func(string) (string, error)
}

func NewSystem() *System {
	return &System{Timeout: defaultTimeout, goos: runtime.GOOS, lookPath: exec.LookPath}
}

func (s *System) Copy(text string) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmdDef, err := SelectCommand(s.goos, s.lookPath)
	if err != nil {
		return err
	}
	return run(ctx, cmdDef, text)
}

func run(ctx context.Context, cmdDef Command, text string) error {
	cmd := exec.CommandContext(ctx, cmdDef.Path, cmdDef.Args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("clipboard command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}

// Memory keeps the last copied text. Headless commands use it where no
// desktop clipboard exists.
type Memory struct {
	Last string
	Err  error
}

func (m *Memory) Copy(text string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Last = text
	return nil
}
