package ui

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// maxImageBytes bounds attachments; the backend stores them inline.
const maxImageBytes = 10 << 20

var errNotImage = errors.New("not an image")

// EncodeImage reads the image at path, which may start with ~/, and returns
// it as a data URL.
func EncodeImage(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("attach image: %w", err)
	}
	if st.IsDir() {
		return "", fmt.Errorf("attach image: %s is a directory", path)
	}
	if st.Size() > maxImageBytes {
		return "", fmt.Errorf("attach image: %s is larger than %d MiB", path, maxImageBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("attach image: %w", err)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("attach image: %s is %s: %w", filepath.Base(path), mime.String(), errNotImage)
	}
	return "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
