package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Capture describes one failed page handed to a Capturer.
type Capture struct {
	URL        string    `json:"url"`
	Kind       string    `json:"kind"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	StatusCode int       `json:"statusCode,omitempty"`
	FinalURL   string    `json:"finalUrl,omitempty"`
	At         time.Time `json:"at"`

	// Content is written next to the metadata, not inside it.
	Content []byte `json:"-"`
}

// Capturer records diagnostics for pages that did not classify OK.
type Capturer interface {
	Capture(ctx context.Context, c Capture) error
}

// FileCapturer writes each capture as <name>.json plus <name>.html in a directory.
type FileCapturer struct {
	dir string
}

// NewFileCapturer creates a capturer writing into dir.
// The directory is created on first use.
func NewFileCapturer(dir string) *FileCapturer {
	return &FileCapturer{dir: dir}
}

// Dir returns the capture directory.
func (c *FileCapturer) Dir() string {
	return c.dir
}

// Capture implements Capturer.
func (c *FileCapturer) Capture(_ context.Context, capture Capture) error {
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}
	if capture.At.IsZero() {
		capture.At = time.Now().UTC()
	}

	sum := sha256.Sum256([]byte(capture.URL))
	name := fmt.Sprintf("%s-%s-%d-%s",
		capture.At.Format("20060102T150405"),
		capture.Kind,
		capture.Attempt,
		hex.EncodeToString(sum[:6]),
	)

	meta, err := json.MarshalIndent(capture, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, name+".json"), meta, 0o600); err != nil {
		return fmt.Errorf("failed to write capture metadata: %w", err)
	}
	if len(capture.Content) > 0 {
		if err := os.WriteFile(filepath.Join(c.dir, name+".html"), capture.Content, 0o600); err != nil {
			return fmt.Errorf("failed to write capture content: %w", err)
		}
	}
	return nil
}
