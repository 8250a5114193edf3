// Package extract invokes the external metadata extraction tool and parses
// its output into a metadata.Document.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/metadata"
)

// Extraction failure taxonomy. Tool-not-found is a configuration problem and
// checked at startup; the other two are per-request.
var (
	ErrToolNotFound    = eris.New("extract: exiftool binary not found")
	ErrExtractFailed   = eris.New("extract: exiftool exited with an error")
	ErrMalformedOutput = eris.New("extract: exiftool produced malformed output")
)

// Extractor produces a metadata document for a file path.
type Extractor interface {
	Extract(ctx context.Context, path string) (metadata.Document, error)
}

// Exiftool runs the exiftool CLI with JSON output.
type Exiftool struct {
	binPath string
	timeout time.Duration
}

// NewExiftool creates an Exiftool extractor. If binPath is empty, "exiftool"
// is resolved from PATH. A positive timeout bounds each invocation; zero
// leaves only the caller's context in charge.
func NewExiftool(binPath string, timeout time.Duration) *Exiftool {
	if binPath == "" {
		binPath = "exiftool"
	}
	return &Exiftool{binPath: binPath, timeout: timeout}
}

// CheckAvailable verifies the binary can be resolved. Called once at startup
// so a missing tool fails the process instead of every request.
func (e *Exiftool) CheckAvailable() error {
	if _, err := exec.LookPath(e.binPath); err != nil {
		return eris.Wrapf(ErrToolNotFound, "%s", e.binPath)
	}
	return nil
}

// Extract runs `exiftool -json <path>` and parses the one-element JSON array
// it emits. An empty array yields an empty document, not an error.
func (e *Exiftool) Extract(ctx context.Context, path string) (metadata.Document, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, e.binPath, "-json", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, eris.Wrapf(ErrToolNotFound, "%s", e.binPath)
		}
		zap.L().Warn("extract: exiftool failed",
			zap.String("path", path),
			zap.String("stderr", stderr.String()),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrExtractFailed, "%s", stderr.String())
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(stdout.Bytes(), &docs); err != nil {
		return nil, eris.Wrapf(ErrMalformedOutput, "%v", err)
	}
	if len(docs) == 0 {
		return metadata.Document{}, nil
	}

	doc, err := metadata.ParseDocument(docs[0])
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedOutput, "%v", err)
	}
	return doc, nil
}
