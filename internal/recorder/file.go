package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voice-intake/internal/domain"
)

// FileSink writes each record as an indented JSON file named
// conversation_<session>_<yyyymmdd_hhmmss>.json.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("recorder: directory must not be empty")
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) Name() string { return "file" }

// FileName returns the name the record is stored under.
func FileName(rec domain.Record) string {
	return fmt.Sprintf("conversation_%s_%s.json", rec.SessionID, rec.EndedAt.UTC().Format("20060102_150405"))
}

// Write creates the file atomically through a temporary file in the same
// directory.
func (f *FileSink) Write(ctx context.Context, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", f.dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".record-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	dst := filepath.Join(f.dir, FileName(rec))
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename to %s: %w", dst, err)
	}
	return nil
}
