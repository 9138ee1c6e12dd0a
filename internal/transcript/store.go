// Package transcript keeps call transcripts as plain text files named
// <call_id>.txt under one directory.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loanlens/internal/models"
)

// Ext is the extension of transcript files.
const Ext = ".txt"

var ErrInvalidCallID = errors.New("call id is not usable as a file name")

type Store struct {
	dir         string
	concurrency int
	logger      *zap.Logger
}

// NewStore returns a store rooted at dir. concurrency bounds LoadAll; values
// below 1 mean one file at a time.
func NewStore(dir string, concurrency int, logger *zap.Logger) *Store {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Store{dir: dir, concurrency: concurrency, logger: logger}
}

func (s *Store) Dir() string { return s.dir }

// PathFor returns the file path used for callID.
func (s *Store) PathFor(callID string) (string, error) {
	if callID == "" || callID == "." || callID == ".." || strings.ContainsAny(callID, `/\`) {
		return "", ErrInvalidCallID
	}
	return filepath.Join(s.dir, callID+Ext), nil
}

// CallIDFromPath is the inverse of PathFor. ok is false for files that are
// not transcripts.
func CallIDFromPath(path string) (callID string, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) || strings.HasPrefix(base, ".") {
		return "", false
	}
	callID = strings.TrimSuffix(base, Ext)
	return callID, callID != ""
}

// Load reads one transcript. Relative paths resolve against the store
// directory.
func (s *Store) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) && s.dir != "" {
		path = filepath.Join(s.dir, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	return string(b), nil
}

// Save writes text for callID and returns the file path. The file is
// replaced atomically.
func (s *Store) Save(callID, text string) (string, error) {
	path, err := s.PathFor(callID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create transcript dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+callID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store transcript: %w", err)
	}

	s.logger.Debug("Transcript saved", zap.String("call_id", callID), zap.String("path", path))
	return path, nil
}

// LoadAll fills Transcript on every call that has a transcript path. A
// missing file leaves the call without text, so consumers fall back to the
// summary; any other read error aborts the whole load.
func (s *Store) LoadAll(ctx context.Context, calls []models.Call) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range calls {
		if calls[i].TranscriptPath == "" || calls[i].Transcript != "" {
			continue
		}
		g.Go(func() error {
			text, err := s.Load(gctx, calls[i].TranscriptPath)
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Transcript file missing",
					zap.String("call_id", calls[i].CallID), zap.String("path", calls[i].TranscriptPath))
				return nil
			}
			if err != nil {
				return err
			}
			calls[i].Transcript = text
			return nil
		})
	}
	return g.Wait()
}

// List returns the call ids of every transcript file in the directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := CallIDFromPath(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
