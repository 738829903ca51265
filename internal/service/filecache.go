package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/set-night/memochat/internal/config"
)

var ErrFileTooLarge = errors.New("file too large")

// FileCache keeps uploaded files on disk until they expire.
type FileCache struct {
	dir     string
	ttl     time.Duration
	maxSize int64
	now     func() time.Time
}

func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file cache dir: %w", err)
	}
	return &FileCache{dir: dir, ttl: ttl, maxSize: config.MaxUploadSize, now: time.Now}, nil
}

func (c *FileCache) Dir() string {
	return c.dir
}

// Save stores r under a fresh name that keeps the extension of filename.
func (c *FileCache) Save(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(c.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create cached file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, c.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > c.maxSize {
		err = ErrFileTooLarge
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save file: %w", err)
	}

	slog.Debug("file cached", "name", filename, "path", path, "bytes", n)
	return path, nil
}

// Cleanup removes files older than the cache TTL and returns how many were removed.
func (c *FileCache) Cleanup() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read file cache: %w", err)
	}
	cutoff := c.now().Add(-c.ttl)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			slog.Warn("remove cached file", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
