// Package db stores baselines: one record per tracked entry, in path
// order, in a compressed flat file, an SQLite database or a badger
// directory.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/vigil/internal/record"
)

// FormatVersion is written into every database header.
const FormatVersion = 1

const formatName = "vigil-db"

var (
	// ErrBadHeader is returned when a file is not a database this
	// version understands.
	ErrBadHeader = errors.New("not a vigil database")
	// ErrTruncated is returned when a flat database ends before its
	// trailer.
	ErrTruncated = errors.New("database truncated")
	// ErrChecksum is returned when the trailer does not match the
	// records read.
	ErrChecksum = errors.New("database checksum mismatch")
)

// Header describes a stored baseline.
type Header struct {
	Created time.Time
	Version int
}

// Reader yields stored records in the order they were written and
// returns io.EOF after the last one.
type Reader interface {
	Next(ctx context.Context) (*record.Record, error)
	Header() Header
	Close() error
}

// Writer stores records. Nothing is visible at the target location until
// Close succeeds; Abort discards everything written.
type Writer interface {
	Write(rec *record.Record) error
	Close() error
	Abort() error
}

// Backend names a storage format.
type Backend string

const (
	Flat   Backend = "file"
	SQLite Backend = "sqlite"
	Badger Backend = "badger"
)

// ParseURL splits a database location into backend and path. A bare path
// uses the flat backend.
func ParseURL(url string) (Backend, string, error) {
	backend, p := Flat, url
	if scheme, rest, ok := strings.Cut(url, ":"); ok && !strings.Contains(scheme, "/") {
		switch Backend(scheme) {
		case Flat, SQLite, Badger:
			backend, p = Backend(scheme), strings.TrimPrefix(rest, "//")
		default:
			return "", "", fmt.Errorf("database %q: unknown scheme %q", url, scheme)
		}
	}
	if p == "" {
		return "", "", fmt.Errorf("database %q: empty path", url)
	}
	return backend, filepath.Clean(p), nil
}

// Open opens the database at url for reading.
func Open(url string) (Reader, error) {
	backend, p, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	switch backend {
	case SQLite:
		return openSQLite(p)
	case Badger:
		return openBadger(p)
	default:
		return openFlat(p)
	}
}

// Create starts writing a new database at url, replacing any existing one
// on Close.
func Create(url string) (Writer, error) {
	backend, p, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	switch backend {
	case SQLite:
		return createSQLite(p)
	case Badger:
		return createBadger(p)
	default:
		return createFlat(p)
	}
}

// tempPath returns a unique sibling of p for writing before rename.
func tempPath(p string) string {
	return filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+"."+uuid.NewString()+".tmp")
}
