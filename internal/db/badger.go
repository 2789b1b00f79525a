package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/bamsammich/vigil/internal/record"
)

// Key layout: entries live under entryPrefix+path so that iteration yields
// them in path order; header fields live under metaPrefix.
var (
	entryPrefix = []byte("entry/")
	metaPrefix  = []byte("meta/")
)

func badgerOptions(dir string) badger.Options {
	return badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20)
}

func entryKey(p string) []byte {
	return append(append([]byte(nil), entryPrefix...), p...)
}

func metaKey(name string) []byte {
	return append(append([]byte(nil), metaPrefix...), name...)
}

// badgerWriter fills a fresh badger directory that replaces the target
// directory on Close.
type badgerWriter struct {
	db    *badger.DB
	txn   *badger.Txn
	path  string
	tmp   string
	count int64
}

func createBadger(p string) (*badgerWriter, error) {
	tmp := tempPath(p)
	db, err := badger.Open(badgerOptions(tmp))
	if err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &badgerWriter{db: db, txn: db.NewTransaction(true), path: p, tmp: tmp}, nil
}

// set stores one key, committing and restarting the transaction when it
// grows past badger's size limit.
func (w *badgerWriter) set(key, val []byte) error {
	err := w.txn.Set(key, val)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := w.txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.txn = w.db.NewTransaction(true)
	return w.txn.Set(key, val)
}

func (w *badgerWriter) Write(rec *record.Record) error {
	if err := w.set(entryKey(rec.Path), AppendRecord(nil, rec)); err != nil {
		return fmt.Errorf("store %s: %w", rec.Path, err)
	}
	w.count++
	return nil
}

func (w *badgerWriter) Close() error {
	meta := map[string]string{
		"format":  formatName,
		"version": strconv.Itoa(FormatVersion),
		"created": strconv.FormatInt(time.Now().UnixNano(), 10),
		"count":   strconv.FormatInt(w.count, 10),
	}
	for k, v := range meta {
		if err := w.set(metaKey(k), []byte(v)); err != nil {
			w.Abort()
			return fmt.Errorf("store meta: %w", err)
		}
	}
	if err := w.txn.Commit(); err != nil {
		w.Abort()
		return fmt.Errorf("commit: %w", err)
	}
	w.txn = nil
	if err := w.db.Close(); err != nil {
		os.RemoveAll(w.tmp)
		return fmt.Errorf("close database: %w", err)
	}
	if err := replaceDir(w.tmp, w.path); err != nil {
		os.RemoveAll(w.tmp)
		return fmt.Errorf("rename database into place: %w", err)
	}
	return nil
}

func (w *badgerWriter) Abort() error {
	if w.txn != nil {
		w.txn.Discard()
		w.txn = nil
	}
	w.db.Close()
	return os.RemoveAll(w.tmp)
}

// replaceDir moves dir to target. An existing target is moved aside first
// and removed once the new directory is in place.
func replaceDir(dir, target string) error {
	old := tempPath(target)
	if err := os.Rename(target, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return os.Rename(dir, target)
	}
	if err := os.Rename(dir, target); err != nil {
		os.Rename(old, target)
		return err
	}
	return os.RemoveAll(old)
}

type badgerReader struct {
	db     *badger.DB
	txn    *badger.Txn
	it     *badger.Iterator
	header Header
	count  int64
	read   int64
}

func openBadger(p string) (*badgerReader, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w: not a directory", p, ErrBadHeader)
	}
	db, err := badger.Open(badgerOptions(p).WithReadOnly(true))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r := &badgerReader{db: db, txn: db.NewTransaction(false)}
	if err := r.readMeta(); err != nil {
		r.txn.Discard()
		db.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entryPrefix
	r.it = r.txn.NewIterator(opts)
	r.it.Seek(entryPrefix)
	return r, nil
}

func (r *badgerReader) metaValue(name string) (string, error) {
	item, err := r.txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: missing %s", ErrBadHeader, name)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	return string(val), nil
}

func (r *badgerReader) readMeta() error {
	meta := make(map[string]string, 4)
	for _, k := range []string{"format", "version", "created", "count"} {
		v, err := r.metaValue(k)
		if err != nil {
			return err
		}
		meta[k] = v
	}

	if meta["format"] != formatName {
		return fmt.Errorf("%w: format %q", ErrBadHeader, meta["format"])
	}
	var err error
	if r.header.Version, err = strconv.Atoi(meta["version"]); err != nil || r.header.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrBadHeader, meta["version"])
	}
	if ns, err := strconv.ParseInt(meta["created"], 10, 64); err == nil {
		r.header.Created = time.Unix(0, ns)
	}
	if r.count, err = strconv.ParseInt(meta["count"], 10, 64); err != nil {
		return fmt.Errorf("%w: bad count %q", ErrBadHeader, meta["count"])
	}
	return nil
}

func (r *badgerReader) Header() Header { return r.header }

func (r *badgerReader) Next(ctx context.Context) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.it.ValidForPrefix(entryPrefix) {
		if r.read != r.count {
			return nil, fmt.Errorf("%w: meta counts %d records, read %d", ErrChecksum, r.count, r.read)
		}
		return nil, io.EOF
	}
	item := r.it.Item()
	payload, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", item.Key()[len(entryPrefix):], err)
	}
	r.it.Next()
	rec, _, err := DecodeRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", r.read+1, err)
	}
	r.read++
	return rec, nil
}

func (r *badgerReader) Close() error {
	if r.it != nil {
		r.it.Close()
	}
	r.txn.Discard()
	return r.db.Close()
}
