package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bamsammich/vigil/internal/record"
)

const sqliteSchema = `
	CREATE TABLE entries (
		path    TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	);
	CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

func sqliteDSN(p string) string {
	return p + "?_pragma=busy_timeout(5000)"
}

// sqliteWriter inserts every record in one transaction into a temporary
// database that is renamed into place on Close.
type sqliteWriter struct {
	db    *sql.DB
	tx    *sql.Tx
	stmt  *sql.Stmt
	path  string
	tmp   string
	scr   []byte
	count int64
}

func createSQLite(p string) (*sqliteWriter, error) {
	tmp := tempPath(p)
	db, err := sql.Open("sqlite", sqliteDSN(tmp))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	w := &sqliteWriter{db: db, path: p, tmp: tmp}

	if _, err := db.Exec(sqliteSchema); err != nil {
		w.Abort()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if w.tx, err = db.Begin(); err != nil {
		w.Abort()
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if w.stmt, err = w.tx.Prepare("INSERT INTO entries (path, payload) VALUES (?, ?)"); err != nil {
		w.Abort()
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return w, nil
}

func (w *sqliteWriter) Write(rec *record.Record) error {
	w.scr = AppendRecord(w.scr[:0], rec)
	if _, err := w.stmt.Exec(rec.Path, w.scr); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Path, err)
	}
	w.count++
	return nil
}

func (w *sqliteWriter) Close() error {
	w.stmt.Close()
	_, err := w.tx.Exec("INSERT INTO meta (key, value) VALUES ('format', ?), ('version', ?), ('created', ?), ('count', ?)",
		formatName, strconv.Itoa(FormatVersion), strconv.FormatInt(time.Now().UnixNano(), 10), strconv.FormatInt(w.count, 10))
	if err != nil {
		w.Abort()
		return fmt.Errorf("store meta: %w", err)
	}
	if err := w.tx.Commit(); err != nil {
		w.Abort()
		return fmt.Errorf("commit: %w", err)
	}
	w.tx = nil
	if err := w.db.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close database: %w", err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("rename database into place: %w", err)
	}
	return nil
}

func (w *sqliteWriter) Abort() error {
	if w.tx != nil {
		w.tx.Rollback()
	}
	w.db.Close()
	for _, suffix := range []string{"", "-journal"} {
		if err := os.Remove(w.tmp + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

type sqliteReader struct {
	db     *sql.DB
	rows   *sql.Rows
	header Header
	count  int64
	read   int64
}

func openSQLite(p string) (*sqliteReader, error) {
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(p))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r := &sqliteReader{db: db}
	if err := r.readMeta(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	if r.rows, err = db.Query("SELECT payload FROM entries ORDER BY path"); err != nil {
		db.Close()
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return r, nil
}

func (r *sqliteReader) readMeta() error {
	rows, err := r.db.Query("SELECT key, value FROM meta")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrBadHeader, err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	if meta["format"] != formatName {
		return fmt.Errorf("%w: format %q", ErrBadHeader, meta["format"])
	}
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

func (r *sqliteReader) Header() Header { return r.header }

func (r *sqliteReader) Next(ctx context.Context) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, fmt.Errorf("read entries: %w", err)
		}
		if r.read != r.count {
			return nil, fmt.Errorf("%w: meta counts %d records, read %d", ErrChecksum, r.count, r.read)
		}
		return nil, io.EOF
	}
	var payload []byte
	if err := r.rows.Scan(&payload); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	rec, _, err := DecodeRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", r.read+1, err)
	}
	r.read++
	return rec, nil
}

func (r *sqliteReader) Close() error {
	if r.rows != nil {
		r.rows.Close()
	}
	return r.db.Close()
}
