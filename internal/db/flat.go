package db

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/tinylib/msgp/msgp"
	"github.com/zeebo/blake3"

	"github.com/bamsammich/vigil/internal/record"
)

const (
	keyFormat  = "format"
	keyVersion = "version"
	keyCreated = "created"
	keyEnd     = "end"
	keyCount   = "count"
	keySum     = "blake3"
)

// flatWriter streams zstd-compressed MessagePack: a header map, one map
// per record, then a trailer map holding the record count and the BLAKE3
// sum of every record object.
type flatWriter struct {
	f     *os.File
	buf   *bufio.Writer
	enc   *zstd.Encoder
	sum   *blake3.Hasher
	path  string
	tmp   string
	scr   []byte
	count uint64
}

func createFlat(p string) (*flatWriter, error) {
	tmp := tempPath(p)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}
	buf := bufio.NewWriterSize(f, 256*1024)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	w := &flatWriter{f: f, buf: buf, enc: enc, sum: blake3.New(), path: p, tmp: tmp}

	hdr := msgp.AppendMapHeader(nil, 3)
	hdr = msgp.AppendString(hdr, keyFormat)
	hdr = msgp.AppendString(hdr, formatName)
	hdr = msgp.AppendString(hdr, keyVersion)
	hdr = msgp.AppendInt(hdr, FormatVersion)
	hdr = msgp.AppendString(hdr, keyCreated)
	hdr = msgp.AppendInt64(hdr, time.Now().UnixNano())
	if _, err := enc.Write(hdr); err != nil {
		w.Abort()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

func (w *flatWriter) Write(rec *record.Record) error {
	w.scr = AppendRecord(w.scr[:0], rec)
	w.sum.Write(w.scr)
	if _, err := w.enc.Write(w.scr); err != nil {
		return fmt.Errorf("write %s: %w", rec.Path, err)
	}
	w.count++
	return nil
}

func (w *flatWriter) Close() error {
	tr := msgp.AppendMapHeader(nil, 3)
	tr = msgp.AppendString(tr, keyEnd)
	tr = msgp.AppendBool(tr, true)
	tr = msgp.AppendString(tr, keyCount)
	tr = msgp.AppendUint64(tr, w.count)
	tr = msgp.AppendString(tr, keySum)
	tr = msgp.AppendBytes(tr, w.sum.Sum(nil))
	if _, err := w.enc.Write(tr); err != nil {
		w.Abort()
		return fmt.Errorf("write trailer: %w", err)
	}
	if err := w.enc.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("flush compressor: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("flush database: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync database: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close database: %w", err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("rename database into place: %w", err)
	}
	return nil
}

func (w *flatWriter) Abort() error {
	w.enc.Close()
	w.f.Close()
	if err := os.Remove(w.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type flatReader struct {
	f      *os.File
	dec    *zstd.Decoder
	r      *msgp.Reader
	sum    *blake3.Hasher
	raw    msgp.Raw
	header Header
	count  uint64
	done   bool
}

func openFlat(p string) (*flatReader, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dec, err := zstd.NewReader(bufio.NewReaderSize(f, 256*1024), zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %w", p, ErrBadHeader, err)
	}
	r := &flatReader{f: f, dec: dec, r: msgp.NewReader(dec), sum: blake3.New()}
	if err := r.readHeader(); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return r, nil
}

func (r *flatReader) readHeader() error {
	if err := r.raw.DecodeMsg(r.r); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	var format string
	b := []byte(r.raw)
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	for range n {
		var key []byte
		if key, b, err = msgp.ReadMapKeyZC(b); err != nil {
			return fmt.Errorf("%w: %w", ErrBadHeader, err)
		}
		switch string(key) {
		case keyFormat:
			format, b, err = msgp.ReadStringBytes(b)
		case keyVersion:
			r.header.Version, b, err = msgp.ReadIntBytes(b)
		case keyCreated:
			var ns int64
			ns, b, err = msgp.ReadInt64Bytes(b)
			r.header.Created = time.Unix(0, ns)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadHeader, err)
		}
	}
	if format != formatName {
		return fmt.Errorf("%w: format %q", ErrBadHeader, format)
	}
	if r.header.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadHeader, r.header.Version)
	}
	return nil
}

func (r *flatReader) Header() Header { return r.header }

func (r *flatReader) Next(ctx context.Context) (*record.Record, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.raw.DecodeMsg(r.r); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("read record %d: %w", r.count+1, err)
	}
	if isTrailer(r.raw) {
		r.done = true
		return nil, r.checkTrailer()
	}
	r.sum.Write(r.raw)
	rec, _, err := DecodeRecord(r.raw)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.count+1, err)
	}
	r.count++
	return rec, nil
}

func isTrailer(b []byte) bool {
	_, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return false
	}
	key, _, err := msgp.ReadMapKeyZC(b)
	return err == nil && string(key) == keyEnd
}

// checkTrailer returns io.EOF when the trailer matches what was read.
func (r *flatReader) checkTrailer() error {
	var count uint64
	var sum []byte
	n, b, err := msgp.ReadMapHeaderBytes(r.raw)
	if err != nil {
		return fmt.Errorf("trailer: %w", err)
	}
	for range n {
		var key []byte
		if key, b, err = msgp.ReadMapKeyZC(b); err != nil {
			return fmt.Errorf("trailer: %w", err)
		}
		switch string(key) {
		case keyCount:
			count, b, err = msgp.ReadUint64Bytes(b)
		case keySum:
			sum, b, err = msgp.ReadBytesBytes(b, nil)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return fmt.Errorf("trailer: %w", err)
		}
	}
	if count != r.count {
		return fmt.Errorf("%w: trailer counts %d records, read %d", ErrChecksum, count, r.count)
	}
	if !bytes.Equal(sum, r.sum.Sum(nil)) {
		return fmt.Errorf("%w: record digest differs", ErrChecksum)
	}
	return io.EOF
}

func (r *flatReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
