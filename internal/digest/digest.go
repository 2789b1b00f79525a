// Package digest computes file content digests in a single read pass.
package digest

import (
	"context"
	"crypto/md5"  //nolint:gosec // integrity baseline, not a security boundary
	"crypto/sha1" //nolint:gosec // same
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/bamsammich/vigil/internal/attr"
)

const bufSize = 32 * 1024

// New returns a fresh hash for a digest attribute, or nil when a is not a
// digest.
func New(a attr.Attr) hash.Hash {
	switch a {
	case attr.MD5:
		return md5.New() //nolint:gosec // see import
	case attr.SHA1:
		return sha1.New() //nolint:gosec // see import
	case attr.SHA256:
		return sha256.New()
	case attr.SHA512:
		return sha512.New()
	case attr.BLAKE3:
		return blake3.New()
	case attr.XXH64:
		return xxhash.New()
	default:
		return nil
	}
}

// Size returns the length in bytes of the digest a produces, or 0.
func Size(a attr.Attr) int {
	switch a {
	case attr.MD5:
		return md5.Size
	case attr.SHA1:
		return sha1.Size
	case attr.SHA256:
		return sha256.Size
	case attr.SHA512:
		return sha512.Size
	case attr.BLAKE3:
		return 32
	case attr.XXH64:
		return 8
	default:
		return 0
	}
}

// Provider hashes files, optionally throttled to an aggregate read rate
// shared by every caller.
type Provider struct {
	limiter *rate.Limiter
}

// NewProvider returns a Provider. bytesPerSec <= 0 disables throttling.
func NewProvider(bytesPerSec int64) *Provider {
	p := &Provider{}
	if bytesPerSec > 0 {
		p.limiter = newBWLimiter(bytesPerSec)
	}
	return p
}

// Compute reads path once and returns every digest in want. Attributes in
// want that are not digests are ignored. An empty want opens nothing.
func (p *Provider) Compute(ctx context.Context, path string, want attr.Set) (map[attr.Attr][]byte, error) {
	want = want.Intersect(attr.Digests)
	if want.Empty() {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sums, err := p.Sum(ctx, f, want)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return sums, nil
}

// Sum is Compute over an arbitrary reader.
func (p *Provider) Sum(ctx context.Context, r io.Reader, want attr.Set) (map[attr.Attr][]byte, error) {
	hashes := make(map[attr.Attr]hash.Hash)
	writers := make([]io.Writer, 0, want.Len())
	for _, a := range want.Intersect(attr.Digests).Attrs() {
		h := New(a)
		hashes[a] = h
		writers = append(writers, h)
	}
	if len(writers) == 0 {
		return nil, nil
	}

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if p != nil && p.limiter != nil {
		src = &rateLimitedReader{ctx: ctx, r: src, limiter: p.limiter}
	}
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), src, buf); err != nil {
		return nil, err
	}

	sums := make(map[attr.Attr][]byte, len(hashes))
	for a, h := range hashes {
		sums[a] = h.Sum(nil)
	}
	return sums, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
