package proxy

import (
	"errors"
	"io"
)

// ErrBodyTooLarge is returned by the guarded body reader when the
// streamed size crosses the cap mid-request.
var ErrBodyTooLarge = errors.New("request body exceeds cap")

// guardedBody wraps a request body and fails the stream once more than
// max bytes have been read. Used for chunked or length-unknown requests;
// declared lengths over the cap are rejected before any upstream dial.
type guardedBody struct {
	rc   io.ReadCloser
	max  int64
	read int64
}

func newGuardedBody(rc io.ReadCloser, max int64) *guardedBody {
	return &guardedBody{rc: rc, max: max}
}

func (g *guardedBody) Read(p []byte) (int, error) {
	n, err := g.rc.Read(p)
	g.read += int64(n)
	if g.read > g.max {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (g *guardedBody) Close() error { return g.rc.Close() }

// Exceeded reports whether the cap was crossed.
func (g *guardedBody) Exceeded() bool { return g.read > g.max }
