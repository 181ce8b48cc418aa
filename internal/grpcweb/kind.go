package grpcweb

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Kind is the two-variant classification of an inbound request's wire
// flavor. Unlike the teacher's three-way {gRPC, gRPC-Web, Connect}
// detector, this proxy only ever forwards native gRPC or gRPC-Web traffic
// — anything else fails classification and is rejected.
type Kind int

const (
	// Plain is native gRPC: no request/response rewriting needed beyond
	// what the HTTP/2 transport already does.
	Plain Kind = iota
	// Web is gRPC-Web: the request is unwrapped to look like native gRPC
	// to the upstream, and the response gets its trailers folded into an
	// in-band terminal frame before it reaches the client.
	Web
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "Plain"
	case Web:
		return "Web"
	default:
		return "Unknown"
	}
}

// FromContentType classifies a request's Content-Type header. It reports
// false if ct matches neither the gRPC-Web nor the gRPC prefix, meaning
// the request must be rejected.
func FromContentType(ct string) (Kind, bool) {
	switch {
	case strings.HasPrefix(ct, "application/grpc-web"):
		return Web, true
	case strings.HasPrefix(ct, "application/grpc"):
		return Plain, true
	default:
		return 0, false
	}
}

// RewriteRequest mutates an outbound request's headers in place so the
// upstream — which only ever speaks native gRPC — sees what it expects.
// Plain is a no-op; Web rewrites Content-Type to application/grpc and
// drops Content-Length, since the h2 upstream has no use for it (the
// frame lengths are already carried in the gRPC wire format itself).
func (k Kind) RewriteRequest(h http.Header) {
	if k != Web {
		return
	}
	h.Set("Content-Type", "application/grpc")
	h.Del("Content-Length")
}

// ResponseContentType returns the Content-Type this proxy must present to
// the client for a response of this kind.
func (k Kind) ResponseContentType(upstream string) string {
	if k != Web {
		return upstream
	}
	return "application/grpc-web+proto"
}

// RewriteResponseBody wraps an upstream response body so that, for Web,
// the trailers (read from trailers once the body stream is fully
// drained) are appended as a gRPC-Web terminal frame. For Plain it
// returns body unchanged. trailers is called only once, after body
// returns io.EOF, satisfying the same trailers-after-body-EOF contract
// net/http's Response.Trailer relies on.
func (k Kind) RewriteResponseBody(body io.Reader, trailers func() http.Header) io.Reader {
	if k != Web {
		return body
	}
	return io.MultiReader(body, &lazyTrailerFrame{trailers: trailers})
}

// lazyTrailerFrame is an io.Reader that defers computing its content
// until first read, which io.MultiReader only triggers after the
// preceding reader (the response body) hits EOF.
type lazyTrailerFrame struct {
	trailers func() http.Header
	once     sync.Once
	r        *bytes.Reader
}

func (l *lazyTrailerFrame) Read(p []byte) (int, error) {
	l.once.Do(func() {
		l.r = bytes.NewReader(EncodeTrailerFrame(l.trailers()))
	})
	return l.r.Read(p)
}
