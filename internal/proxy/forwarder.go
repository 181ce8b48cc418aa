// Package proxy implements the request-forwarding and listener-lifecycle
// machinery that sits on top of internal/grpcweb and internal/metrics:
// a per-request Forwarder, a per-connection Handler that dispatches to it,
// and the ProxyInstance/ProxySupervisor pair that gives the whole thing
// hot-reloadable listener semantics.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/mickamy/grpcwebproxyd/internal/grpcweb"
	"github.com/mickamy/grpcwebproxyd/internal/metrics"
)

// metricsPath is the reserved path the Forwarder short-circuits instead of
// forwarding upstream.
const metricsPath = "/metrics"

// Forwarder turns one inbound request into one upstream HTTP/2 round trip,
// rewriting headers and body per internal/grpcweb's classification and
// recording metrics unconditionally on the way out.
type Forwarder struct {
	targetAuthority string
	metrics         *metrics.Metrics
	transport       *http2.Transport
}

// NewForwarder builds a Forwarder that forwards to targetAuthority
// (host:port) over plaintext HTTP/2 prior-knowledge, sharing a single
// *http2.Transport across every forward so repeated requests to the same
// authority reuse one underlying connection rather than opening one per
// call (see SPEC_FULL.md §9).
func NewForwarder(targetAuthority string, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		targetAuthority: targetAuthority,
		metrics:         m,
		transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		},
	}
}

// ServeHTTP implements http.Handler so a Forwarder can be dropped directly
// into an http.Server (see Handler, which wraps it for h2c negotiation).
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == metricsPath {
		f.metrics.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	method, path := r.Method, r.URL.Path
	id := uuid.New().String()
	defer func() { f.metrics.Observe(method, path, time.Since(start)) }()

	if err := f.forward(w, r, id); err != nil {
		log.Printf("forward %s %s %s: %v", id, method, path, err)
		status := http.StatusBadGateway
		if isClassifyError(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
	}
}

type classifyError struct{ ct string }

func (e *classifyError) Error() string {
	return fmt.Sprintf("unclassifiable content-type %q", e.ct)
}

func isClassifyError(err error) bool {
	_, ok := err.(*classifyError)
	return ok
}

// forward performs steps 3-8 of SPEC_FULL.md §4.3: classify, rewrite,
// round-trip to the upstream, rewrite the response, and stream it back.
// Metrics (step 9) are recorded by the caller unconditionally, whether
// forward returns an error or not.
func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, id string) error {
	kind, ok := grpcweb.FromContentType(r.Header.Get("Content-Type"))
	if !ok {
		return &classifyError{ct: r.Header.Get("Content-Type")}
	}

	r.Host = f.targetAuthority
	r.URL.Scheme = "http"
	r.URL.Host = f.targetAuthority

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		return fmt.Errorf("forward %s: build request: %w", id, err)
	}
	// NewRequestWithContext can't infer the length of an arbitrary
	// io.ReadCloser like r.Body, so it leaves ContentLength at zero and the
	// transport streams the body with no declared length. Plain requests
	// carry the inbound length over; Web requests keep it undeclared, since
	// their rewrite drops Content-Length.
	if kind != grpcweb.Web {
		outReq.ContentLength = r.ContentLength
	}
	outReq.Header = r.Header.Clone()
	outReq.Host = f.targetAuthority
	kind.RewriteRequest(outReq.Header)

	resp, err := f.transport.RoundTrip(outReq)
	if err != nil {
		return fmt.Errorf("forward %s: roundtrip: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", kind.ResponseContentType(resp.Header.Get("Content-Type")))
	w.WriteHeader(resp.StatusCode)

	body := kind.RewriteResponseBody(resp.Body, func() http.Header { return resp.Trailer })

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("forward %s: write response: %w", id, werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("forward %s: read upstream: %w", id, readErr)
		}
	}

	// Plain gRPC clients read the status out of real HTTP/2 trailers, so
	// the upstream's trailers are re-emitted as the client response's own
	// trailers (net/http's TrailerPrefix convention needs no pre-announce).
	// Web already folded them into the body as a terminal frame (§4.2) —
	// re-emitting them here too would be redundant and is not forwarded.
	if kind != grpcweb.Web {
		for k, vs := range resp.Trailer {
			for _, v := range vs {
				w.Header().Add(http.TrailerPrefix+k, v)
			}
		}
	}
	return nil
}
