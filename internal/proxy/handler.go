package proxy

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewHandler wraps a Forwarder so a single net/http server can serve both
// HTTP/1.1 and HTTP/2 (h2c, cleartext prior-knowledge) on the same
// listener — the gRPC-Web side of this proxy is commonly h1, native gRPC
// clients dial h2 directly (see SPEC_FULL.md §4.6).
func NewHandler(f *Forwarder) http.Handler {
	return h2c.NewHandler(f, &http2.Server{})
}
