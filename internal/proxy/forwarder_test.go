package proxy_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mickamy/grpcwebproxyd/internal/grpcweb"
	"github.com/mickamy/grpcwebproxyd/internal/metrics"
	"github.com/mickamy/grpcwebproxyd/internal/proxy"
)

// grpcFrame builds a length-prefixed, uncompressed gRPC data frame.
func grpcFrame(payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)
	return frame
}

// newUpstream starts a prior-knowledge h2c server that answers every
// request with a fixed reply frame and a Grpc-Status: 0 trailer, mimicking
// a unary gRPC responder.
func newUpstream(t *testing.T, reply []byte) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("Trailer", "Grpc-Status")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(grpcFrame(reply))
		w.Header().Set("Grpc-Status", "0")
	})

	return httptest.NewServer(h2c.NewHandler(handler, &http2.Server{}))
}

func authorityOf(t *testing.T, rawURL string) string {
	t.Helper()
	u := strings.TrimPrefix(rawURL, "http://")
	return u
}

func TestForwarder_PlainGRPCPassesThrough(t *testing.T) {
	t.Parallel()

	reply := []byte("hello alice")
	upstream := newUpstream(t, reply)
	defer upstream.Close()

	m := metrics.New()
	f := proxy.NewForwarder(authorityOf(t, upstream.URL), m)
	front := httptest.NewServer(proxy.NewHandler(f))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/helloworld.Greeter/SayHello", bytes.NewReader(grpcFrame([]byte("alice"))))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/grpc")

	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Contains(body, reply) {
		t.Errorf("response body %q does not contain upstream reply %q", body, reply)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/grpc" {
		t.Errorf("Content-Type = %q, want application/grpc (unchanged)", ct)
	}
	if got := resp.Trailer.Get("Grpc-Status"); got != "0" {
		t.Errorf("Grpc-Status trailer = %q, want 0 (native gRPC clients read status from real trailers)", got)
	}
}

func TestForwarder_GRPCWebRewritesRequestAndResponse(t *testing.T) {
	t.Parallel()

	reply := []byte("hello alice")
	upstream := newUpstream(t, reply)
	defer upstream.Close()

	m := metrics.New()
	f := proxy.NewForwarder(authorityOf(t, upstream.URL), m)
	front := httptest.NewServer(proxy.NewHandler(f))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/helloworld.Greeter/SayHello", bytes.NewReader(grpcFrame([]byte("alice"))))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/grpc-web")

	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "application/grpc-web+proto" {
		t.Fatalf("Content-Type = %q, want application/grpc-web+proto", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	dataFrame := grpcFrame(reply)
	if !bytes.HasPrefix(body, dataFrame) {
		t.Fatalf("response does not start with the expected data frame: %v", body)
	}
	trailer := body[len(dataFrame):]
	decoded, ok := grpcweb.DecodeTrailerFrame(trailer)
	if !ok {
		t.Fatalf("bytes after the data frame are not a valid terminal frame: %v", trailer)
	}
	if decoded.Get("Grpc-Status") != "0" {
		t.Errorf("decoded grpc-status = %q, want 0", decoded.Get("Grpc-Status"))
	}
}

func TestForwarder_RejectsUnclassifiableContentType(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, []byte("unused"))
	defer upstream.Close()

	m := metrics.New()
	f := proxy.NewForwarder(authorityOf(t, upstream.URL), m)
	front := httptest.NewServer(proxy.NewHandler(f))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/helloworld.Greeter/SayHello", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestForwarder_MetricsEndpointShortCircuitsUpstream(t *testing.T) {
	t.Parallel()

	reply := []byte("hello alice")
	upstream := newUpstream(t, reply)
	defer upstream.Close()

	m := metrics.New()
	f := proxy.NewForwarder(authorityOf(t, upstream.URL), m)
	front := httptest.NewServer(proxy.NewHandler(f))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/helloworld.Greeter/SayHello", bytes.NewReader(grpcFrame([]byte("alice"))))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/grpc")
	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	metricsResp, err := front.Client().Get(front.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get /metrics: %v", err)
	}
	defer func() { _ = metricsResp.Body.Close() }()

	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", metricsResp.StatusCode)
	}
	body, err := io.ReadAll(metricsResp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(body), `path="/helloworld.Greeter/SayHello"`) {
		t.Errorf("/metrics missing label for forwarded path:\n%s", body)
	}
}

func TestForwarder_RecordsMetricsOnFailure(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	// Nothing listens on this authority, so every round trip fails.
	f := proxy.NewForwarder("127.0.0.1:1", m)
	front := httptest.NewServer(proxy.NewHandler(f))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/broken", bytes.NewReader(grpcFrame([]byte("x"))))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/grpc")

	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	metricsResp, err := front.Client().Get(front.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get /metrics: %v", err)
	}
	defer func() { _ = metricsResp.Body.Close() }()
	body, _ := io.ReadAll(metricsResp.Body)
	if !strings.Contains(string(body), `path="/broken"`) {
		t.Errorf("failed forward was not recorded in metrics:\n%s", body)
	}
}
