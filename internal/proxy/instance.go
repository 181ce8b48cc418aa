package proxy

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
)

// Instance is one bound accept loop: a listener, the http.Server serving
// it, a one-shot shutdown signal, and a move-once handle to the accept
// goroutine so the supervisor can await its drain exactly once.
//
// State machine (SPEC_FULL.md §4.7):
//
//	BOUND --start--> ACCEPTING --shutdown--> DRAINING --accept loop exits--> DRAINED
type Instance struct {
	listenAddress string
	server        *http.Server
	listener      net.Listener
	shutdown      chan struct{}
	done          chan error
}

// NewInstance binds listenAddress and constructs an Instance serving
// handler on it. The accept loop is not started until Start is called.
func NewInstance(listenAddress string, handler http.Handler) (*Instance, error) {
	lis, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, fmt.Errorf("proxy: bind %s: %w", listenAddress, err)
	}

	return &Instance{
		listenAddress: listenAddress,
		server:        &http.Server{Handler: handler},
		listener:      lis,
		shutdown:      make(chan struct{}),
		done:          make(chan error, 1),
	}, nil
}

// ListenAddress returns the bound host:port.
func (i *Instance) ListenAddress() string {
	return i.listenAddress
}

// Start spawns the accept loop goroutine (BOUND -> ACCEPTING). It must be
// called exactly once.
func (i *Instance) Start() {
	go func() {
		err := i.server.Serve(i.listener)
		// Shutdown closes the listener directly, so a clean stop surfaces
		// from Serve as net.ErrClosed rather than http.ErrServerClosed.
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			i.done <- fmt.Errorf("proxy: serve %s: %w", i.listenAddress, err)
			return
		}
		i.done <- nil
	}()
}

// Shutdown signals the accept loop to stop accepting new connections
// (ACCEPTING -> DRAINING). It closes the underlying listener, which is
// what makes Serve's Accept loop return and frees the socket; it does not
// touch already-accepted connections, which keep running to completion on
// their own goroutines independent of this call. Safe to call once.
func (i *Instance) Shutdown() {
	select {
	case <-i.shutdown:
		return
	default:
		close(i.shutdown)
	}
	log.Printf("proxy: %s: stop receiving requests", i.listenAddress)
	_ = i.listener.Close()
}

// Drain blocks until the accept loop has exited (DRAINING -> DRAINED),
// returning any error the accept loop observed. It reads the move-once
// done channel exactly once; calling it more than once would block
// forever on an empty, already-drained channel, so the supervisor calls
// it from exactly one background goroutine per Instance.
func (i *Instance) Drain() error {
	return <-i.done
}
