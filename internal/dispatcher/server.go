// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatcher

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pires/go-proxyproto"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/logging"
	"grimm.is/relaygate/internal/services"
)

// Listener runs a single accept loop for one inbound protocol, handing
// each connection to a Dispatcher, and implements services.Service so
// the CLI wrapper can start/stop it alongside the other listener.
type Listener struct {
	ListenerName string
	Address      string
	Protocol     Protocol
	Dispatcher   *Dispatcher
	// AcceptProxyProtocol, when set, wraps the raw listener so an
	// upstream load balancer's PROXY-protocol v1/v2 header is unwrapped
	// before the HTTP/SOCKS5 handshake begins (spec.md's listener is
	// otherwise oblivious to what fronts it).
	AcceptProxyProtocol bool

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	running  bool
}

func (l *Listener) Name() string { return l.ListenerName }

// Start binds the listener and begins accepting in a background
// goroutine. It returns once the bind succeeds or fails.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "dispatcher: failed to bind %s listener on %s", l.ListenerName, l.Address)
	}
	if l.AcceptProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: 5 * time.Second}
	}
	l.listener = ln
	l.running = true

	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := !l.running
			l.mu.Unlock()
			if stopped {
				return
			}
			logging.Warn("dispatcher: accept failed", "listener", l.ListenerName, "error", err)
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.Dispatcher.Handle(context.Background(), conn, l.Protocol)
		}()
	}
}

// Stop closes the accept socket and waits (until ctx is done) for
// in-flight connections to drain, per spec.md §5's graceful shutdown.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	err := l.listener.Close()
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		logging.Warn("dispatcher: shutdown deadline hit before all connections drained", "listener", l.ListenerName)
	}
	return err
}

func (l *Listener) Status() services.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return services.Status{Name: l.ListenerName, Running: l.running}
}

var _ services.Service = (*Listener)(nil)
