package tor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout is how long an embedded daemon may take to bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// ErrEmbeddedNotRunning is returned when the embedded daemon has not been started.
var ErrEmbeddedNotRunning = errors.New("embedded Tor daemon is not running")

// EmbeddedTor runs a private tor process for the lifetime of a crawl, so no
// system Tor service is required.
//
// Design decision: the daemon listens on OS-assigned SOCKS and control
// ports. Several torspider processes can then run side by side, and a system
// Tor on 9050 never collides with it. Callers learn the port from SocksAddr
// after Start.
//
// Note: bootstrapping usually takes one to three minutes while tor:
//   - downloads directory information from the network
//   - builds its first circuits
//   - opens the SOCKS listener
type EmbeddedTor struct {
	// process is the running daemon, or nil before Start and after Stop.
	process *tornago.TorProcess

	// startupTimeout bounds the bootstrap inside Start.
	startupTimeout time.Duration
}

// EmbeddedTorOption configures an EmbeddedTor.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the bootstrap timeout.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEmbeddedTor returns an unstarted daemon manager.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{startupTimeout: DefaultStartupTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches tor on OS-assigned ports and blocks until it has
// bootstrapped. If ctx is cancelled meanwhile the process is stopped again.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	cfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(cfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return err
	}

	e.process = process
	return nil
}

// Stop terminates the daemon. Calling it on a stopped instance is a no-op.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	return err
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// SocksAddr returns the SOCKS5 listener of the running daemon, or "".
func (e *EmbeddedTor) SocksAddr() string {
	if e.process == nil {
		return ""
	}
	return e.process.SocksAddr()
}

// NewClient returns a Client bound to the embedded daemon's SOCKS port.
func (e *EmbeddedTor) NewClient(timeout time.Duration) (*Client, error) {
	if !e.IsRunning() {
		return nil, ErrEmbeddedNotRunning
	}
	return NewClient(e.SocksAddr(), timeout)
}
