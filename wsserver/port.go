package wsserver

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// PortStrategyKind selects how the server picks its listening port.
type PortStrategyKind int

const (
	// PersistedPort reuses the port recorded in the state file from a
	// previous run. On bind failure with address-in-use it silently
	// degrades to NoPort rather than surfacing an error, since a stale
	// persisted port is expected after an unclean shutdown.
	PersistedPort PortStrategyKind = iota
	// PortFromConfig uses a user-configured port. A bind failure here is
	// a fatal configuration error: the user asked for a specific port.
	PortFromConfig
	// NoPort asks the OS for an ephemeral port. A bind failure here is
	// always surfaced, since there is no fallback left to try.
	NoPort
)

// PortStrategy names the chosen strategy and its configured port, if any.
type PortStrategy struct {
	Kind PortStrategyKind
	Port int // meaningful for PersistedPort and PortFromConfig
}

// Listen binds a TCP listener per the strategy's degrade-on-conflict
// rules. Returns the resolved listener and the port actually bound.
func Listen(strategy PortStrategy) (net.Listener, int, error) {
	switch strategy.Kind {
	case PersistedPort:
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", strategy.Port))
		if err == nil {
			return ln, strategy.Port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("bind persisted port %d: %w", strategy.Port, err)
		}
		return Listen(PortStrategy{Kind: NoPort})

	case PortFromConfig:
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", strategy.Port))
		if err != nil {
			return nil, 0, fmt.Errorf("bind configured port %d: %w", strategy.Port, err)
		}
		return ln, strategy.Port, nil

	case NoPort:
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, 0, fmt.Errorf("bind ephemeral port: %w", err)
		}
		return ln, ln.Addr().(*net.TCPAddr).Port, nil

	default:
		return nil, 0, errors.New("wsserver: unknown port strategy")
	}
}

func isAddrInUse(err error) bool {
	var sysErr *net.OpError
	if !errors.As(err, &sysErr) {
		return false
	}
	return errors.Is(sysErr.Err, syscall.EADDRINUSE)
}
