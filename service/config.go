package service

import (
	"net"
	"time"

	"github.com/stepscope/stepscope/service/engine"
)

// Config provides the configuration to start an observation engine and
// expose it with a service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// AcceptMulti configures the server to accept multiple connections.
	// Each connection negotiates its own session.
	AcceptMulti bool

	// APIVersion selects which version of the API to serve (default: 1).
	APIVersion int

	// StepTimeout bounds the wait for a target to reach a terminal
	// execution state inside one observation.
	StepTimeout time.Duration

	// MaxTargets caps how many attached targets are kept.
	MaxTargets int

	// Backend overrides target acquisition, used by tests. Nil selects
	// the native ptrace backend.
	Backend engine.Backend
}
