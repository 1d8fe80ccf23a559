package service

import (
	"github.com/stepscope/stepscope/service/api"
)

// Client represents an observation engine service client. All client
// methods are synchronous.
type Client interface {
	// Handshake negotiates the session; no other method succeeds before
	// it. Returns the engine's acknowledgement token.
	Handshake(token int) (int, error)

	// GetVersion returns the engine build and API versions.
	GetVersion() (*api.GetVersionOut, error)

	// Observe applies the request's mappings and registers to the target,
	// steps it once and reports the outcome. The target is left suspended.
	Observe(in *api.ObserveIn) (*api.ObservationResult, error)

	// Launch spawns a scratch target process, traced and suspended.
	Launch(path string, args []string, dir string) (int, error)

	// Attach attaches an existing process as an observation target.
	Attach(pid int) error

	// Detach releases a target, optionally killing it.
	Detach(pid int, kill bool) error

	// ReadRegisters returns the target's registers in the raw wire layout.
	ReadRegisters(pid int) ([]byte, error)

	// Close closes the connection, ending the session.
	Close() error
}
