package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/oracle"
	"github.com/stepscope/stepscope/pkg/oracle/native"
	"github.com/stepscope/stepscope/service/api"
)

// Target is one attached process the engine can observe.
type Target interface {
	Pid() int
	Observe(ctx context.Context, req *oracle.ObservationRequest, stepTimeout time.Duration) (*oracle.ObservationResult, error)
	ReadRegisters() (oracle.RegisterSnapshot, error)
	Detach(kill bool) error
}

// Backend acquires targets. The default backend is the native ptrace
// implementation; tests substitute a fake.
type Backend interface {
	Attach(pid int) (Target, error)
	Launch(cmd []string, wd string) (Target, error)
}

type nativeBackend struct{}

func (nativeBackend) Attach(pid int) (Target, error) {
	t, err := native.Attach(pid)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (nativeBackend) Launch(cmd []string, wd string) (Target, error) {
	t, err := native.Launch(cmd, wd)
	if err != nil {
		return nil, err
	}
	return t, nil
}

const (
	DefaultStepTimeout = 100 * time.Millisecond
	DefaultMaxTargets  = 64
)

// Config provides the configuration to start an Engine.
type Config struct {
	// StepTimeout bounds the wait for the target to reach a terminal
	// execution state during one observation.
	StepTimeout time.Duration
	// MaxTargets caps how many attached targets are kept; the least
	// recently observed target is detached when the cap is hit.
	MaxTargets int
	// Backend overrides target acquisition. Nil selects the native
	// ptrace backend.
	Backend Backend
}

// handle pairs a target with the lock that serializes observations
// against it.
type handle struct {
	target Target
	// busy is held for the duration of one observation; concurrent
	// requests against the same process fail fast instead of queueing.
	busy   sync.Mutex
	closed bool
}

// close detaches once, after any in-flight observation completes.
func (h *handle) close(kill bool) error {
	h.busy.Lock()
	defer h.busy.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.target.Detach(kill)
}

// Engine services observation requests. It is stateless across requests
// except for the per-session handshake flag and the per-process handle
// tracking, both transient.
type Engine struct {
	config  *Config
	backend Backend
	log     *logrus.Entry

	mu      sync.Mutex
	targets *lru.Cache // pid -> *handle
}

// New creates a new Engine.
func New(config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{}
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultStepTimeout
	}
	if config.MaxTargets <= 0 {
		config.MaxTargets = DefaultMaxTargets
	}
	e := &Engine{
		config:  config,
		backend: config.Backend,
		log:     logflags.EngineLogger(),
	}
	if e.backend == nil {
		e.backend = nativeBackend{}
	}
	cache, err := lru.NewWithEvict(config.MaxTargets, e.onEvict)
	if err != nil {
		return nil, err
	}
	e.targets = cache
	return e, nil
}

func (e *Engine) onEvict(key, value interface{}) {
	h := value.(*handle)
	// Eviction can fire while the handle's observation lock is held;
	// detach in the background once it is released.
	go func() {
		if err := h.close(false); err != nil {
			e.log.Errorf("detach of evicted target %v failed: %v", key, err)
		}
	}()
}

// Handshake negotiates the session. The token must name the served API
// version; the acknowledgement is the token incremented, proving
// compatibility. No other operation is serviced before this succeeds.
func (e *Engine) Handshake(s *Session, token int) (int, error) {
	if token != api.APIVersion {
		return 0, oracle.ErrIncompatibleVersion
	}
	s.negotiate(token)
	return token + 1, nil
}

func (e *Engine) checkSession(s *Session) error {
	if s == nil || !s.Negotiated() {
		return fmt.Errorf("no completed handshake on this session: %w", oracle.ErrIncompatibleVersion)
	}
	return nil
}

// Observe services one observation request. It blocks until the result
// is ready or the step timeout elapses inside the execution controller.
func (e *Engine) Observe(ctx context.Context, s *Session, req *oracle.ObservationRequest) (*oracle.ObservationResult, error) {
	if err := e.checkSession(s); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Regs.Validate(); err != nil {
		return nil, err
	}

	h, err := e.resolve(req.Pid)
	if err != nil {
		return nil, err
	}
	if !h.busy.TryLock() {
		return nil, oracle.ErrProcessBusy
	}
	defer h.busy.Unlock()
	if h.closed {
		return nil, oracle.ErrNoSuchProcess
	}

	res, err := h.target.Observe(ctx, req, e.config.StepTimeout)
	if err != nil {
		if _, exited := err.(oracle.ErrProcessExited); exited {
			e.drop(req.Pid)
			return nil, oracle.ErrNoSuchProcess
		}
		return nil, err
	}
	if res.Status == oracle.StatusExited {
		// The instruction under test terminated the target; the handle
		// is dead. The exit itself is a result, not an engine failure.
		h.closed = true
		e.drop(req.Pid)
	}
	return res, nil
}

// Launch spawns a scratch target and tracks it. The target is left
// suspended at its exec trap, ready for observation.
func (e *Engine) Launch(s *Session, cmd []string, wd string) (int, error) {
	if err := e.checkSession(s); err != nil {
		return 0, err
	}
	if len(cmd) == 0 {
		return 0, fmt.Errorf("no command to launch")
	}
	t, err := e.backend.Launch(cmd, wd)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.targets.Add(t.Pid(), &handle{target: t})
	e.mu.Unlock()
	return t.Pid(), nil
}

// Attach attaches to an existing process and tracks it.
func (e *Engine) Attach(s *Session, pid int) error {
	if err := e.checkSession(s); err != nil {
		return err
	}
	if pid <= 0 {
		return oracle.ErrNoSuchProcess
	}
	_, err := e.resolve(pid)
	return err
}

// Detach releases a tracked target, optionally killing it.
func (e *Engine) Detach(s *Session, pid int, kill bool) error {
	if err := e.checkSession(s); err != nil {
		return err
	}
	e.mu.Lock()
	v, ok := e.targets.Peek(pid)
	e.mu.Unlock()
	if !ok {
		return oracle.ErrNoSuchProcess
	}
	h := v.(*handle)
	if err := h.close(kill); err != nil {
		return err
	}
	e.drop(pid)
	return nil
}

// ReadRegisters returns the current register state of a tracked target,
// packed in the wire layout.
func (e *Engine) ReadRegisters(s *Session, pid int) ([]byte, error) {
	if err := e.checkSession(s); err != nil {
		return nil, err
	}
	h, err := e.resolve(pid)
	if err != nil {
		return nil, err
	}
	if !h.busy.TryLock() {
		return nil, oracle.ErrProcessBusy
	}
	defer h.busy.Unlock()
	if h.closed {
		return nil, oracle.ErrNoSuchProcess
	}
	regs, err := h.target.ReadRegisters()
	if err != nil {
		return nil, err
	}
	return regs.Encode()
}

// Stop detaches every tracked target.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets.Purge()
}

// resolve returns the handle for pid, attaching on first use.
func (e *Engine) resolve(pid int) (*handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.targets.Get(pid); ok {
		return v.(*handle), nil
	}
	t, err := e.backend.Attach(pid)
	if err != nil {
		return nil, err
	}
	e.log.Infof("attached to pid %d", pid)
	e.targets.Add(pid, &handle{target: t})
	v, _ := e.targets.Get(pid)
	return v.(*handle), nil
}

func (e *Engine) drop(pid int) {
	e.mu.Lock()
	e.targets.Remove(pid)
	e.mu.Unlock()
}
