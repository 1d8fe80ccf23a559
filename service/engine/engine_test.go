package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stepscope/stepscope/pkg/oracle"
)

type fakeTarget struct {
	pid      int
	mu       sync.Mutex
	observes int
	detached bool

	// block, when set, stalls Observe until released.
	block chan struct{}
	// result returned by Observe; nil means a plain stepped result.
	result *oracle.ObservationResult
}

func (f *fakeTarget) Pid() int { return f.pid }

func (f *fakeTarget) Observe(ctx context.Context, req *oracle.ObservationRequest, stepTimeout time.Duration) (*oracle.ObservationResult, error) {
	f.mu.Lock()
	f.observes++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.result != nil {
		return f.result, nil
	}
	return &oracle.ObservationResult{Status: oracle.StatusStepped, Signal: 5}, nil
}

func (f *fakeTarget) ReadRegisters() (oracle.RegisterSnapshot, error) {
	return oracle.RegisterSnapshot{Rip: 0x401000}, nil
}

func (f *fakeTarget) Detach(kill bool) error {
	f.mu.Lock()
	f.detached = true
	f.mu.Unlock()
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	attaches []int
	targets  map[int]*fakeTarget
	missing  map[int]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{targets: map[int]*fakeTarget{}, missing: map[int]bool{}}
}

func (b *fakeBackend) Attach(pid int) (Target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attaches = append(b.attaches, pid)
	if b.missing[pid] {
		return nil, oracle.ErrNoSuchProcess
	}
	if t, ok := b.targets[pid]; ok {
		return t, nil
	}
	t := &fakeTarget{pid: pid}
	b.targets[pid] = t
	return t, nil
}

func (b *fakeBackend) Launch(cmd []string, wd string) (Target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pid := 90000 + len(b.targets)
	t := &fakeTarget{pid: pid}
	b.targets[pid] = t
	return t, nil
}

func newTestEngine(t *testing.T, b Backend) *Engine {
	t.Helper()
	e, err := New(&Config{Backend: b})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func negotiated(t *testing.T, e *Engine) *Session {
	t.Helper()
	s := NewSession()
	ack, err := e.Handshake(s, 1)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if ack != 2 {
		t.Fatalf("Handshake ack = %d, want 2", ack)
	}
	return s
}

func testRequest(pid int) *oracle.ObservationRequest {
	return &oracle.ObservationRequest{
		Pid:  pid,
		Regs: oracle.RegisterSnapshot{Rip: 0x401000, Eflags: 0x202},
	}
}

func TestHandshakeBadToken(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	s := NewSession()
	for _, token := range []int{0, 2, -1, 99} {
		if _, err := e.Handshake(s, token); !errors.Is(err, oracle.ErrIncompatibleVersion) {
			t.Errorf("Handshake(%d) = %v, want ErrIncompatibleVersion", token, err)
		}
		if s.Negotiated() {
			t.Fatalf("session negotiated after rejected handshake with token %d", token)
		}
	}
}

func TestObserveRequiresHandshake(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := NewSession()
	if _, err := e.Observe(context.Background(), s, testRequest(100)); !errors.Is(err, oracle.ErrIncompatibleVersion) {
		t.Fatalf("Observe = %v, want ErrIncompatibleVersion", err)
	}
	if len(b.attaches) != 0 {
		t.Error("engine touched the target before a handshake")
	}
}

func TestObserveCapacityRejectedBeforeAttach(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	req := testRequest(100)
	for i := 0; i < oracle.MaxMapOps+1; i++ {
		req.Maps = append(req.Maps, oracle.MapOp{Addr: uint64(i+1) * oracle.PageSize, FD: oracle.AnonFD, Prot: oracle.ProtRead})
	}
	if _, err := e.Observe(context.Background(), s, req); !errors.Is(err, oracle.ErrTooManyOps) {
		t.Fatalf("Observe = %v, want ErrTooManyOps", err)
	}
	if len(b.attaches) != 0 {
		t.Error("oversized request reached the backend")
	}
}

func TestObserveInvalidRegistersRejectedBeforeAttach(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	req := testRequest(100)
	req.Regs.Cs = 0x10
	if _, err := e.Observe(context.Background(), s, req); !errors.Is(err, oracle.ErrInvalidRegisterState) {
		t.Fatalf("Observe = %v, want ErrInvalidRegisterState", err)
	}
	if len(b.attaches) != 0 {
		t.Error("request with invalid registers reached the backend")
	}
}

func TestObserve(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	res, err := e.Observe(context.Background(), s, testRequest(100))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Status != oracle.StatusStepped {
		t.Errorf("status = %q, want stepped", res.Status)
	}
	// The second observation reuses the attached handle.
	if _, err := e.Observe(context.Background(), s, testRequest(100)); err != nil {
		t.Fatalf("second Observe: %v", err)
	}
	if len(b.attaches) != 1 {
		t.Errorf("backend attached %d times, want 1", len(b.attaches))
	}
}

func TestObserveBusy(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	block := make(chan struct{})
	first, _ := b.Attach(100)
	first.(*fakeTarget).block = block

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Observe(context.Background(), s, testRequest(100))
	}()

	// Wait for the first observation to take the per-process lock.
	deadline := time.After(2 * time.Second)
	for {
		first.(*fakeTarget).mu.Lock()
		started := first.(*fakeTarget).observes > 0
		first.(*fakeTarget).mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first observation never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := e.Observe(context.Background(), s, testRequest(100)); !errors.Is(err, oracle.ErrProcessBusy) {
		t.Fatalf("concurrent Observe = %v, want ErrProcessBusy", err)
	}
	close(block)
	<-done
}

func TestObserveDistinctTargetsInParallel(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	blockA := make(chan struct{})
	ta, _ := b.Attach(100)
	ta.(*fakeTarget).block = blockA

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Observe(context.Background(), s, testRequest(100))
	}()

	// An observation of a different pid completes while pid 100 is still
	// in flight.
	if _, err := e.Observe(context.Background(), s, testRequest(200)); err != nil {
		t.Fatalf("Observe of distinct pid: %v", err)
	}
	close(blockA)
	<-done
}

func TestObserveExitDropsHandle(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	ft, _ := b.Attach(100)
	ft.(*fakeTarget).result = &oracle.ObservationResult{Status: oracle.StatusExited, Errno: 0}

	res, err := e.Observe(context.Background(), s, testRequest(100))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Status != oracle.StatusExited {
		t.Fatalf("status = %q, want exited", res.Status)
	}

	// Observing the same pid again attaches afresh.
	b.mu.Lock()
	delete(b.targets, 100)
	attachesBefore := len(b.attaches)
	b.mu.Unlock()
	if _, err := e.Observe(context.Background(), s, testRequest(100)); err != nil {
		t.Fatalf("Observe after exit: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.attaches) != attachesBefore+1 {
		t.Error("engine kept the handle of an exited target")
	}
}

func TestDetach(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, b)
	s := negotiated(t, e)

	if err := e.Attach(s, 100); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := e.Detach(s, 100, false); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	ft := b.targets[100]
	ft.mu.Lock()
	detached := ft.detached
	ft.mu.Unlock()
	if !detached {
		t.Error("target was not detached")
	}
	if err := e.Detach(s, 100, false); !errors.Is(err, oracle.ErrNoSuchProcess) {
		t.Errorf("Detach of untracked pid = %v, want ErrNoSuchProcess", err)
	}
}

func TestAttachMissingProcess(t *testing.T) {
	b := newFakeBackend()
	b.missing[4242] = true
	e := newTestEngine(t, b)
	s := negotiated(t, e)
	if err := e.Attach(s, 4242); !errors.Is(err, oracle.ErrNoSuchProcess) {
		t.Fatalf("Attach = %v, want ErrNoSuchProcess", err)
	}
}
