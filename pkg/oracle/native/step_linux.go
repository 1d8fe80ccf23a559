package native

import (
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/stepscope/stepscope/pkg/oracle"
)

// stepOnce resumes the target for exactly one controlled step and waits,
// bounded by timeout, for it to reach a terminal state. Every path leaves
// the target suspended (or exited); the intercepted signal, if any, is
// never forwarded.
func (t *Target) stepOnce(timeout time.Duration) (oracle.ExecState, error) {
	var err error
	t.execPtraceFunc(func() { err = ptraceSingleStep(t.pid) })
	if err != nil {
		return oracle.ExecState{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		wpid, status, err := t.waitNohang()
		if err != nil {
			return oracle.ExecState{}, err
		}
		if wpid == t.pid {
			return t.classifyStop(status), nil
		}
		if time.Now().After(deadline) {
			return t.forceSuspend()
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// forceSuspend stops a target that did not reach a stopping state within
// the bound, typically because the instruction under test entered a
// blocking syscall or an uninterruptible wait.
func (t *Target) forceSuspend() (oracle.ExecState, error) {
	t.log.Debugf("step timeout for pid %d, forcing suspension", t.pid)
	if err := sys.Kill(t.pid, sys.SIGSTOP); err != nil && err != sys.ESRCH {
		return oracle.ExecState{}, err
	}
	wpid, status, err := t.waitFast()
	if err != nil {
		return oracle.ExecState{}, err
	}
	if wpid == t.pid && (status.Exited() || status.Signaled()) {
		return t.classifyStop(status), nil
	}
	if status.Stopped() && status.StopSignal() == sys.SIGTRAP {
		// The step completed while the stop signal was in flight; report
		// the trap. The pending SIGSTOP is harmless, the target stays
		// suspended either way.
		return t.classifyStop(status), nil
	}
	return oracle.ExecState{Outcome: oracle.TimedOut}, nil
}

// classifyStop maps a wait status to the terminal state of the execution
// state machine.
func (t *Target) classifyStop(status *sys.WaitStatus) oracle.ExecState {
	if status.Exited() {
		t.postExit(status.ExitStatus())
		return oracle.ExecState{
			Outcome:    oracle.Exited,
			ExitStatus: int32(status.ExitStatus()),
		}
	}
	if status.Signaled() {
		t.postExit(status.ExitStatus())
		return oracle.ExecState{
			Outcome:    oracle.Exited,
			Signal:     int32(status.Signal()),
			ExitStatus: int32(status.ExitStatus()),
		}
	}

	sig := status.StopSignal()
	st := oracle.ExecState{Signal: int32(sig)}
	var (
		si  *siginfo
		err error
	)
	t.execPtraceFunc(func() { si, err = ptraceGetSigInfo(t.pid) })
	if err == nil {
		st.Signal = si.Signo
		st.SigCode = si.Code
		st.Errno = si.Errno
	}
	switch sig {
	case sys.SIGTRAP:
		st.Outcome = oracle.Trapped
	case sys.SIGSEGV, sys.SIGBUS:
		st.Outcome = oracle.Faulted
		if si != nil {
			st.Addr = si.Addr
			st.AddrValid = true
		}
	default:
		// Illegal instruction, arithmetic faults and any other signal
		// raised by the instruction under test. No faulting address; the
		// siginfo address of SIGILL/SIGFPE is the instruction itself.
		st.Outcome = oracle.Faulted
	}
	return st
}
