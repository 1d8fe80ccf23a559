package native

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/oracle"
)

// Process statuses as reported in /proc/pid/stat.
const (
	statusSleeping  = 'S'
	statusRunning   = 'R'
	statusTraceStop = 't'
	statusZombie    = 'Z'

	// Kernel 2.6 has TraceStop as T
	statusTraceStopT = 'T'
)

// Target is one observed process. All ptrace requests against it are
// funneled through a single OS thread via ptraceChan; ptrace expects every
// command after PTRACE_ATTACH to come from the thread that attached.
type Target struct {
	pid          int
	comm         string
	childProcess bool // this engine launched the target
	exited       bool
	closed       bool

	// site is the address of an executable byte pair in the target used
	// for syscall injection, chosen per observation.
	site uint64

	log *logrus.Entry

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
}

func newTarget(pid int) *Target {
	t := &Target{
		pid:            pid,
		log:            logflags.PtraceLogger(),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go t.handlePtraceFuncs()
	return t
}

func (t *Target) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread for the
	// target's whole lifetime. This is due to the fact that ptrace(2)
	// expects all commands after PTRACE_ATTACH to come from the same
	// thread.
	runtime.LockOSThread()

	for fn := range t.ptraceChan {
		fn()
		t.ptraceDoneChan <- nil
	}
}

func (t *Target) execPtraceFunc(fn func()) {
	t.ptraceChan <- fn
	<-t.ptraceDoneChan
}

// Attach attaches to the process with the given PID and waits for it to
// enter trace-stop.
func Attach(pid int) (*Target, error) {
	t := newTarget(pid)
	var err error
	t.execPtraceFunc(func() { err = ptraceAttach(pid) })
	if err != nil {
		t.close()
		return nil, attachError(err)
	}
	if _, _, err = t.waitFast(); err != nil {
		t.close()
		return nil, attachError(err)
	}
	if err = t.initialize(); err != nil {
		t.execPtraceFunc(func() { ptraceDetach(pid, 0) })
		t.close()
		return nil, err
	}
	t.log.Debugf("attached to pid %d (%s)", pid, t.comm)
	return t, nil
}

func attachError(err error) error {
	switch err {
	case sys.ESRCH:
		return oracle.ErrNoSuchProcess
	case sys.EPERM:
		return oracle.ErrPermissionDenied
	}
	return err
}

// Launch spawns a scratch target process, traced from the first
// instruction. The first entry of cmd is the program, the rest its
// arguments. The target is left stopped at its exec trap.
func Launch(cmd []string, wd string) (*Target, error) {
	t := newTarget(0)
	var (
		process *exec.Cmd
		err     error
	)
	t.execPtraceFunc(func() {
		process = exec.Command(cmd[0])
		process.Args = cmd
		if wd != "" {
			process.Dir = wd
		}
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		err = process.Start()
	})
	if err != nil {
		t.close()
		return nil, err
	}
	t.pid = process.Process.Pid
	t.childProcess = true
	if _, _, err = t.waitFast(); err != nil {
		t.close()
		return nil, fmt.Errorf("waiting for target execve failed: %v", err)
	}
	if err = t.initialize(); err != nil {
		t.close()
		return nil, err
	}
	t.log.Debugf("launched %q as pid %d", cmd[0], t.pid)
	return t, nil
}

func (t *Target) initialize() error {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", t.pid))
	if err != nil {
		return fmt.Errorf("could not read process comm: %v", err)
	}
	t.comm = string(bytes.TrimSuffix(comm, []byte("\n")))
	return nil
}

// Pid returns the target's process identifier.
func (t *Target) Pid() int {
	return t.pid
}

// Valid returns whether the target can still be observed.
func (t *Target) Valid() (bool, error) {
	if t.exited {
		return false, oracle.ErrProcessExited{Pid: t.pid}
	}
	return true, nil
}

// Stopped returns whether the target is stopped at the operating system
// level.
func (t *Target) Stopped() bool {
	state := status(t.pid, t.comm)
	return state == statusTraceStop || state == statusTraceStopT
}

// Detach releases the target, optionally killing it. Safe to call more
// than once.
func (t *Target) Detach(kill bool) error {
	if t.closed {
		return nil
	}
	defer t.close()
	if t.exited {
		return nil
	}
	if kill {
		if err := sys.Kill(t.pid, sys.SIGKILL); err != nil {
			return fmt.Errorf("could not deliver signal: %v", err)
		}
		for {
			wpid, status, err := t.waitFast()
			if err != nil {
				break
			}
			if wpid == t.pid && status.Signaled() {
				break
			}
			// Reap intermediate stops until the kill lands.
			t.execPtraceFunc(func() { ptraceCont(t.pid, int(status.StopSignal())) })
		}
		t.exited = true
		return nil
	}
	var err error
	t.execPtraceFunc(func() { err = ptraceDetach(t.pid, 0) })
	if err == sys.ESRCH {
		err = nil
	}
	return err
}

func (t *Target) postExit(exitStatus int) {
	if t.exited {
		return
	}
	t.exited = true
	t.log.Debugf("pid %d exited with status %d", t.pid, exitStatus)
}

func (t *Target) close() {
	if t.closed {
		return
	}
	t.closed = true
	close(t.ptraceChan)
	close(t.ptraceDoneChan)
}

// waitFast waits for the target without handling thread-group edge cases.
func (t *Target) waitFast() (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	wpid, err := sys.Wait4(t.pid, &s, sys.WALL, nil)
	return wpid, &s, err
}

func (t *Target) waitNohang() (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	wpid, err := sys.Wait4(t.pid, &s, sys.WNOHANG|sys.WALL, nil)
	return wpid, &s, err
}

func status(pid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	defer f.Close()
	rd := bufio.NewReader(f)

	var (
		p     int
		state rune
	)

	// The second field of /proc/pid/stat is the name of the task in
	// parentheses. It can contain spaces and parentheses of its own, so
	// match the known comm instead of parsing.
	_, _ = fmt.Fscanf(rd, "%d ("+comm+")  %c", &p, &state)
	return state
}
