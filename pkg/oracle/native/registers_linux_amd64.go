package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/stepscope/stepscope/pkg/oracle"
)

func regsFromSnapshot(s *oracle.RegisterSnapshot) sys.PtraceRegs {
	return sys.PtraceRegs{
		R15:      s.R15,
		R14:      s.R14,
		R13:      s.R13,
		R12:      s.R12,
		Rbp:      s.Rbp,
		Rbx:      s.Rbx,
		R11:      s.R11,
		R10:      s.R10,
		R9:       s.R9,
		R8:       s.R8,
		Rax:      s.Rax,
		Rcx:      s.Rcx,
		Rdx:      s.Rdx,
		Rsi:      s.Rsi,
		Rdi:      s.Rdi,
		Orig_rax: s.OrigRax,
		Rip:      s.Rip,
		Cs:       s.Cs,
		Eflags:   s.Eflags,
		Rsp:      s.Rsp,
		Ss:       s.Ss,
		Fs_base:  s.FsBase,
		Gs_base:  s.GsBase,
		Ds:       s.Ds,
		Es:       s.Es,
		Fs:       s.Fs,
		Gs:       s.Gs,
	}
}

func snapshotFromRegs(r *sys.PtraceRegs) oracle.RegisterSnapshot {
	return oracle.RegisterSnapshot{
		R15:     r.R15,
		R14:     r.R14,
		R13:     r.R13,
		R12:     r.R12,
		Rbp:     r.Rbp,
		Rbx:     r.Rbx,
		R11:     r.R11,
		R10:     r.R10,
		R9:      r.R9,
		R8:      r.R8,
		Rax:     r.Rax,
		Rcx:     r.Rcx,
		Rdx:     r.Rdx,
		Rsi:     r.Rsi,
		Rdi:     r.Rdi,
		OrigRax: r.Orig_rax,
		Rip:     r.Rip,
		Cs:      r.Cs,
		Eflags:  r.Eflags,
		Rsp:     r.Rsp,
		Ss:      r.Ss,
		FsBase:  r.Fs_base,
		GsBase:  r.Gs_base,
		Ds:      r.Ds,
		Es:      r.Es,
		Fs:      r.Fs,
		Gs:      r.Gs,
	}
}

func (t *Target) getRegs() (sys.PtraceRegs, error) {
	var (
		regs sys.PtraceRegs
		err  error
	)
	t.execPtraceFunc(func() { err = ptraceGetRegs(t.pid, &regs) })
	if err == sys.ESRCH {
		err = oracle.ErrProcessExited{Pid: t.pid}
	}
	return regs, err
}

func (t *Target) setRawRegs(regs *sys.PtraceRegs) error {
	var err error
	t.execPtraceFunc(func() { err = ptraceSetRegs(t.pid, regs) })
	if err == sys.ESRCH {
		err = oracle.ErrProcessExited{Pid: t.pid}
	}
	return err
}

// setRegs replaces the target's whole register file with the snapshot.
// The snapshot must already be validated; the kernel's own checks are the
// last line of defense and map to ErrInvalidRegisterState.
func (t *Target) setRegs(s *oracle.RegisterSnapshot) error {
	regs := regsFromSnapshot(s)
	// An orig_rax >= 0 combined with a restart code in rax would make the
	// kernel rewind rip on resume. Injected state must never restart a
	// syscall the controller did not ask for.
	regs.Orig_rax = ^uint64(0)
	var err error
	t.execPtraceFunc(func() { err = ptraceSetRegs(t.pid, &regs) })
	switch err {
	case sys.ESRCH:
		err = oracle.ErrProcessExited{Pid: t.pid}
	case sys.EINVAL, sys.EIO, sys.EPERM:
		err = oracle.ErrInvalidRegisterState
	}
	return err
}

// ReadRegisters returns the target's current register state, for
// controller inspection between observations.
func (t *Target) ReadRegisters() (oracle.RegisterSnapshot, error) {
	if t.exited {
		return oracle.RegisterSnapshot{}, oracle.ErrProcessExited{Pid: t.pid}
	}
	regs, err := t.getRegs()
	if err != nil {
		return oracle.RegisterSnapshot{}, err
	}
	return snapshotFromRegs(&regs), nil
}
