package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(pid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(pid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT.
func ptraceCont(pid, sig int) error {
	return sys.PtraceCont(pid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP.
func ptraceSingleStep(pid int) error {
	return sys.PtraceSingleStep(pid)
}

func ptraceGetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceGetRegs(pid, regs)
}

func ptraceSetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceSetRegs(pid, regs)
}

// siginfo mirrors the kernel's siginfo_t on linux/amd64. Addr is the
// leading field of the union, meaningful for fault signals.
type siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Addr  uint64
	_     [104]byte
}

// ptraceGetSigInfo retrieves the pending signal details for a target in
// signal-delivery-stop.
func ptraceGetSigInfo(pid int) (*siginfo, error) {
	var si siginfo
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETSIGINFO, uintptr(pid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if err != syscall.Errno(0) {
		return nil, err
	}
	return &si, nil
}

func ptracePeekData(pid int, addr uintptr, data []byte) (int, error) {
	return sys.PtracePeekData(pid, addr, data)
}

func ptracePokeData(pid int, addr uintptr, data []byte) (int, error) {
	return sys.PtracePokeData(pid, addr, data)
}
