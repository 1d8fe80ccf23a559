package native

import (
	"errors"
	"fmt"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/stepscope/stepscope/pkg/oracle"
)

// syscallInstr is the amd64 `syscall` instruction.
var syscallInstr = []byte{0x0f, 0x05}

// prepareInjection picks the executable address used to run injected
// syscalls for this observation. The site must survive the request's own
// mapping operations, so any region named by the request is skipped.
func (t *Target) prepareInjection(req *oracle.ObservationRequest) error {
	entries, err := t.memoryMap()
	if err != nil {
		return err
	}
entryLoop:
	for i := range entries {
		ent := &entries[i]
		if !ent.exec || ent.filename == "[vsyscall]" {
			continue
		}
		if ent.size() < uint64(len(syscallInstr)) {
			continue
		}
		for _, op := range req.Unmaps {
			if ent.contains(op.Addr) {
				continue entryLoop
			}
		}
		for _, op := range req.Maps {
			if ent.overlaps(op.Addr, op.Addr+oracle.PageSize) {
				continue entryLoop
			}
		}
		t.site = ent.start
		return nil
	}
	return fmt.Errorf("no executable mapping available for syscall injection in pid %d", t.pid)
}

// remoteSyscall executes one syscall inside the target: the bytes at the
// injection site are swapped for a syscall instruction, the registers are
// pointed at it, the target is stepped once, and everything is restored.
// Returns the syscall's return value; kernel errnos come back as
// syscall.Errno errors.
func (t *Target) remoteSyscall(nr uint64, args ...uint64) (uint64, error) {
	if t.site == 0 {
		return 0, errors.New("syscall injection site not prepared")
	}
	savedRegs, err := t.getRegs()
	if err != nil {
		return 0, err
	}
	savedText := make([]byte, len(syscallInstr))
	t.execPtraceFunc(func() { _, err = ptracePeekData(t.pid, uintptr(t.site), savedText) })
	if err != nil {
		return 0, fmt.Errorf("could not save injection site: %v", err)
	}
	t.execPtraceFunc(func() { _, err = ptracePokeData(t.pid, uintptr(t.site), syscallInstr) })
	if err != nil {
		return 0, fmt.Errorf("could not write syscall instruction: %v", err)
	}

	regs := savedRegs
	regs.Rip = t.site
	regs.Rax = nr
	regs.Orig_rax = nr
	scargs := []*uint64{&regs.Rdi, &regs.Rsi, &regs.Rdx, &regs.R10, &regs.R8, &regs.R9}
	for i, arg := range args {
		*scargs[i] = arg
	}
	if err := t.setRawRegs(&regs); err != nil {
		t.execPtraceFunc(func() { ptracePokeData(t.pid, uintptr(t.site), savedText) })
		return 0, err
	}

	ret, stepErr := t.stepSyscall()

	// Restore the target exactly as it was, even if the step failed.
	t.execPtraceFunc(func() { ptracePokeData(t.pid, uintptr(t.site), savedText) })
	if err := t.setRawRegs(&savedRegs); err != nil && stepErr == nil {
		stepErr = err
	}
	if stepErr != nil {
		return 0, stepErr
	}
	if r := int64(ret); r < 0 && r > -4096 {
		return 0, syscall.Errno(-r)
	}
	return ret, nil
}

// stepSyscall single-steps the target over the injected instruction and
// reads back the return value.
func (t *Target) stepSyscall() (uint64, error) {
	var err error
	t.execPtraceFunc(func() { err = ptraceSingleStep(t.pid) })
	if err != nil {
		return 0, err
	}
	wpid, status, err := t.waitFast()
	if err != nil {
		return 0, err
	}
	if wpid == t.pid && (status.Exited() || status.Signaled()) {
		t.postExit(status.ExitStatus())
		return 0, oracle.ErrProcessExited{Pid: t.pid, Status: status.ExitStatus()}
	}
	if !status.Stopped() || status.StopSignal() != sys.SIGTRAP {
		return 0, fmt.Errorf("unexpected stop during syscall injection: %v", status.StopSignal())
	}
	regs, err := t.getRegs()
	if err != nil {
		return 0, err
	}
	return regs.Rax, nil
}

func protBits(prot oracle.Prot) uint64 {
	var p uint64
	if prot&oracle.ProtRead != 0 {
		p |= sys.PROT_READ
	}
	if prot&oracle.ProtWrite != 0 {
		p |= sys.PROT_WRITE
	}
	if prot&oracle.ProtExec != 0 {
		p |= sys.PROT_EXEC
	}
	return p
}

// mapRange creates one mapping inside the target. MAP_FIXED_NOREPLACE is
// always forced and MAP_FIXED stripped, so any overlap with an existing
// mapping fails with EEXIST instead of clobbering it; that surfaces as
// ErrMappingConflict.
func (t *Target) mapRange(addr, size uint64, prot oracle.Prot, flags int32, fd int32) error {
	mflags := (uint64(uint32(flags)) &^ sys.MAP_FIXED) | sys.MAP_PRIVATE | sys.MAP_FIXED_NOREPLACE
	mfd := uint64(uint32(fd))
	if fd < 0 {
		mflags |= sys.MAP_ANONYMOUS
		mfd = ^uint64(0)
	}
	ret, err := t.remoteSyscall(sys.SYS_MMAP, addr, size, protBits(prot), mflags, mfd, 0)
	if err != nil {
		if err == sys.EEXIST {
			return oracle.ErrMappingConflict
		}
		return err
	}
	if ret != addr {
		// The kernel placed the mapping elsewhere; undo and report a
		// conflict rather than leave a stray mapping.
		t.unmapRange(ret, size)
		return oracle.ErrMappingConflict
	}
	return nil
}

// unmapRange removes [addr, addr+size) from the target's address space.
func (t *Target) unmapRange(addr, size uint64) error {
	_, err := t.remoteSyscall(sys.SYS_MUNMAP, addr, size)
	return err
}

func (t *Target) readMemory(addr uint64, size int) ([]byte, error) {
	data := make([]byte, size)
	var err error
	t.execPtraceFunc(func() { _, err = ptracePeekData(t.pid, uintptr(addr), data) })
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *Target) writeMemory(addr uint64, data []byte) error {
	var err error
	t.execPtraceFunc(func() { _, err = ptracePokeData(t.pid, uintptr(addr), data) })
	return err
}
