package oracle

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
)

// SnapshotSize is the size in bytes of the raw register snapshot buffer:
// the amd64 user_regs_struct image, 27 64-bit fields.
const SnapshotSize = 27 * 8

// RegisterSnapshot is the full architectural register state injected into
// the target before a step. Field order mirrors the amd64
// user_regs_struct, which is also the layout of the raw buffer the
// controller supplies on the wire.
type RegisterSnapshot struct {
	R15     uint64
	R14     uint64
	R13     uint64
	R12     uint64
	Rbp     uint64
	Rbx     uint64
	R11     uint64
	R10     uint64
	R9      uint64
	R8      uint64
	Rax     uint64
	Rcx     uint64
	Rdx     uint64
	Rsi     uint64
	Rdi     uint64
	OrigRax uint64
	Rip     uint64
	Cs      uint64
	Eflags  uint64
	Rsp     uint64
	Ss      uint64
	FsBase  uint64
	GsBase  uint64
	Ds      uint64
	Es      uint64
	Fs      uint64
	Gs      uint64
}

// Linux amd64 user mode code and stack segment selectors.
const (
	userCS = 0x33
	userSS = 0x2b
)

// rflagsUserMask covers the RFLAGS bits user code may set: the arithmetic
// flags, TF, IF, DF and the always-set reserved bit 1.
const rflagsUserMask = 0xfd7

// DecodeRegisterSnapshot unpacks the controller-supplied raw register
// buffer. The buffer must be exactly SnapshotSize bytes, little endian.
func DecodeRegisterSnapshot(buf []byte) (RegisterSnapshot, error) {
	var s RegisterSnapshot
	if len(buf) != SnapshotSize {
		return s, ErrInvalidRegisterState
	}
	if err := struc.UnpackWithOrder(bytes.NewReader(buf), &s, binary.LittleEndian); err != nil {
		return s, ErrInvalidRegisterState
	}
	return s, nil
}

// Encode packs the snapshot back into the raw wire layout.
func (s *RegisterSnapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, s, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate rejects snapshots that name privileged or reserved state. The
// whole register file is either accepted and injected, or rejected before
// any of it reaches the target.
func (s *RegisterSnapshot) Validate() error {
	if s.Eflags&^uint64(rflagsUserMask) != 0 {
		return ErrInvalidRegisterState
	}
	if s.Cs != 0 && s.Cs != userCS {
		return ErrInvalidRegisterState
	}
	if s.Ss != 0 && s.Ss != userSS {
		return ErrInvalidRegisterState
	}
	return nil
}

// Normalize fills in the segment selectors a snapshot may leave zero.
// Injecting a zero CS or SS would kill the target on resume.
func (s *RegisterSnapshot) Normalize() {
	if s.Cs == 0 {
		s.Cs = userCS
	}
	if s.Ss == 0 {
		s.Ss = userSS
	}
}
