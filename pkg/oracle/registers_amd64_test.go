package oracle

import (
	"encoding/binary"
	"testing"
)

func snapshotBuf(mutate func(*RegisterSnapshot)) []byte {
	s := RegisterSnapshot{
		Rip:    0x401000,
		Rsp:    0x7ffe00001000,
		Eflags: 0x202,
		Cs:     0x33,
		Ss:     0x2b,
	}
	mutate(&s)
	buf, err := s.Encode()
	if err != nil {
		panic(err)
	}
	return buf
}

func TestDecodeRegisterSnapshot(t *testing.T) {
	buf := snapshotBuf(func(s *RegisterSnapshot) {
		s.Rax = 0xdeadbeef
		s.R15 = 0x123456789abcdef0
	})
	if len(buf) != SnapshotSize {
		t.Fatalf("encoded snapshot is %d bytes, want %d", len(buf), SnapshotSize)
	}
	// The buffer layout is the raw user_regs_struct image: R15 first.
	if got := binary.LittleEndian.Uint64(buf[:8]); got != 0x123456789abcdef0 {
		t.Errorf("first field of encoded buffer = %#x, want r15", got)
	}

	s, err := DecodeRegisterSnapshot(buf)
	if err != nil {
		t.Fatalf("DecodeRegisterSnapshot: %v", err)
	}
	if s.Rax != 0xdeadbeef || s.Rip != 0x401000 || s.Eflags != 0x202 {
		t.Errorf("roundtrip mismatch: %+v", s)
	}
}

func TestDecodeRegisterSnapshotWrongSize(t *testing.T) {
	for _, size := range []int{0, 8, SnapshotSize - 1, SnapshotSize + 1, 1024} {
		if _, err := DecodeRegisterSnapshot(make([]byte, size)); err != ErrInvalidRegisterState {
			t.Errorf("size %d: got %v, want ErrInvalidRegisterState", size, err)
		}
	}
}

func TestValidateSnapshot(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*RegisterSnapshot)
		ok     bool
	}{
		{"plain", func(s *RegisterSnapshot) {}, true},
		{"zero selectors", func(s *RegisterSnapshot) { s.Cs = 0; s.Ss = 0 }, true},
		{"trap flag", func(s *RegisterSnapshot) { s.Eflags |= 0x100 }, true},
		{"arithmetic flags", func(s *RegisterSnapshot) { s.Eflags = 0x8d5 }, true},
		{"iopl", func(s *RegisterSnapshot) { s.Eflags |= 0x3000 }, false},
		{"vm flag", func(s *RegisterSnapshot) { s.Eflags |= 1 << 17 }, false},
		{"kernel cs", func(s *RegisterSnapshot) { s.Cs = 0x10 }, false},
		{"kernel ss", func(s *RegisterSnapshot) { s.Ss = 0x18 }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := RegisterSnapshot{Eflags: 0x202, Cs: 0x33, Ss: 0x2b}
			tc.mutate(&s)
			err := s.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tc.ok && err != ErrInvalidRegisterState {
				t.Errorf("Validate() = %v, want ErrInvalidRegisterState", err)
			}
		})
	}
}

func TestNormalizeSnapshot(t *testing.T) {
	var s RegisterSnapshot
	s.Normalize()
	if s.Cs != userCS || s.Ss != userSS {
		t.Errorf("Normalize() = cs %#x ss %#x, want cs %#x ss %#x", s.Cs, s.Ss, uint64(userCS), uint64(userSS))
	}
	s = RegisterSnapshot{Cs: userCS, Ss: userSS}
	s.Normalize()
	if s.Cs != userCS || s.Ss != userSS {
		t.Errorf("Normalize clobbered valid selectors: %+v", s)
	}
}
