package native

import (
	"strings"
	"testing"
)

func TestDecodeInstruction(t *testing.T) {
	for _, tc := range []struct {
		buf  []byte
		want string
	}{
		{[]byte{0x90}, "nop"},
		{[]byte{0x0f, 0x05}, "syscall"},
		{[]byte{0x00, 0x00}, "add byte ptr [rax], al"},
		{[]byte{0xcc}, "int3"},
	} {
		got := decodeInstruction(tc.buf)
		if got != tc.want {
			t.Errorf("decodeInstruction(% x) = %q, want %q", tc.buf, got, tc.want)
		}
	}
}

func TestDecodeInstructionUndecodable(t *testing.T) {
	got := decodeInstruction([]byte{0xff})
	if !strings.HasPrefix(got, "?(") {
		t.Errorf("decodeInstruction of truncated input = %q", got)
	}
}
