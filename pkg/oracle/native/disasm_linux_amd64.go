package native

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// maxInstructionLength is the longest legal amd64 instruction encoding.
const maxInstructionLength = 15

// decodeInstruction disassembles the first instruction in buf for log
// output. Undecodable bytes come back as a hex dump.
func decodeInstruction(buf []byte) string {
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		if len(buf) > maxInstructionLength {
			buf = buf[:maxInstructionLength]
		}
		return fmt.Sprintf("?(% x)", buf)
	}
	return x86asm.IntelSyntax(inst, 0, nil)
}

// instructionAt reads and disassembles the instruction the target would
// execute at pc.
func (t *Target) instructionAt(pc uint64) string {
	buf, err := t.readMemory(pc, maxInstructionLength)
	if err != nil {
		return fmt.Sprintf("?(unreadable: %v)", err)
	}
	return decodeInstruction(buf)
}
