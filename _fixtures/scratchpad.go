package main

// Maps one rwx page of known opcodes, prints its address on stdout and
// idles. Observation tests point the target's program counter into the
// page.
//
// Offset 0:  syscall
// Offset 8:  nop
// Offset 16: add [rax], al

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

func main() {
	mem, err := sys.Mmap(-1, 0, 4096, sys.PROT_READ|sys.PROT_WRITE|sys.PROT_EXEC, sys.MAP_PRIVATE|sys.MAP_ANON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	copy(mem[0:], []byte{0x0f, 0x05})
	copy(mem[8:], []byte{0x90})
	copy(mem[16:], []byte{0x00, 0x00})

	fmt.Printf("%d\n", uintptr(unsafe.Pointer(&mem[0])))

	for {
		time.Sleep(time.Second)
	}
}
