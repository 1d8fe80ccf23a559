package api

// APIVersion is the protocol version this build serves. The handshake
// token must match it.
const APIVersion = 1

type GetVersionIn struct {
}

type GetVersionOut struct {
	Version    string
	APIVersion int
}

type HandshakeIn struct {
	// Token names the API version the controller expects.
	Token int
}

type HandshakeOut struct {
	// Ack is Token incremented, proving the engine understood it.
	Ack int
}

// UnmapOp removes the mapping containing Addr.
type UnmapOp struct {
	Addr uint64
}

// MapOp maps one page at Addr. FD is a descriptor in the target's
// descriptor table; -1 requests an anonymous page. Prot bits are
// 1=read, 2=write, 4=exec.
type MapOp struct {
	Addr uint64
	FD   int32
	Prot uint8
}

type ObserveIn struct {
	Pid          int
	Unmaps       []UnmapOp
	Maps         []MapOp
	MappingFlags int32
	// RegisterSnapshot is the raw amd64 user_regs_struct image, 216
	// bytes little endian.
	RegisterSnapshot []byte
}

// ObservationResult reports what one controlled step did. Status is one
// of "stepped", "fault", "exited", "timeout". FaultingAddress is set
// only for address-class faults.
type ObservationResult struct {
	Status          string
	Signal          int32
	SigCode         int32
	Errno           int32
	FaultingAddress *uint64
}

type ObserveOut struct {
	Result ObservationResult
}

type LaunchIn struct {
	Path string
	Args []string
	Dir  string
}

type LaunchOut struct {
	Pid int
}

type AttachIn struct {
	Pid int
}

type AttachOut struct {
}

type DetachIn struct {
	Pid  int
	Kill bool
}

type DetachOut struct {
}

type ReadRegistersIn struct {
	Pid int
}

type ReadRegistersOut struct {
	// Regs is packed in the same raw layout observe requests use.
	Regs []byte
}
