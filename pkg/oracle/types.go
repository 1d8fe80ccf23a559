package oracle

// MaxMapOps is the hard capacity limit on the unmap and map lists of a
// single observation request. Requests exceeding it are rejected before
// any mutation of the target.
const MaxMapOps = 32

// PageSize is the mapping granularity. Every map operation creates exactly
// one page; addresses must be aligned to it.
const PageSize = 0x1000

// Prot describes the protection bits of a mapping.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// AnonFD is the backing descriptor value requesting an anonymous mapping.
const AnonFD = -1

// UnmapOp names a virtual address whose containing mapping must be removed
// from the target's address space. Unmapping an address that is not mapped
// is a no-op, not an error.
type UnmapOp struct {
	Addr uint64
}

// MapOp maps one page at Addr. FD is resolved in the target's descriptor
// table; AnonFD requests an anonymous page.
type MapOp struct {
	Addr uint64
	FD   int32
	Prot Prot
}

// ObservationRequest describes one observation: reshape the target's
// address space, overwrite its registers, execute one controlled step and
// report what happened. The request is owned by the caller for the
// duration of one call and is not retained afterwards.
type ObservationRequest struct {
	Pid          int
	Unmaps       []UnmapOp
	Maps         []MapOp
	MappingFlags int32
	Regs         RegisterSnapshot
}

// Validate checks the request against the wire contract: capacity limits,
// page alignment and a plausible target identifier. It performs no
// mutation and must be called before any is attempted.
func (req *ObservationRequest) Validate() error {
	if req.Pid <= 0 {
		return ErrNoSuchProcess
	}
	if len(req.Unmaps) > MaxMapOps || len(req.Maps) > MaxMapOps {
		return ErrTooManyOps
	}
	for _, op := range req.Unmaps {
		if op.Addr%PageSize != 0 {
			return ErrMisalignedAddress
		}
	}
	for _, op := range req.Maps {
		if op.Addr%PageSize != 0 {
			return ErrMisalignedAddress
		}
		if op.Prot&^(ProtRead|ProtWrite|ProtExec) != 0 {
			return ErrBadProtection
		}
	}
	return nil
}
