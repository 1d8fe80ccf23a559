package native

import (
	"github.com/sirupsen/logrus"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/oracle"
)

// mapEntry is one mapping in the target's address space.
type mapEntry struct {
	start, end uint64

	read, write, exec, private bool

	offset   uint64
	dev      string
	filename string
}

func (m *mapEntry) size() uint64 {
	return m.end - m.start
}

func (m *mapEntry) contains(addr uint64) bool {
	return addr >= m.start && addr < m.end
}

func (m *mapEntry) overlaps(start, end uint64) bool {
	return start < m.end && m.start < end
}

func (m *mapEntry) prot() oracle.Prot {
	var p oracle.Prot
	if m.read {
		p |= oracle.ProtRead
	}
	if m.write {
		p |= oracle.ProtWrite
	}
	if m.exec {
		p |= oracle.ProtExec
	}
	return p
}

func findEntry(entries []mapEntry, addr uint64) *mapEntry {
	for i := range entries {
		if entries[i].contains(addr) {
			return &entries[i]
		}
	}
	return nil
}

// addressSpace is the mutable view of a target's memory the mapping
// transaction operates on. *Target implements it with remote syscalls;
// tests substitute a fake.
type addressSpace interface {
	memoryMap() ([]mapEntry, error)
	mapRange(addr, size uint64, prot oracle.Prot, flags int32, fd int32) error
	unmapRange(addr, size uint64) error
	readMemory(addr uint64, size int) ([]byte, error)
	writeMemory(addr uint64, data []byte) error
}

// maxUndoBytes bounds the page contents saved for rollback in one
// transaction. Mappings larger than the remaining budget are restored
// zero-filled instead.
const maxUndoBytes = 4 << 20

type undoEntry interface {
	revert(as addressSpace) error
}

// undoMap reverts a fresh mapping by removing it.
type undoMap struct {
	addr, size uint64
}

func (u undoMap) revert(as addressSpace) error {
	return as.unmapRange(u.addr, u.size)
}

// undoUnmap reverts a removed mapping by recreating it with the original
// extent and protection and, when saved, the original contents. A private
// file backing is restored as an anonymous copy; the extent, protection
// and bytes match, the backing object does not.
type undoUnmap struct {
	entry mapEntry
	data  []byte
}

func (u undoUnmap) revert(as addressSpace) error {
	if err := as.mapRange(u.entry.start, u.entry.size(), u.entry.prot(), 0, oracle.AnonFD); err != nil {
		return err
	}
	if u.data == nil {
		return nil
	}
	return as.writeMemory(u.entry.start, u.data)
}

// mappingTxn applies the unmap and map lists of one observation request
// as a single transaction: every operation already applied is reverted if
// any later one fails, so a partially applied batch is never visible to a
// subsequent request.
type mappingTxn struct {
	as    addressSpace
	log   *logrus.Entry
	undo  []undoEntry
	saved int
}

func newMappingTxn(as addressSpace) *mappingTxn {
	return &mappingTxn{
		as:  as,
		log: logflags.EngineLogger(),
	}
}

// apply runs all unmaps in list order, then all maps in list order. On
// error the transaction has already been rolled back when apply returns.
func (txn *mappingTxn) apply(req *oracle.ObservationRequest) error {
	entries, err := txn.as.memoryMap()
	if err != nil {
		return err
	}
	for _, op := range req.Unmaps {
		ent := findEntry(entries, op.Addr)
		if ent == nil {
			// Unmapping an address that is not mapped is a no-op; the
			// controller cannot always know prior state precisely.
			continue
		}
		var data []byte
		if ent.read && txn.saved+int(ent.size()) <= maxUndoBytes {
			data, err = txn.as.readMemory(ent.start, int(ent.size()))
			if err != nil {
				data = nil
			}
		}
		if err := txn.as.unmapRange(ent.start, ent.size()); err != nil {
			txn.rollback()
			return err
		}
		txn.undo = append(txn.undo, undoUnmap{entry: *ent, data: data})
		txn.saved += len(data)
	}
	for _, op := range req.Maps {
		if err := txn.as.mapRange(op.Addr, oracle.PageSize, op.Prot, req.MappingFlags, op.FD); err != nil {
			txn.rollback()
			return err
		}
		txn.undo = append(txn.undo, undoMap{addr: op.Addr, size: oracle.PageSize})
	}
	return nil
}

// rollback reverts the applied operations in reverse order, restoring the
// address space to its pre-request state.
func (txn *mappingTxn) rollback() {
	for i := len(txn.undo) - 1; i >= 0; i-- {
		if err := txn.undo[i].revert(txn.as); err != nil {
			txn.log.Errorf("rollback of mapping operation %d failed: %v", i, err)
		}
	}
	txn.undo = nil
	txn.saved = 0
}

// commit releases the undo log; the mappings now belong to the target's
// address space.
func (txn *mappingTxn) commit() {
	txn.undo = nil
	txn.saved = 0
}
