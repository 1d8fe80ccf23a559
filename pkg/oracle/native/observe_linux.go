package native

import (
	"context"
	"time"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/oracle"
)

// Observe runs one observation against the target: apply the request's
// mapping transaction, inject the register snapshot, step once and
// capture the outcome. The target is suspended when Observe returns,
// whatever happened, unless the instruction under test terminated it.
//
// The request must stay within the wire contract's capacity limits and
// carry a structurally valid register snapshot; both are re-checked here
// before anything is mutated.
func (t *Target) Observe(ctx context.Context, req *oracle.ObservationRequest, stepTimeout time.Duration) (*oracle.ObservationResult, error) {
	if t.exited {
		return nil, oracle.ErrProcessExited{Pid: t.pid}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Regs.Validate(); err != nil {
		return nil, err
	}

	savedRegs, err := t.getRegs()
	if err != nil {
		return nil, err
	}
	if err := t.prepareInjection(req); err != nil {
		return nil, err
	}

	txn := newMappingTxn(t)
	if err := txn.apply(req); err != nil {
		// apply has already rolled back; injected syscalls restore the
		// registers themselves.
		return nil, err
	}

	regs := req.Regs
	regs.Normalize()
	if err := t.setRegs(&regs); err != nil {
		txn.rollback()
		t.setRawRegs(&savedRegs)
		return nil, err
	}

	// Last point where the request can be abandoned; once the target is
	// resumed the only exits are the state machine's own.
	if err := ctx.Err(); err != nil {
		txn.rollback()
		t.setRawRegs(&savedRegs)
		return nil, err
	}
	txn.commit()

	if logflags.Ptrace() {
		t.log.Debugf("stepping pid %d at %#x: %s", t.pid, regs.Rip, t.instructionAt(regs.Rip))
	}

	st, err := t.stepOnce(stepTimeout)
	if err != nil {
		return nil, err
	}
	res := oracle.CaptureOutcome(st)
	t.log.Debugf("observed pid %d: %s sig=%d code=%d", t.pid, res.Status, res.Signal, res.SigCode)
	return &res, nil
}
