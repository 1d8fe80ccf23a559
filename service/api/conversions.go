package api

import (
	"strings"

	"github.com/stepscope/stepscope/pkg/oracle"
)

// ConvertRequest builds the internal observation request from its wire
// form, decoding the raw register buffer.
func ConvertRequest(in *ObserveIn) (*oracle.ObservationRequest, error) {
	regs, err := oracle.DecodeRegisterSnapshot(in.RegisterSnapshot)
	if err != nil {
		return nil, err
	}
	req := &oracle.ObservationRequest{
		Pid:          in.Pid,
		MappingFlags: in.MappingFlags,
		Regs:         regs,
	}
	for _, op := range in.Unmaps {
		req.Unmaps = append(req.Unmaps, oracle.UnmapOp{Addr: op.Addr})
	}
	for _, op := range in.Maps {
		req.Maps = append(req.Maps, oracle.MapOp{
			Addr: op.Addr,
			FD:   op.FD,
			Prot: oracle.Prot(op.Prot),
		})
	}
	return req, nil
}

// ConvertResult converts an observation result to its wire form.
func ConvertResult(res *oracle.ObservationResult) ObservationResult {
	out := ObservationResult{
		Status:  string(res.Status),
		Signal:  res.Signal,
		SigCode: res.SigCode,
		Errno:   res.Errno,
	}
	if res.AddrValid {
		addr := res.Addr
		out.FaultingAddress = &addr
	}
	return out
}

// net/rpc flattens server-side errors into bare strings. knownErrors are
// the taxonomy values a client needs to distinguish programmatically.
var knownErrors = []error{
	oracle.ErrIncompatibleVersion,
	oracle.ErrTooManyOps,
	oracle.ErrMisalignedAddress,
	oracle.ErrBadProtection,
	oracle.ErrNoSuchProcess,
	oracle.ErrPermissionDenied,
	oracle.ErrMappingConflict,
	oracle.ErrInvalidRegisterState,
	oracle.ErrProcessBusy,
}

// ConvertClientError maps an error received over the wire back to the
// matching taxonomy value, so callers can compare with errors.Is.
func ConvertClientError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, known := range knownErrors {
		if strings.HasSuffix(msg, known.Error()) {
			return known
		}
	}
	return err
}
