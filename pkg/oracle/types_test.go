package oracle

import (
	"errors"
	"testing"
)

func validRequest() *ObservationRequest {
	return &ObservationRequest{
		Pid: 1234,
		Unmaps: []UnmapOp{
			{Addr: 0x1000},
		},
		Maps: []MapOp{
			{Addr: 0x2000, FD: AnonFD, Prot: ProtRead | ProtWrite},
		},
	}
}

func TestValidateRequest(t *testing.T) {
	manyUnmaps := make([]UnmapOp, MaxMapOps+1)
	for i := range manyUnmaps {
		manyUnmaps[i] = UnmapOp{Addr: uint64(i+1) * PageSize}
	}
	manyMaps := make([]MapOp, MaxMapOps+1)
	for i := range manyMaps {
		manyMaps[i] = MapOp{Addr: uint64(i+1) * PageSize, FD: AnonFD, Prot: ProtRead}
	}

	for _, tc := range []struct {
		name   string
		mutate func(*ObservationRequest)
		err    error
	}{
		{"valid", func(req *ObservationRequest) {}, nil},
		{"zero pid", func(req *ObservationRequest) { req.Pid = 0 }, ErrNoSuchProcess},
		{"negative pid", func(req *ObservationRequest) { req.Pid = -7 }, ErrNoSuchProcess},
		{"too many unmaps", func(req *ObservationRequest) { req.Unmaps = manyUnmaps }, ErrTooManyOps},
		{"too many maps", func(req *ObservationRequest) { req.Maps = manyMaps }, ErrTooManyOps},
		{"unmaps at capacity", func(req *ObservationRequest) { req.Unmaps = manyUnmaps[:MaxMapOps] }, nil},
		{"maps at capacity", func(req *ObservationRequest) { req.Maps = manyMaps[:MaxMapOps] }, nil},
		{"misaligned unmap", func(req *ObservationRequest) { req.Unmaps[0].Addr = 0x1001 }, ErrMisalignedAddress},
		{"misaligned map", func(req *ObservationRequest) { req.Maps[0].Addr = 0x2004 }, ErrMisalignedAddress},
		{"bad protection", func(req *ObservationRequest) { req.Maps[0].Prot = 0x40 }, ErrBadProtection},
		{"empty lists", func(req *ObservationRequest) { req.Unmaps = nil; req.Maps = nil }, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			if err := req.Validate(); !errors.Is(err, tc.err) {
				t.Errorf("Validate() = %v, want %v", err, tc.err)
			}
		})
	}
}
