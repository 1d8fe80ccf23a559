package oracle

import (
	"testing"
)

func TestCaptureOutcome(t *testing.T) {
	for _, tc := range []struct {
		name string
		st   ExecState
		want ObservationResult
	}{
		{
			"step trap",
			ExecState{Outcome: Trapped, Signal: 5, SigCode: 2},
			ObservationResult{Status: StatusStepped, Signal: 5, SigCode: 2},
		},
		{
			"segfault with address",
			ExecState{Outcome: Faulted, Signal: 11, SigCode: 1, Addr: 0x5000001000, AddrValid: true},
			ObservationResult{Status: StatusFault, Signal: 11, SigCode: 1, Addr: 0x5000001000, AddrValid: true},
		},
		{
			"illegal instruction without address",
			ExecState{Outcome: Faulted, Signal: 4, SigCode: 1},
			ObservationResult{Status: StatusFault, Signal: 4, SigCode: 1},
		},
		{
			"exit",
			ExecState{Outcome: Exited, ExitStatus: 42},
			ObservationResult{Status: StatusExited, Errno: 42},
		},
		{
			"killed by signal",
			ExecState{Outcome: Exited, Signal: 9, ExitStatus: 137},
			ObservationResult{Status: StatusExited, Signal: 9, Errno: 137},
		},
		{
			"timeout sentinels",
			ExecState{Outcome: TimedOut},
			ObservationResult{Status: StatusTimeout, Signal: -1, SigCode: -1, Errno: -1},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := CaptureOutcome(tc.st); got != tc.want {
				t.Errorf("CaptureOutcome(%+v) = %+v, want %+v", tc.st, got, tc.want)
			}
		})
	}
}

func TestCaptureOutcomeNoAddressForTrap(t *testing.T) {
	// A trap's siginfo address must never leak into the result.
	st := ExecState{Outcome: Trapped, Signal: 5, Addr: 0x1234, AddrValid: true}
	if got := CaptureOutcome(st); got.AddrValid || got.Addr != 0 {
		t.Errorf("trap outcome carries a faulting address: %+v", got)
	}
}
