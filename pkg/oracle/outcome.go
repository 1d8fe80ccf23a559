package oracle

// Status classifies what happened when the target was stepped.
type Status string

const (
	// StatusStepped: the instruction executed and the target hit the step
	// trap. The common case.
	StatusStepped Status = "stepped"
	// StatusFault: the instruction raised a fault or the target received
	// another signal, intercepted before delivery.
	StatusFault Status = "fault"
	// StatusExited: the target terminated.
	StatusExited Status = "exited"
	// StatusTimeout: the target did not reach a stopping state within the
	// configured bound and was forcibly suspended.
	StatusTimeout Status = "timeout"
)

// Outcome is the terminal state of the execution state machine for one
// controlled step.
type Outcome int

const (
	Trapped Outcome = iota
	Faulted
	Exited
	TimedOut
)

// ExecState captures everything the execution controller learned from one
// terminal transition. It is read-only input to CaptureOutcome.
type ExecState struct {
	Outcome    Outcome
	Signal     int32
	SigCode    int32
	Errno      int32
	Addr       uint64
	AddrValid  bool
	ExitStatus int32
}

// ObservationResult is the fixed-shape record returned to the controller.
// Exactly one is produced per request; the target is left suspended after
// capture.
type ObservationResult struct {
	Status  Status
	Signal  int32
	SigCode int32
	Errno   int32
	// Addr is the faulting address, valid only when AddrValid is set. It
	// is populated for address-class faults (invalid memory accesses).
	Addr      uint64
	AddrValid bool
}

// Sentinel value for the signal fields of a timeout result.
const timeoutSentinel = -1

// CaptureOutcome maps a terminal execution state to the result record. It
// performs no mutation of the target.
func CaptureOutcome(st ExecState) ObservationResult {
	switch st.Outcome {
	case Trapped:
		return ObservationResult{
			Status:  StatusStepped,
			Signal:  st.Signal,
			SigCode: st.SigCode,
			Errno:   st.Errno,
		}
	case Faulted:
		return ObservationResult{
			Status:    StatusFault,
			Signal:    st.Signal,
			SigCode:   st.SigCode,
			Errno:     st.Errno,
			Addr:      st.Addr,
			AddrValid: st.AddrValid,
		}
	case Exited:
		// The error code field carries the exit status; the signal field
		// the terminating signal, if any.
		return ObservationResult{
			Status: StatusExited,
			Signal: st.Signal,
			Errno:  st.ExitStatus,
		}
	default:
		return ObservationResult{
			Status:  StatusTimeout,
			Signal:  timeoutSentinel,
			SigCode: timeoutSentinel,
			Errno:   timeoutSentinel,
		}
	}
}
