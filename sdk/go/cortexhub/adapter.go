package cortexhub

// Enforcement is the translation of a policy decision into framework-native
// control flow: either proceed with the call or short-circuit it.
type Enforcement struct {
	ShortCircuit bool
	Reason       string
}

// Proceed permits the call.
func Proceed() Enforcement {
	return Enforcement{}
}

// ShortCircuit aborts the call with a human-readable reason.
func ShortCircuit(reason string) Enforcement {
	return Enforcement{ShortCircuit: true, Reason: reason}
}

// Capabilities declares what the host framework's control flow supports.
type Capabilities struct {
	// SupportsSuspension is true when the host can block mid-call while a
	// human decides. Hosts that cannot get the signal-and-retry contract
	// (*ApprovalPendingError) instead.
	SupportsSuspension bool
}

// Adapter is the contract each framework shim implements. The adapter owns
// the call for its duration and is the only component that touches the
// framework's native call path; the Hub drives the stages in order via
// Govern.
type Adapter interface {
	// BeforeCall normalizes the framework's native invocation into a Call.
	BeforeCall(native any) (Call, error)

	// Enforce translates the evaluation outcome into framework control
	// flow. It is consulted once per call, before execution.
	Enforce(call Call, res Result) Enforcement

	// AfterCall observes the executed result for post-execution detection
	// and telemetry. It never re-evaluates policy.
	AfterCall(call Call, result any, failed bool)

	Capabilities() Capabilities
}
