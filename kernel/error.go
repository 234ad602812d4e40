package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the memory subsystem is what backs dynamic allocations
// so the code that sets it up cannot rely on errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether e and target describe the same module/message pair.
// Errors are normally compared by identity; Is lets callers that only
// receive a copy (e.g. via errors.Is on a wrapped value) match them too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return e == t
	}
	return e.Module == t.Module && e.Message == t.Message
}
