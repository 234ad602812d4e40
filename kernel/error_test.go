package kernel

import (
	"errors"
	"testing"
)

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestKernelErrorIs(t *testing.T) {
	var (
		err   = &Error{Module: "pmm", Message: "out of physical memory"}
		dup   = &Error{Module: "pmm", Message: "out of physical memory"}
		other = &Error{Module: "vmm", Message: "out of physical memory"}
	)

	specs := []struct {
		target error
		exp    bool
	}{
		{err, true},
		{dup, true},
		{other, false},
		{errors.New("out of physical memory"), false},
	}

	for specIndex, spec := range specs {
		if got := errors.Is(err, spec.target); got != spec.exp {
			t.Errorf("[spec %d] expected errors.Is to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}
