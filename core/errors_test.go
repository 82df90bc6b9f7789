package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Comcast/automata/version"
)

func TestCode(t *testing.T) {
	_, ferr := version.ToNumber("bad")
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{VersionConflict, "VersionConflict"},
		{fmt.Errorf("apply: %w", NotFound), "NotFound"},
		{Forbidden, "Forbidden"},
		{Archived, "Archived"},
		{&UnknownEventType{EventType: "FOO"}, "UnknownEventType"},
		{fmt.Errorf("x: %w", &InvalidEventPayload{EventType: "A", Err: errors.New("no")}), "InvalidEventPayload"},
		{ferr, "FormatError"},
		{version.Overflow, "Overflow"},
		{version.Underflow, "Underflow"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, test := range tests {
		if got := Code(test.err); got != test.code {
			t.Fatalf("Code(%v) = %q, not %q", test.err, got, test.code)
		}
	}
}
