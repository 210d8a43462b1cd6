package guestpass

import "testing"

func TestOwnershipString(t *testing.T) {
	cases := []struct {
		state Ownership
		want  string
	}{
		{OwnershipInvalid, "invalid"},
		{OwnershipHeld, "held"},
		{OwnershipCaller, "caller"},
		{OwnershipBorrowed, "borrowed"},
		{Ownership(200), "unknown"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("Ownership(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}
