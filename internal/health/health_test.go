package health

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodes(t *testing.T) {
	cases := map[Status]int{OK: 0, Warning: 1, Critical: 2, Unknown: 3, Status("garbage"): 3}
	for s, want := range cases {
		if got := s.ExitCode(); got != want {
			t.Errorf("%q.ExitCode() = %d, want %d", s, got, want)
		}
	}
}

func TestVerdictString(t *testing.T) {
	v := Verdict{Status: OK, Message: "Everything is up to date", Perfdata: UpdateCounters(0, 0)}
	want := "UPDATE OK - Everything is up to date | 'Total Update'=0 'Security Update'=0"
	if got := v.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	v = Verdict{Status: Critical, Message: "Cancelled by user"}
	if got := v.String(); got != "UPDATE Critical - Cancelled by user" {
		t.Fatalf("String() = %q", got)
	}

	v = Verdict{
		Status:     Warning,
		Message:    "Security-Update = 1, Total-Update = 2",
		Perfdata:   UpdateCounters(2, 1),
		LongOutput: []string{"Security updates:", "openssl 3.0.13 (SECURITY)"},
	}
	want = "UPDATE Warning - Security-Update = 1, Total-Update = 2 | 'Total Update'=2 'Security Update'=1\n" +
		"Security updates:\nopenssl 3.0.13 (SECURITY)"
	if got := v.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err     error
		status  Status
		message string
	}{
		{nil, OK, "OK"},
		{fmt.Errorf("confirm: %w", ErrCancelled), Critical, "Cancelled by user"},
		{ErrInterrupted, Critical, "Operation cancelled"},
		{ErrLockContended, Warning, "Failed to acquire lock file"},
		{errors.New("get updates failed: backend down"), Critical, "An error occurred: get updates failed: backend down"},
	}
	for _, tt := range tests {
		v := FromError(tt.err)
		if v.Status != tt.status || v.Message != tt.message {
			t.Errorf("FromError(%v) = %q %q, want %q %q", tt.err, v.Status, v.Message, tt.status, tt.message)
		}
	}
}
