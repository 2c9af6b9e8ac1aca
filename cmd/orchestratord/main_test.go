package main

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsAddrInUse_DetectsEADDRINUSE(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = net.Listen("tcp", ln.Addr().String())
	if err == nil {
		t.Fatal("expected second listen on the same addr to fail")
	}
	if !isAddrInUse(err) {
		t.Fatalf("expected isAddrInUse(%v) to be true", err)
	}
}

func TestIsAddrInUse_FalseForUnrelatedError(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
	if isAddrInUse(err) {
		t.Fatal("expected ECONNREFUSED to not be reported as address-in-use")
	}
}

func TestIsAddrInUse_FalseForPlainError(t *testing.T) {
	if isAddrInUse(errors.New("boom")) {
		t.Fatal("expected a plain error to not be reported as address-in-use")
	}
}

func TestPortOccupantHint_IncludesPort(t *testing.T) {
	hint := portOccupantHint("127.0.0.1:8780")
	if hint == "" {
		t.Fatal("expected a non-empty hint")
	}
}

func TestPortOccupantHint_HandlesMalformedAddr(t *testing.T) {
	hint := portOccupantHint("not-a-valid-addr")
	if hint == "" {
		t.Fatal("expected a fallback hint for an unparsable address")
	}
}

func TestObservabilityExporter(t *testing.T) {
	if got := observabilityExporter(""); got != "" {
		t.Errorf("observabilityExporter(\"\") = %q, want empty (obs defaults to stdout)", got)
	}
	if got := observabilityExporter("collector:4318"); got != "otlp-http" {
		t.Errorf("observabilityExporter(endpoint) = %q, want otlp-http", got)
	}
}
