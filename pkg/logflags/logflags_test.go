package logflags

import (
	"io"
	"testing"
)

func TestSetupParsesLayers(t *testing.T) {
	defer func() {
		session, ipc, breakpoint, fidlcat, minidump, symbolizer = false, false, false, false, false, false
	}()
	if err := Setup(true, "session,ipc,fidlcat", ""); err != nil {
		t.Fatal(err)
	}
	if !Session() || !IPC() || !Fidlcat() {
		t.Fatalf("expected session/ipc/fidlcat enabled, got %v/%v/%v", Session(), IPC(), Fidlcat())
	}
	if Breakpoint() || Minidump() || Symbolizer() {
		t.Fatal("unrequested layers enabled")
	}
}

func TestSetupDefaultsToSession(t *testing.T) {
	defer func() { session = false }()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Session() {
		t.Fatal("expected session layer enabled by default")
	}
}

func TestLogOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "ipc", ""); err == nil {
		t.Fatal("expected an error for --log-output without --log")
	}
}

func TestLoggerFactoryIsUsed(t *testing.T) {
	defer SetLoggerFactory(nil)
	var gotFields Fields
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		gotFields = fields
		return nil
	})
	SessionLogger()
	if gotFields["layer"] != "session" {
		t.Fatalf("expected layer=session, got %v", gotFields)
	}
}
