package fix

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogFactory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := NewLogFactory(zap.New(core).Sugar())

	l, err := f.CreateSessionLog(NewSessionID("CLIENT", "ENGINE"))
	if err != nil {
		t.Fatalf("CreateSessionLog: %v", err)
	}
	l.OnIncoming([]byte("8=FIX.4.2" + SOH + "35=0" + SOH))
	l.OnEventf("connected to %s", "127.0.0.1:5001")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	in := entries[0].ContextMap()
	if entries[0].Message != "fix_incoming" || in["msg"] != "8=FIX.4.2|35=0|" || in["session"] != "FIX.4.2:CLIENT->ENGINE" {
		t.Errorf("incoming entry = %+v", entries[0])
	}
	if entries[1].ContextMap()["event"] != "connected to 127.0.0.1:5001" {
		t.Errorf("event entry = %+v", entries[1])
	}

	global, err := f.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	global.OnOutgoing([]byte("35=A" + SOH))
	if got := logs.All()[2].ContextMap()["session"]; got != "global" {
		t.Errorf("global session field = %v", got)
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	ok := write("ok.cfg", `[DEFAULT]
SocketConnectHost=127.0.0.1
SocketConnectPort=5001
HeartBtInt=30

[SESSION]
BeginString=FIX.4.2
SenderCompID=CLIENT
TargetCompID=ENGINE
`)
	settings, err := LoadSettings(ok)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if _, found := settings.SessionSettings()[NewSessionID("CLIENT", "ENGINE")]; !found {
		t.Errorf("session missing from %v", settings.SessionSettings())
	}

	if _, err := LoadSettings(write("empty.cfg", "[DEFAULT]\nHeartBtInt=30\n")); err == nil {
		t.Error("expected error without a session")
	}
	if _, err := LoadSettings(filepath.Join(dir, "missing.cfg")); err == nil {
		t.Error("expected error for a missing file")
	}
}
