package podlog

import "testing"

func TestSetLogger(t *testing.T) {
	original := logf
	originalLevel := threshold
	defer func() {
		logf = original
		threshold = originalLevel
	}()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
		_ = v
	})
	SetLevel(Debug)

	Infof("nav", "tick %d", 3)
	if got == "" {
		t.Fatal("expected custom logger to be invoked")
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	original := logf
	defer func() { logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	Errorf("motor", "should not reach sink")
	if called {
		t.Error("nil logger should have replaced the previous sink")
	}
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	original := logf
	originalLevel := threshold
	defer func() {
		logf = original
		threshold = originalLevel
	}()

	count := 0
	SetLogger(func(string, ...interface{}) { count++ })
	SetLevel(Warn)

	Debugf("sensors", "ignored")
	Infof("sensors", "ignored")
	if count != 0 {
		t.Fatalf("expected debug/info suppressed at Warn threshold, got %d calls", count)
	}

	Warnf("sensors", "heard")
	Criticalf("sensors", "heard")
	if count != 2 {
		t.Fatalf("expected warn/critical to pass through, got %d calls", count)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":    Debug,
		"info":     Info,
		"warn":     Warn,
		"warning":  Warn,
		"error":    Error,
		"critical": Critical,
		"bogus":    Info,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
