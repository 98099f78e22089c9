package besteffort

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestRunSwallowsErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	if Run(logger, "cleanup", func() error { return errors.New("disk gone") }) {
		t.Fatalf("expected failure to be reported")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Data["action"] != "cleanup" {
		t.Fatalf("expected warn entry for cleanup, got %+v", entry)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ok := Runf(logger, func() error { panic("boom") }, "notify %d", 42)
	if ok {
		t.Fatalf("panicking side effect should report failure")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatalf("expected panic to be logged at error level")
	}
}

func TestRunSuccess(t *testing.T) {
	logger, hook := test.NewNullLogger()
	if !Run(logger, "noop", func() error { return nil }) {
		t.Fatalf("expected success")
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("success should not log")
	}
}
