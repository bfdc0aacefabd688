package diag

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tliron/commonlog"
)

func TestDiagnosticError(t *testing.T) {
	d := New(SyntaxError, KindPrematureEOF, Position{Line: 2, Column: 5}, "page", "premature EOF")
	got := d.Error()
	if got != "SyntaxError page 2:5: premature EOF" {
		t.Errorf("Error() = %q", got)
	}
	if d.Severity != SeverityError {
		t.Errorf("Severity = %v, want error", d.Severity)
	}

	w := New(RuntimeWarning, KindNoSuchAttribute, Position{}, "", "no such attribute: x")
	if w.Severity != SeverityWarning {
		t.Errorf("Severity = %v, want warning", w.Severity)
	}
	if w.Error() != "RuntimeWarning: no such attribute: x" {
		t.Errorf("Error() = %q", w.Error())
	}
}

func TestDiagnosticUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	d := New(RuntimeWarning, KindWriteFailed, Position{}, "t", "write failed")
	d.Err = cause
	if !errors.Is(d, cause) {
		t.Error("errors.Is(d, cause) = false")
	}
	fatal := &FatalError{Diagnostic: d}
	if !errors.Is(fatal, cause) {
		t.Error("errors.Is(fatal, cause) = false")
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.Report(New(RuntimeWarning, KindNoSuchAttribute, Position{}, "t", "a"))
	c.Report(New(SyntaxError, KindSurprise, Position{Line: 1, Column: 1}, "t", "b"))
	c.Report(New(SyntaxError, KindPrematureEOF, Position{Line: 1, Column: 3}, "t", "c"))

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Count(SyntaxError) != 2 {
		t.Errorf("Count(SyntaxError) = %d, want 2", c.Count(SyntaxError))
	}
	if !c.Has(KindPrematureEOF) {
		t.Error("Has(KindPrematureEOF) = false")
	}
	if c.Has(KindUnparseable) {
		t.Error("Has(KindUnparseable) = true")
	}

	err := c.Err()
	if err == nil {
		t.Fatal("Err() = nil")
	}
	if strings.Contains(err.Error(), "RuntimeWarning") {
		t.Errorf("warnings should not be folded into Err(): %v", err)
	}
	if !strings.Contains(err.Error(), "2 errors occurred") {
		t.Errorf("Err() = %v", err)
	}

	c.Reset()
	if c.Err() != nil {
		t.Error("Err() after Reset should be nil")
	}
}

func TestTee(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	l := Tee(a, nil, b)
	l.Report(New(LexicalError, KindBadCharacter, Position{}, "", "x"))
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("tee lens = %d, %d", a.Len(), b.Len())
	}
}

type levelLogger struct {
	commonlog.Logger
	lines []string
}

func (l *levelLogger) Critical(msg string, _ ...any) { l.lines = append(l.lines, "critical: "+msg) }
func (l *levelLogger) Error(msg string, _ ...any)    { l.lines = append(l.lines, "error: "+msg) }
func (l *levelLogger) Warning(msg string, _ ...any)  { l.lines = append(l.lines, "warning: "+msg) }

func TestLogListenerLevels(t *testing.T) {
	rec := &levelLogger{}
	l := &LogListener{Log: rec}
	l.Report(New(RuntimeWarning, KindNoSuchAttribute, Position{}, "t", "no such attribute: x"))
	l.Report(New(SyntaxError, KindPrematureEOF, Position{Line: 1, Column: 2}, "t", "premature EOF"))
	l.Report(New(FatalRuntimeError, KindWriteFailed, Position{}, "t", "write failed"))

	want := []string{
		"warning: RuntimeWarning t: no such attribute: x",
		"error: SyntaxError t 1:2: premature EOF",
		"critical: FatalRuntimeError t: write failed",
	}
	if diff := cmp.Diff(want, rec.lines); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}
