package diag

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
)

// Listener receives diagnostics. Implementations used across concurrent
// renders must be safe for concurrent use.
type Listener interface {
	Report(d Diagnostic)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(d Diagnostic)

// Report calls f(d).
func (f ListenerFunc) Report(d Diagnostic) { f(d) }

// Discard drops every diagnostic.
var Discard Listener = ListenerFunc(func(Diagnostic) {})

// Or returns l, or Discard when l is nil.
func Or(l Listener) Listener {
	if l == nil {
		return Discard
	}
	return l
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collector accumulates diagnostics for later inspection.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Report implements Listener.
func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	c.diags = append(c.diags, d)
	c.mu.Unlock()
}

// All returns a copy of everything reported so far.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}

// Len returns the number of diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diags)
}

// Count returns how many diagnostics of the category were reported.
func (c *Collector) Count(cat Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.diags {
		if d.Category == cat {
			n++
		}
	}
	return n
}

// Has reports whether a diagnostic of the given kind was reported.
func (c *Collector) Has(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Reset forgets everything.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.diags = nil
	c.mu.Unlock()
}

// Err folds every non-warning diagnostic into one error, or nil.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result *multierror.Error
	for _, d := range c.diags {
		if d.Severity == SeverityWarning {
			continue
		}
		result = multierror.Append(result, d)
	}
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Fan-out and logging
// ---------------------------------------------------------------------------

// Tee forwards each diagnostic to every non-nil listener.
func Tee(listeners ...Listener) Listener {
	var ls []Listener
	for _, l := range listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	return ListenerFunc(func(d Diagnostic) {
		for _, l := range ls {
			l.Report(d)
		}
	})
}

// LogListener writes diagnostics to a commonlog logger.
type LogListener struct {
	Log commonlog.Logger
}

// NewLogListener logs to the named logger.
func NewLogListener(name string) *LogListener {
	return &LogListener{Log: commonlog.GetLogger(name)}
}

// Report implements Listener.
func (l *LogListener) Report(d Diagnostic) {
	switch d.Severity {
	case SeverityWarning:
		l.Log.Warning(d.Error())
	case SeverityFatal:
		l.Log.Critical(d.Error())
	default:
		l.Log.Error(d.Error())
	}
}
