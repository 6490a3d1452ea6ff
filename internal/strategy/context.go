package strategy

import (
	"fmt"

	"github.com/mwhitfield/spreadscan/internal/policy"
)

// ScanContext carries the resolved policy, the caller's request, and the
// warning sink through every pipeline stage. It replaces any temptation to
// smuggle configuration onto the trade records themselves: trades stay pure
// domain data, the context stays transient.
type ScanContext struct {
	Policy   policy.Policy
	Request  *policy.Request
	Warnings *WarningSink
}

// NewScanContext builds a context with a fresh warning sink.
func NewScanContext(p policy.Policy, req *policy.Request) *ScanContext {
	return &ScanContext{Policy: p, Request: req, Warnings: &WarningSink{}}
}

// WithPolicy returns a copy of the context carrying a different policy but
// sharing the same warning sink and request. Relaxation uses this to re-run
// evaluation under loosened filters.
func (c *ScanContext) WithPolicy(p policy.Policy) *ScanContext {
	return &ScanContext{Policy: p, Request: c.Request, Warnings: c.Warnings}
}

// WarningSink collects non-fatal warnings raised during enrichment, such as
// non-finite metric coercions or history-scale mismatches. The scan owner
// drains it into the log after the pipeline finishes; enrichment itself
// never touches a logger or global state.
type WarningSink struct {
	warnings []string
}

// Addf records one formatted warning.
func (w *WarningSink) Addf(format string, args ...interface{}) {
	if w == nil {
		return
	}
	w.warnings = append(w.warnings, fmt.Sprintf(format, args...))
}

// All returns the collected warnings in arrival order.
func (w *WarningSink) All() []string {
	if w == nil {
		return nil
	}
	return w.warnings
}
