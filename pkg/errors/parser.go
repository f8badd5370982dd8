package errors

import (
	"fmt"
	"strings"
)

// RowError describes a single rejected input row
type RowError struct {
	File    string `json:"file"`
	Sheet   string `json:"sheet,omitempty"`
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *RowError) Error() string {
	var b strings.Builder
	b.WriteString(e.File)
	if e.Sheet != "" {
		fmt.Fprintf(&b, "[%s]", e.Sheet)
	}
	fmt.Fprintf(&b, ":%d", e.Line)
	if e.Column != "" {
		fmt.Fprintf(&b, " column %s", e.Column)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value %q", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// ToReconcilerError converts the row error into a parse error
func (e *RowError) ToReconcilerError() *ReconcilerError {
	re := ParseError(CodeInvalidData, e.File, e.Line, e.Column, e.Value, e.Cause)
	re.Message = e.Error()
	if e.Sheet != "" {
		re.WithContext("sheet", e.Sheet)
	}
	return re
}

// RowErrorCollector accumulates row errors up to a limit
type RowErrorCollector struct {
	maxErrors int
	errors    []*RowError
}

// NewRowErrorCollector creates a collector; maxErrors <= 0 means unlimited
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether parsing may continue
func (c *RowErrorCollector) Add(err *RowError) bool {
	c.errors = append(c.errors, err)
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Summary converts the collected rows into an ErrorSummary
func (c *RowErrorCollector) Summary() *ErrorSummary {
	converted := make([]*ReconcilerError, 0, len(c.errors))
	for _, err := range c.errors {
		converted = append(converted, err.ToReconcilerError())
	}
	return NewErrorSummary(converted)
}

// FormatRowErrors renders row errors for terminal output
func FormatRowErrors(errs []*RowError, max int) string {
	if len(errs) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s) rejected:\n", len(errs))
	for i, err := range errs {
		if max > 0 && i >= max {
			fmt.Fprintf(&b, "  ... and %d more\n", len(errs)-max)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", err.Error())
	}
	return b.String()
}
