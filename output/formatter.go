package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// Formatter writes one record per open port.
type Formatter interface {
	Write(res scanner.ScanResult) error
	Flush() error
}

// TextFormatter writes the human readable report record.
type TextFormatter struct {
	w io.Writer
}

// NewTextFormatter returns a formatter writing the plain report layout to w.
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{w: w}
}

// Write renders one open port as a two line block followed by a blank line.
func (f *TextFormatter) Write(res scanner.ScanResult) error {
	_, err := fmt.Fprintf(f.w, "Port %d is open! (Service: %s)\nResponse: %s\n\n", res.Port, res.Service, res.Response)
	return err
}

// Flush is a no-op; every Write goes straight to the writer.
func (f *TextFormatter) Flush() error { return nil }

// JSONFormatter writes JSONL.
type JSONFormatter struct {
	enc *json.Encoder
}

// NewJSONFormatter returns a formatter writing one JSON object per line to w.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{enc: json.NewEncoder(w)}
}

func (f *JSONFormatter) Write(res scanner.ScanResult) error {
	return f.enc.Encode(res)
}

// Flush is a no-op.
func (f *JSONFormatter) Flush() error { return nil }

// FormatterFunc constructs a formatter over w.
type FormatterFunc func(w io.Writer) Formatter

// Text and JSON are the built-in FormatterFuncs.
var (
	Text FormatterFunc = func(w io.Writer) Formatter { return NewTextFormatter(w) }
	JSON FormatterFunc = func(w io.Writer) Formatter { return NewJSONFormatter(w) }
)
