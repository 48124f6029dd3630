package report

import (
	"io"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Writer defines the interface for report output.
type Writer interface {
	// WriteRun outputs the report of one run.
	// Returns the number of bytes written and any error encountered.
	WriteRun(report *model.RunReport) (int, error)

	// WriteRecords outputs stored business records.
	WriteRecords(records []*model.BusinessRecord) (int, error)
}

// MultiWriter writes to multiple Writers in turn.
// It stops on the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteRun outputs the run report to all configured Writers.
func (m *MultiWriter) WriteRun(report *model.RunReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRun(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteRecords outputs the records to all configured Writers.
func (m *MultiWriter) WriteRecords(records []*model.BusinessRecord) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRecords(records)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Format names accepted by New.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// New returns the writer for format. Unknown formats fall back to text.
func New(format string, output io.Writer, version string) Writer {
	switch format {
	case FormatMarkdown:
		return NewMarkdownWriter(output, version)
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint(), WithVersion(version))
	default:
		return NewSimpleWriter(output)
	}
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
