package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/bizcrawl/internal/model"
)

// defaultFailureLimit is how many terminal failures are listed unless
// verbose output is requested.
const defaultFailureLimit = 10

// SimpleWriter outputs human-readable text reports for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose lists every terminal failure instead of the first few.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteRun outputs the run report in human-readable format.
func (w *SimpleWriter) WriteRun(report *model.RunReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeResults(&sb, report)
	w.writeKinds(&sb, report)
	w.writeFailures(&sb, report)

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        BIZCRAWL RUN REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Run ID:   %s\n", report.RunID)
	fmt.Fprintf(sb, "Started:  %s\n", report.StartedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Duration: %s\n", formatDuration(report.Duration()))
	fmt.Fprintf(sb, "Status:   %s\n", statusText(report))
	if len(report.Phases) > 0 {
		fmt.Fprintf(sb, "Phases:   %s\n", strings.Join(report.Phases, ", "))
	}
	for _, seed := range report.Seeds {
		fmt.Fprintf(sb, "Seed:     %s\n", seed)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeResults(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString("RESULTS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  Businesses saved:     %d\n", report.RecordsSaved)
	fmt.Fprintf(sb, "  Businesses enriched:  %d (%d merges)\n", report.RecordsEnriched, report.Merges)
	fmt.Fprintf(sb, "  Total in storage:     %d\n", report.Summary.TotalBusinesses)
	fmt.Fprintf(sb, "  With websites:        %d\n", report.Summary.WithWebsites)
	fmt.Fprintf(sb, "  With emails:          %d\n", report.Summary.WithEmails)
	fmt.Fprintf(sb, "  With social links:    %d\n", report.Summary.WithSocialLinks)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeKinds(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString("WORK ITEMS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  %-12s %8s %8s %8s %8s %6s %7s %7s\n",
		"Kind", "Enqueued", "Fetched", "Retried", "Blocked", "Empty", "Misses", "Failed")
	for _, kind := range model.Kinds {
		s := report.Stats(kind)
		fmt.Fprintf(sb, "  %-12s %8d %8d %8d %8d %6d %7d %7d\n",
			label(kind.String()), s.Enqueued, s.Fetched, s.Retried, s.Blocked, s.Empty, s.ExtractionMisses, s.TerminalFailures)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, report *model.RunReport) {
	if len(report.Failures) == 0 {
		return
	}

	fmt.Fprintf(sb, "TERMINAL FAILURES (%d)\n", len(report.Failures))
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	for _, sc := range failuresByStatus(report) {
		fmt.Fprintf(sb, "  %-16s %d\n", label(sc.status.String())+":", sc.count)
	}
	sb.WriteString("\n")

	failures := report.Failures
	if !w.verbose && len(failures) > defaultFailureLimit {
		failures = failures[:defaultFailureLimit]
	}
	for _, f := range failures {
		fmt.Fprintf(sb, "  [%s] %s %s\n", f.Status, f.Kind, f.URL)
		fmt.Fprintf(sb, "      %s (attempts: %d)\n", f.Reason, f.Attempts)
	}
	if rest := len(report.Failures) - len(failures); rest > 0 {
		fmt.Fprintf(sb, "  ... and %d more (use --verbose to list all)\n", rest)
	}
	sb.WriteString("\n")
}

// WriteRecords outputs one block per business record.
func (w *SimpleWriter) WriteRecords(records []*model.BusinessRecord) (int, error) {
	var sb strings.Builder
	if len(records) == 0 {
		sb.WriteString("No businesses stored.\n")
		return io.WriteString(w.output, sb.String())
	}

	for i, rec := range records {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s\n", orDash(rec.DisplayName()))
		fmt.Fprintf(&sb, "  ID:       %s\n", rec.ID)
		fmt.Fprintf(&sb, "  Source:   %s\n", rec.SourceURL)
		writeField(&sb, "Address", location(rec))
		writeField(&sb, "Phone", deref(rec.Phone))
		writeField(&sb, "Website", rec.WebsiteURL())
		writeField(&sb, "Emails", strings.Join(rec.Emails.Sorted(), ", "))
		writeField(&sb, "Phones", strings.Join(rec.PhonesFromWebsite.Sorted(), ", "))
		writeField(&sb, "Social", strings.Join(rec.SocialLinks.Sorted(), ", "))
	}
	fmt.Fprintf(&sb, "\n%d businesses\n", len(records))
	return io.WriteString(w.output, sb.String())
}

func writeField(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "  %-9s %s\n", name+":", value)
}
