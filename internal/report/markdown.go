package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/bizcrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
	version string
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given
// writer. version is printed in the footer.
func NewMarkdownWriter(output io.Writer, version string) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
		version:    version,
	}
}

// WriteRun outputs the run report in Markdown format.
func (w *MarkdownWriter) WriteRun(report *model.RunReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeResults(md, report)
	w.writeKinds(md, report)
	w.writeFailures(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.RunReport) {
	md.H1("bizcrawl Run Report")
	md.PlainText("")

	rows := [][]string{
		{"Run ID", "`" + report.RunID + "`"},
		{"Started", report.StartedAt.Format(timeLayout)},
		{"Duration", formatDuration(report.Duration())},
		{"Phases", orDash(strings.Join(report.Phases, ", "))},
		{"Status", statusText(report)},
	}
	for _, seed := range report.Seeds {
		rows = append(rows, []string{"Seed", "`" + seed + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case report.FatalError != "":
		md.Cautionf("The run halted: %s. Records saved before the failure are kept.", report.FatalError)
		md.PlainText("")
	case report.Cancelled:
		md.Warningf("The run was stopped early. %d businesses were saved before it stopped.", report.RecordsSaved)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeResults(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Results")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Businesses saved", strconv.Itoa(report.RecordsSaved)},
			{"Businesses enriched", strconv.Itoa(report.RecordsEnriched)},
			{"Merges", strconv.Itoa(report.Merges)},
			{"Total in storage", strconv.Itoa(report.Summary.TotalBusinesses)},
			{"With websites", strconv.Itoa(report.Summary.WithWebsites)},
			{"With emails", strconv.Itoa(report.Summary.WithEmails)},
			{"With social links", strconv.Itoa(report.Summary.WithSocialLinks)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeKinds(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Work Items")
	md.PlainText("")

	rows := make([][]string, 0, len(model.Kinds))
	for _, kind := range model.Kinds {
		s := report.Stats(kind)
		rows = append(rows, []string{
			label(kind.String()),
			strconv.Itoa(s.Enqueued),
			strconv.Itoa(s.Fetched),
			strconv.Itoa(s.Retried),
			strconv.Itoa(s.Blocked),
			strconv.Itoa(s.Empty),
			strconv.Itoa(s.ExtractionMisses),
			strconv.Itoa(s.TerminalFailures),
			strconv.Itoa(s.Abandoned),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Enqueued", "Fetched", "Retried", "Blocked", "Empty", "Misses", "Failed", "Abandoned"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Terminal Failures")
	md.PlainText("")

	if len(report.Failures) == 0 {
		md.Tip("Every work item completed.")
		md.PlainText("")
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Failures by Status"),
		piechart.WithShowData(true),
	)
	for _, sc := range failuresByStatus(report) {
		chart.LabelAndIntValue(label(sc.status.String()), uint64(sc.count)) //nolint:gosec // count is non-negative
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	rows := make([][]string, len(report.Failures))
	for i, f := range report.Failures {
		rows[i] = []string{
			f.Status.String(),
			label(f.Kind),
			truncateString(f.URL, 60),
			truncateString(f.Reason, 60),
			strconv.Itoa(f.Attempts),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Kind", "URL", "Reason", "Attempts"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	if w.version != "" {
		md.PlainTextf("*Report generated by bizcrawl %s*", w.version)
		return
	}
	md.PlainText("*Report generated by bizcrawl*")
}

// WriteRecords outputs the records as a Markdown table followed by the
// contact details of each enriched record.
func (w *MarkdownWriter) WriteRecords(records []*model.BusinessRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Businesses")
	md.PlainText("")

	if len(records) == 0 {
		md.Note("No businesses stored.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = []string{
			orDash(rec.DisplayName()),
			orDash(truncateString(location(rec), 50)),
			orDash(deref(rec.Phone)),
			orDash(rec.WebsiteURL()),
			strconv.Itoa(rec.Emails.Len()),
			strconv.Itoa(rec.SocialLinks.Len()),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Name", "Address", "Phone", "Website", "Emails", "Social"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, rec := range records {
		contacts := append(append(rec.Emails.Sorted(), rec.PhonesFromWebsite.Sorted()...), rec.SocialLinks.Sorted()...)
		if len(contacts) == 0 {
			continue
		}
		md.H2(orDash(rec.DisplayName()))
		md.PlainText("")
		md.BulletList(contacts...)
		md.PlainText("")
	}
	md.PlainTextf("%d businesses", len(records))
	return len(md.String()), md.Build()
}
