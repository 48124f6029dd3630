package report

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/bizcrawl/internal/model"
)

// timeLayout is used for every timestamp in reports.
const timeLayout = "2006-01-02 15:04:05 MST"

// label turns identifiers such as "enrich_home" or "TRANSIENT_ERROR" into
// "Enrich Home" and "Transient Error".
func label(name string) string {
	words := strings.ReplaceAll(strings.ToLower(name), "_", " ")
	return cases.Title(language.English).String(words)
}

// statusText summarizes how a run ended.
func statusText(report *model.RunReport) string {
	switch {
	case report.FatalError != "":
		return "Failed: " + report.FatalError
	case report.Cancelled:
		return "Cancelled (partial results)"
	default:
		return "Complete"
	}
}

// failuresByStatus counts terminal failures per status in Statuses order.
func failuresByStatus(report *model.RunReport) []statusCount {
	counts := make(map[model.Status]int)
	for _, f := range report.Failures {
		counts[f.Status]++
	}
	out := make([]statusCount, 0, len(counts))
	for _, st := range model.Statuses {
		if n := counts[st]; n > 0 {
			out = append(out, statusCount{status: st, count: n})
		}
	}
	return out
}

type statusCount struct {
	status model.Status
	count  int
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// location joins the address parts of rec.
func location(rec *model.BusinessRecord) string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{rec.Address, rec.City, rec.Region, rec.PostalCode} {
		if v := strings.TrimSpace(deref(p)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// truncateString truncates a string to maxLen runes with an ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
