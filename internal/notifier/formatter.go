package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"SeriesHarvester/internal/pipeline"
	"SeriesHarvester/internal/recorder"
)

// FormatRunReport formats a run summary into a Telegram HTML message.
func FormatRunReport(s *pipeline.RunSummary) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>SeriesHarvester</b> | %s\n", s.FinishedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Período: %s → %s\n", s.Span.Start.Format(time.DateOnly), s.Span.End.Format(time.DateOnly)))
	b.WriteString(fmt.Sprintf("Run: <code>%s</code>\n\n", html.EscapeString(s.RunID)))

	for _, r := range s.Results {
		b.WriteString(formatResult(r))
		b.WriteString("\n")
	}

	stored := 0
	for _, r := range s.Results {
		if r.Status == recorder.StatusStored {
			stored++
		}
	}
	b.WriteString(fmt.Sprintf("\nGravadas: %d | Vazias: %d | Falhas: %d\n",
		stored, s.Succeeded()-stored, s.Failed()))
	b.WriteString(fmt.Sprintf("Observações: %d | Duração: %s", s.Observations(), s.Duration().Round(time.Second)))
	return b.String()
}

func formatResult(r pipeline.SeriesResult) string {
	name := fmt.Sprintf("<b>%s</b> (%s)", html.EscapeString(r.Name), html.EscapeString(r.Code))
	switch r.Status {
	case recorder.StatusStored:
		line := fmt.Sprintf("✅ %s: %d obs, %s → %s",
			name, r.Summary.Count, r.Summary.First.Format(time.DateOnly), r.Summary.Last.Format(time.DateOnly))
		if r.Summary.Count > r.Summary.Absent {
			line += fmt.Sprintf(", último %s", formatValue(r.Summary.LastValue))
		}
		if r.Stats.FailedWindows > 0 {
			line += fmt.Sprintf(" ⚠️ %d/%d janelas falharam", r.Stats.FailedWindows, r.Stats.Windows)
		}
		return line
	case recorder.StatusEmpty:
		if r.Stats.FailedWindows > 0 {
			return fmt.Sprintf("⚪ %s: sem dados (%d/%d janelas falharam)", name, r.Stats.FailedWindows, r.Stats.Windows)
		}
		return fmt.Sprintf("⚪ %s: sem dados", name)
	default:
		msg := "erro desconhecido"
		if r.Err != nil {
			msg = fmt.Sprintf("%s: %v", r.Err.Stage, r.Err.Err)
		}
		return fmt.Sprintf("❌ %s: %s", name, html.EscapeString(msg))
	}
}

func formatValue(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
