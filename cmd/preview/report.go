package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maine/x_relay_bot/internal/post"
)

const previewWidth = 80

// writeReport печатает решения прогона таблицей.
func writeReport(out io.Writer, report post.Report) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Decision", "Text"})

	for _, s := range report.Sources {
		switch {
		case s.RateLimited:
			t.AppendRow(table.Row{s.SourceID, post.RejectedRateLimited.String(), ""})
		case s.Err != nil:
			t.AppendRow(table.Row{s.SourceID, "error", s.Err.Error()})
		}
		for _, o := range s.Outcomes {
			decision := o.Decision.String()
			if o.Err != nil && o.Decision == post.Accepted {
				decision = "error"
			}
			t.AppendRow(table.Row{s.SourceID, decision, shorten(o.Canonical, previewWidth)})
		}
	}
	t.AppendFooter(table.Row{"", "would publish", report.Count(post.Accepted)})
	t.Render()

	_, err := fmt.Fprintf(out, "run %s\n", report.RunID)
	return err
}

func shorten(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "…"
}
