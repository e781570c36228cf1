package report

import (
	"fmt"
	"strings"

	"cronmon/internal/model"
)

// Text renders a report as plain text: a bucketed summary, optionally
// followed by each job's event listing.
func Text(r *Report, withEvents bool) string {
	var lines []string

	sections := []struct {
		title string
		jobs  []int64
	}{
		{"Jobs with Errors", r.Error},
		{"Jobs with Warnings", r.Warning},
		{"Successful Jobs", r.OK},
	}

	for _, sec := range sections {
		if len(sec.jobs) == 0 {
			continue
		}
		lines = append(lines, sec.title, strings.Repeat("=", len(sec.title)), "")
		for _, id := range sec.jobs {
			lines = append(lines, "    "+summaryLine(r.Info[id]))
		}
		lines = append(lines, "")
	}

	if withEvents {
		lines = append(lines, "Event Listing", "=============", "")

		for _, sec := range sections {
			for _, id := range sec.jobs {
				subhead := summaryLine(r.Info[id])
				lines = append(lines, subhead, strings.Repeat("-", len(subhead)), "")
				for _, ev := range r.Events[id] {
					lines = append(lines, "    "+eventLine(ev))
				}
				lines = append(lines, "")
			}
		}
	}

	return strings.Join(lines, "\n")
}

func summaryLine(info model.JobInfo) string {
	return fmt.Sprintf("%-10s %-10s %s", info.Host, info.User, info.Title())
}

func eventLine(ev model.Event) string {
	status := ""
	if ev.Status != nil {
		status = ev.Status.String()
	}
	return fmt.Sprintf("%-10s %-16s %s", ev.Type.String(), status, ev.Time.Format("2006-01-02 15:04:05"))
}
