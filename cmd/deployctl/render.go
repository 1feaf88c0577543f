package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func newTable(header table.Row) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(header)
	return tbl
}

// relative renders t as "3 days ago"; zero times render as "-".
func relative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func statusText(status domain.DeploymentStatus) string {
	switch status {
	case domain.StatusSucceeded:
		return color.GreenString(string(status))
	case domain.StatusFailed:
		return color.RedString(string(status))
	case domain.StatusInProgress:
		return color.YellowString(string(status))
	}
	return string(status)
}

func eventTypeText(t domain.EventType) string {
	switch t {
	case domain.EventDeploymentSucceeded:
		return color.GreenString(string(t))
	case domain.EventDeploymentFailed:
		return color.RedString(string(t))
	case domain.EventDeploymentStarted:
		return color.CyanString(string(t))
	}
	return string(t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderServices(services []domain.Service) {
	tbl := newTable(table.Row{"Service", "Repository", "Created"})
	for _, s := range services {
		tbl.AppendRow(table.Row{s.Name, s.RepoURL, relative(s.CreatedAt)})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(services))})
	tbl.Render()
}

func renderServiceDetail(s domain.Service) {
	tbl := newTable(table.Row{"Field", "Value"})
	tbl.AppendRows([]table.Row{
		{"Name", s.Name},
		{"Repository", s.RepoURL},
		{"Path", s.RepoPath},
		{"Created", relative(s.CreatedAt)},
	})
	tbl.Render()
}

func renderDashboard(rows []domain.ServiceSummary) {
	tbl := newTable(table.Row{"Service", "Instances", "Production", "Commit", "Last activity", "OK", "Failed"})
	for _, row := range rows {
		prod, commit := "-", "-"
		if p := row.ProdDeployment; p != nil {
			prod = fmt.Sprintf("%s %s", statusText(p.Status), relative(p.CreatedAt))
			if p.CommitInfo != nil {
				commit = p.CommitInfo.ShortCommit
			}
		}
		activity := "-"
		if a := row.RecentActivity; a != nil {
			activity = fmt.Sprintf("%s (%s) %s", a.EventType, a.Environment, relative(a.CreatedAt))
		}
		tbl.AppendRow(table.Row{
			row.Name,
			row.InstanceCount,
			prod,
			commit,
			activity,
			color.GreenString("%d", row.DeploymentStats.Succeeded),
			color.RedString("%d", row.DeploymentStats.Failed),
		})
	}
	tbl.Render()
}

func renderDeployments(page presenter.Page[domain.Deployment]) {
	tbl := newTable(table.Row{"ID", "Status", "Commit", "Author", "Started", "Duration", "Failed jobs"})
	for _, d := range page.Data {
		tbl.AppendRow(table.Row{
			d.ID,
			statusText(d.Status),
			presenter.ShortCommit(deref(d.Commit)),
			deref(d.CommitAuthor),
			relative(d.StartTime),
			duration(d),
			len(d.FailedJobs),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Page %d/%d", page.Page, page.TotalPages), fmt.Sprintf("Total: %d", page.Total)})
	tbl.Render()
}

func duration(d domain.Deployment) string {
	if d.EndTime == nil {
		return "-"
	}
	return d.EndTime.Sub(d.StartTime).Round(time.Second).String()
}

func renderDeployment(d domain.Deployment) {
	tbl := newTable(table.Row{"Field", "Value"})
	tbl.AppendRows([]table.Row{
		{"ID", d.ID},
		{"Instance", d.InstanceID},
		{"Environment", d.Environment},
		{"Status", statusText(d.Status)},
		{"Build", d.BuildkiteBuildURL},
		{"Commit", deref(d.Commit)},
		{"Message", deref(d.CommitMessage)},
		{"Author", deref(d.CommitAuthor)},
		{"Started", relative(d.StartTime)},
		{"Duration", duration(d)},
	})
	if len(d.FailedJobs) > 0 {
		tbl.AppendRow(table.Row{"Failed jobs", color.RedString("%v", d.FailedJobs)})
	}
	tbl.Render()

	rows := make([]eventRow, 0, len(d.Events))
	for _, ev := range d.Events {
		rows = append(rows, rowOf(ev))
	}
	renderEvents(rows, 1, 1, len(rows))
}

type eventRow struct {
	id      string
	kind    domain.EventType
	job     string
	created time.Time
}

func rowOf(ev domain.Event) eventRow {
	row := eventRow{id: ev.ID, kind: ev.Type, created: ev.CreatedAt}
	if ev.Data != nil {
		if name, state := ev.Data.Job(); name != "" {
			row.job = fmt.Sprintf("%s (%s)", name, state)
		}
	}
	return row
}

func renderEvents(rows []eventRow, page, totalPages, total int) {
	tbl := newTable(table.Row{"ID", "Type", "Job", "When"})
	for _, r := range rows {
		tbl.AppendRow(table.Row{r.id, eventTypeText(r.kind), r.job, relative(r.created)})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Page %d/%d", page, totalPages), fmt.Sprintf("Total: %d", total)})
	tbl.Render()
}

func renderStats(service string, days int, st domain.ServiceStats, counts domain.DeploymentCounts) {
	window := "default window"
	if days > 0 {
		window = fmt.Sprintf("last %d days", days)
	}
	tbl := newTable(table.Row{service, window})
	tbl.AppendRows([]table.Row{
		{"Succeeded", color.GreenString("%d", counts.Succeeded)},
		{"Failed", color.RedString("%d", counts.Failed)},
		{"All-time deployments", humanize.Comma(int64(st.TotalDeployments))},
	})
	envs := make([]string, 0, len(st.InstancesByEnvironment))
	for env := range st.InstancesByEnvironment {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		tbl.AppendRow(table.Row{"Instances in " + env, st.InstancesByEnvironment[env]})
	}
	tbl.Render()
}
