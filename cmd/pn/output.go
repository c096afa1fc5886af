package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"pensa/internal/domain"
)

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJSONOrTable prints v as JSON when --json is set and calls render otherwise.
func printJSONOrTable(v any, render func()) error {
	if jsonOutput() {
		return printJSON(v)
	}
	render()
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func statusText(s domain.Status) string {
	switch s {
	case domain.StatusOpen:
		return color.GreenString(string(s))
	case domain.StatusInProgress:
		return color.YellowString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func priorityText(p domain.Priority) string {
	if p == domain.P0 {
		return color.RedString(string(p))
	}
	return string(p)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderIssues(items []domain.Issue) {
	if len(items) == 0 {
		fmt.Println("No issues.")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Pri", "Type", "Status", "Assignee", "Title"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, priorityText(it.Priority), it.IssueType, statusText(it.Status), deref(it.Assignee), it.Title})
	}
	tw.Render()
}

func renderIssue(it domain.Issue) {
	tw := newTable()
	tw.AppendRow(table.Row{"ID", it.ID})
	tw.AppendRow(table.Row{"Title", it.Title})
	tw.AppendRow(table.Row{"Type", it.IssueType})
	tw.AppendRow(table.Row{"Status", statusText(it.Status)})
	tw.AppendRow(table.Row{"Priority", priorityText(it.Priority)})
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"Assignee", it.Assignee},
		{"Spec", it.Spec},
		{"Fixes", it.Fixes},
		{"Closed", it.ClosedAt},
		{"Reason", it.CloseReason},
	} {
		if f.value != nil {
			tw.AppendRow(table.Row{f.name, *f.value})
		}
	}
	tw.AppendRow(table.Row{"Created", it.CreatedAt})
	tw.AppendRow(table.Row{"Updated", it.UpdatedAt})
	tw.Render()
	if d := strings.TrimSpace(deref(it.Description)); d != "" {
		fmt.Println()
		fmt.Println(d)
	}
}

func renderDetail(d domain.IssueDetail) {
	renderIssue(d.Issue)
	if len(d.Deps) > 0 {
		fmt.Println()
		fmt.Println("Blocked by:")
		renderIssues(d.Deps)
	}
	if len(d.Comments) > 0 {
		fmt.Println()
		renderComments(d.Comments)
	}
}

func renderComments(items []domain.Comment) {
	if len(items) == 0 {
		fmt.Println("No comments.")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"When", "Actor", "Text"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.CreatedAt, c.Actor, c.Text})
	}
	tw.Render()
}

func renderEvents(items []domain.Event) {
	tw := newTable()
	tw.AppendHeader(table.Row{"When", "Event", "Actor", "Detail"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.CreatedAt, e.EventType, deref(e.Actor), deref(e.Detail)})
	}
	tw.Render()
}

func renderTree(items []domain.DepTreeNode) {
	if len(items) == 0 {
		fmt.Println("No dependencies.")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Status", "Pri", "Type", "Title"})
	for _, n := range items {
		indent := strings.Repeat("  ", n.Depth-1)
		tw.AppendRow(table.Row{indent + n.ID, statusText(n.Status), priorityText(n.Priority), n.IssueType, n.Title})
	}
	tw.Render()
}

func renderStatus(rows []domain.TypeStatus) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Type", "Open", "In progress", "Closed", "Done"})
	for _, r := range rows {
		total := r.Open + r.InProgress + r.Closed
		pct := 0
		if total > 0 {
			pct = r.Closed * 100 / total
		}
		tw.AppendRow(table.Row{r.IssueType, r.Open, r.InProgress, r.Closed, fmt.Sprintf("%d%%", pct)})
	}
	tw.Render()
}

func renderCount(res domain.CountResult) {
	if len(res.Groups) == 0 {
		fmt.Println(res.Total)
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Key", "Count"})
	for _, g := range res.Groups {
		tw.AppendRow(table.Row{g.Key, g.Count})
	}
	tw.AppendFooter(table.Row{"total", res.Total})
	tw.Render()
}

func renderDoctor(r domain.DoctorReport) {
	if r.Fixed != nil {
		color.Green("released %d claims, removed %d orphan deps", r.Fixed.ReleasedClaims, r.Fixed.RemovedDeps)
		return
	}
	if r.Healthy() {
		color.Green("ok: nothing to repair")
		return
	}
	if len(r.StaleClaims) > 0 {
		color.Yellow("%d claimed issues (run 'pn doctor --fix' to release):", len(r.StaleClaims))
		renderIssues(r.StaleClaims)
	}
	if len(r.OrphanDeps) > 0 {
		color.Yellow("%d orphan dependencies:", len(r.OrphanDeps))
		tw := newTable()
		tw.AppendHeader(table.Row{"Issue", "Depends on"})
		for _, d := range r.OrphanDeps {
			tw.AppendRow(table.Row{d.IssueID, d.DependsOnID})
		}
		tw.Render()
	}
}
