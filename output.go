package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	cardStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#dce0e5")).
			Padding(0, 2).
			MarginRight(1)
	cardLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	cardValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
)

func renderCard(label string, value int) string {
	return cardStyle.Render(cardLabelStyle.Render(label) + "\n" + cardValueStyle.Render(fmt.Sprintf("%d", value)))
}

func printReport(w io.Writer, report *Report) {
	fmt.Fprintln(w, titleStyle.Render("Progress Audit"))
	fmt.Fprintln(w, strings.Repeat("=", 38))
	source := filepath.Base(report.Source)
	if report.Sheet != "" {
		source += " (sheet " + report.Sheet + ")"
	}
	fmt.Fprintf(w, "Input: %s\n", source)
	fmt.Fprintf(w, "Profile: %s\n", report.Profile)
	fmt.Fprintf(w, "Run at: %s\n", report.RunAt.Format("02 Jan 2006 15:04"))
	fmt.Fprintf(w, "Records: %d (view %d)\n", report.Records, report.Viewed)

	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render("Column mapping"))
	for _, m := range report.Mapping {
		header := m.Header
		if !m.Resolved {
			header = warnStyle.Render(header)
		}
		fmt.Fprintf(w, "• %s: %s\n", m.Field, header)
	}
	for _, notice := range report.Notices {
		fmt.Fprintln(w, warnStyle.Render("! "+notice))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render("Scope"))
	cards := make([]string, 0, len(report.Scope.Entries)+1)
	for _, entry := range report.Scope.Entries {
		cards = append(cards, renderCard(entry.Key, entry.Count))
	}
	cards = append(cards, renderCard(scopeUnknown, report.Scope.Unknown))
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	fmt.Fprintf(w, "Known: %d | Total: %d\n", report.Scope.Known, report.Scope.Total)

	if len(report.Milestones) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Milestones"))
		for _, m := range report.Milestones {
			if !m.Resolved {
				fmt.Fprintf(w, "%s | %s\n", m.Name, mutedStyle.Render(unresolvedPlaceholder))
				continue
			}
			fmt.Fprintf(w, "%s [%s] | filled %d | not started %d | on progress %d | done %d\n",
				m.Name, m.Header, m.Filled, m.NotStarted, m.OnProgress, m.Done)
		}
		if report.OutOfOrder > 0 {
			fmt.Fprintf(w, "Records with a later milestone ahead of an earlier one: %d\n", report.OutOfOrder)
		}
	}

	for _, b := range report.Breakdowns {
		if !b.Resolved || len(b.Entries) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Top "+b.Header))
		for _, entry := range b.Entries {
			fmt.Fprintf(w, "%s: %d\n", entry.Key, entry.Count)
		}
	}

	if len(report.PlanByMonth) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Planned per month"))
		for _, entry := range report.PlanByMonth {
			fmt.Fprintf(w, "%s: %d\n", entry.Key, entry.Count)
		}
	}

	if report.Timeline.Granularity == granularityWeek {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Planned per week"))
		for _, entry := range report.Timeline.Points {
			fmt.Fprintf(w, "%s: %d\n", entry.Key, entry.Count)
		}
	}

	if len(report.Hierarchy) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Hierarchy"))
		for _, entry := range report.Hierarchy {
			fmt.Fprintf(w, "%s: %d\n", strings.Join(entry.Path, " > "), entry.Count)
		}
	}
}

func writeJSON(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// exportHeaders is the source header row followed by the derived columns.
func exportHeaders(c *Classification) []string {
	headers := append([]string{}, c.Dataset.Headers...)
	headers = append(headers, "Scope Category")
	for _, m := range c.Profile.Milestones {
		headers = append(headers, m.Name+" Status")
	}
	return headers
}

// writeExport writes the filtered view with its derived columns as CSV.
func writeExport(w io.Writer, report *Report) error {
	c := report.classification
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeaders(c)); err != nil {
		return err
	}
	for _, idx := range report.view {
		record := c.Dataset.Records[idx]
		annotation := c.Annotations[idx]
		row := make([]string, 0, len(c.Dataset.Headers)+1+len(annotation.Milestones))
		for _, h := range c.Dataset.Headers {
			row = append(row, record[h])
		}
		row = append(row, annotation.Scope)
		for _, state := range annotation.Milestones {
			row = append(row, state.String())
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeExportCSV(report *Report, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeExport(file, report)
}

func printColumns(w io.Writer, ds *Dataset, columns ColumnMap, aliases AliasTable) {
	fmt.Fprintln(w, sectionStyle.Render("Detected columns"))
	for _, h := range ds.Headers {
		fmt.Fprintf(w, "  %q\n", h)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render("Column mapping"))
	for _, m := range columns.Entries(aliases) {
		header := m.Header
		if !m.Resolved {
			header = warnStyle.Render(header)
		}
		fmt.Fprintf(w, "• %s: %s\n", m.Field, header)
	}
}
