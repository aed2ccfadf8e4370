package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	granularityWeek  = "week"
	granularityMonth = "month"
)

type ScopeSummary struct {
	Field   string       `json:"field"`
	Header  string       `json:"header"`
	Entries []CountEntry `json:"entries"`
	Unknown int          `json:"unknown"`
	Known   int          `json:"known"`
	Total   int          `json:"total"`
}

type MilestoneSummary struct {
	Name       string `json:"name"`
	Header     string `json:"header"`
	Resolved   bool   `json:"resolved"`
	Filled     int    `json:"filled"`
	NotStarted int    `json:"not_started"`
	OnProgress int    `json:"on_progress"`
	Done       int    `json:"done"`
}

type Breakdown struct {
	Field    string       `json:"field"`
	Header   string       `json:"header"`
	Resolved bool         `json:"resolved"`
	Entries  []CountEntry `json:"entries"`
}

type Timeline struct {
	Granularity string       `json:"granularity,omitempty"`
	Points      []CountEntry `json:"points"`
}

type HierarchyEntry struct {
	Path  []string `json:"path"`
	Count int      `json:"count"`
}

type Report struct {
	RunAt       time.Time          `json:"run_at"`
	Source      string             `json:"source"`
	Sheet       string             `json:"sheet,omitempty"`
	Profile     string             `json:"profile"`
	Records     int                `json:"records"`
	Viewed      int                `json:"viewed"`
	Mapping     []MappingEntry     `json:"mapping"`
	Notices     []string           `json:"notices,omitempty"`
	Scope       ScopeSummary       `json:"scope"`
	Milestones  []MilestoneSummary `json:"milestones"`
	OutOfOrder  int                `json:"out_of_order"`
	Breakdowns  []Breakdown        `json:"breakdowns"`
	PlanByMonth []CountEntry       `json:"plan_by_month"`
	Timeline    Timeline           `json:"timeline"`
	Hierarchy   []HierarchyEntry   `json:"hierarchy"`
	Warnings    []LoadWarning      `json:"load_warnings,omitempty"`

	classification *Classification
	view           []int
}

// BuildReport summarises a classified dataset. Summaries cover every record;
// the filter only narrows the row view used for export.
func BuildReport(c *Classification, filter Filter, runAt time.Time) *Report {
	p := c.Profile
	report := &Report{
		RunAt:          runAt,
		Source:         c.Dataset.Source,
		Sheet:          c.Dataset.Sheet,
		Profile:        p.Name,
		Records:        len(c.Dataset.Records),
		Mapping:        c.Columns.Entries(p.Fields),
		Warnings:       c.Dataset.Warnings,
		classification: c,
	}

	report.Scope = buildScopeSummary(c)
	if !isResolved(c.Columns, p.Scope.Field) {
		report.Notices = append(report.Notices, fmt.Sprintf("scope column (%s) not found; every record counts as %s", p.Scope.Field, scopeUnknown))
	}

	report.Milestones = buildMilestoneSummaries(c)
	for _, m := range report.Milestones {
		if !m.Resolved {
			report.Notices = append(report.Notices, fmt.Sprintf("milestone %s: column not found", m.Name))
		}
	}
	report.OutOfOrder = OutOfOrder(c.Annotations)

	for _, field := range p.Breakdowns {
		b := buildBreakdown(c, field, p.Top)
		if !b.Resolved {
			report.Notices = append(report.Notices, fmt.Sprintf("breakdown %s: column not found", field))
		}
		report.Breakdowns = append(report.Breakdowns, b)
	}

	dates := timelineDates(c)
	if p.Timeline.Field != "" && !isResolved(c.Columns, p.Timeline.Field) {
		report.Notices = append(report.Notices, fmt.Sprintf("timeline column (%s) not found", p.Timeline.Field))
	}
	report.PlanByMonth = bucketDates(dates, granularityMonth)
	report.Timeline = buildTimeline(dates, p.Timeline.WeeklyMaxDays)

	hierarchy, ok := buildHierarchy(c)
	if !ok && len(p.Hierarchy) > 0 {
		report.Notices = append(report.Notices, fmt.Sprintf("hierarchy needs %s; at least one column not found", strings.Join(p.Hierarchy, ", ")))
	}
	report.Hierarchy = hierarchy

	view, notices := filter.Apply(c)
	report.view = view
	report.Viewed = len(view)
	report.Notices = append(report.Notices, notices...)

	return report
}

func isResolved(columns ColumnMap, field string) bool {
	_, ok := columns.Lookup(field)
	return ok
}

func buildScopeSummary(c *Classification) ScopeSummary {
	counts := CountScopes(c.Annotations, c.Profile.Scope.Labels)
	header, _ := c.Columns.Lookup(c.Profile.Scope.Field)
	return ScopeSummary{
		Field:   c.Profile.Scope.Field,
		Header:  header,
		Entries: counts.Entries(),
		Unknown: counts.Unknown,
		Known:   counts.Known(),
		Total:   counts.Total(),
	}
}

func buildMilestoneSummaries(c *Classification) []MilestoneSummary {
	fills := CountFilled(c.Dataset, c.Columns, c.Profile.Milestones)
	states := CountStates(c)
	result := make([]MilestoneSummary, len(fills))
	for i, fill := range fills {
		result[i] = MilestoneSummary{
			Name:       fill.Name,
			Header:     fill.Header,
			Resolved:   fill.Resolved,
			Filled:     fill.Filled,
			NotStarted: states[i].NotStarted,
			OnProgress: states[i].OnProgress,
			Done:       states[i].Done,
		}
	}
	return result
}

// buildBreakdown counts distinct values of a field, nulls as "Unknown",
// largest first, truncated to top.
func buildBreakdown(c *Classification, field string, top int) Breakdown {
	header, ok := c.Columns.Lookup(field)
	b := Breakdown{Field: field, Header: header, Resolved: ok}
	if !ok {
		return b
	}
	counts := map[string]int{}
	for _, record := range c.Dataset.Records {
		value, present := record.Value(header)
		if !present {
			value = scopeUnknown
		}
		counts[value]++
	}
	b.Entries = sortedCounts(counts)
	if top > 0 && len(b.Entries) > top {
		b.Entries = b.Entries[:top]
	}
	return b
}

func sortedCounts(counts map[string]int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, CountEntry{Key: key, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// timelineDates collects the parseable timeline dates; unparseable values are skipped.
func timelineDates(c *Classification) []time.Time {
	header, ok := c.Columns.Lookup(c.Profile.Timeline.Field)
	if !ok {
		return nil
	}
	var dates []time.Time
	for _, record := range c.Dataset.Records {
		raw, present := record.Value(header)
		if !present {
			continue
		}
		if parsed, err := parseDate(raw); err == nil {
			dates = append(dates, dateOnly(parsed))
		}
	}
	return dates
}

func buildTimeline(dates []time.Time, weeklyMaxDays int) Timeline {
	if len(dates) == 0 {
		return Timeline{}
	}
	minDate, maxDate := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
	}
	granularity := granularityMonth
	if int(maxDate.Sub(minDate).Hours()/24) <= weeklyMaxDays {
		granularity = granularityWeek
	}
	return Timeline{Granularity: granularity, Points: bucketDates(dates, granularity)}
}

// bucketDates counts dates per week ("2006-Jan-02", Monday) or month ("2006-Jan"),
// in chronological order.
func bucketDates(dates []time.Time, granularity string) []CountEntry {
	counts := map[time.Time]int{}
	for _, d := range dates {
		key := monthStart(d)
		if granularity == granularityWeek {
			key = weekStart(d)
		}
		counts[key]++
	}
	keys := make([]time.Time, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	layout := "2006-Jan"
	if granularity == granularityWeek {
		layout = "2006-Jan-02"
	}
	entries := make([]CountEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, CountEntry{Key: k.Format(layout), Count: counts[k]})
	}
	return entries
}

// buildHierarchy counts records per distinct path of the hierarchy fields.
// ok is false when any hierarchy field is unresolved.
func buildHierarchy(c *Classification) ([]HierarchyEntry, bool) {
	fields := c.Profile.Hierarchy
	if len(fields) == 0 {
		return nil, false
	}
	headers := make([]string, len(fields))
	for i, field := range fields {
		header, ok := c.Columns.Lookup(field)
		if !ok {
			return nil, false
		}
		headers[i] = header
	}

	const sep = "\x1f"
	counts := map[string]int{}
	for _, record := range c.Dataset.Records {
		path := make([]string, len(headers))
		for i, h := range headers {
			value, present := record.Value(h)
			if !present {
				value = scopeUnknown
			}
			path[i] = value
		}
		counts[strings.Join(path, sep)]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]HierarchyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, HierarchyEntry{Path: strings.Split(k, sep), Count: counts[k]})
	}
	return entries, true
}
