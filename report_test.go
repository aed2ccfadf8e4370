package main

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testRunAt = time.Date(2025, 11, 25, 9, 0, 0, 0, time.UTC)

func scopeProfile(t *testing.T) *Profile {
	t.Helper()
	p := &Profile{
		Name:   "scope-only",
		Fields: AliasTable{{Name: "scope", Candidates: []string{"Scope", "Scope Update", "SOW"}}},
		Scope:  ScopeConfig{Field: "scope", Labels: []string{"Swap", "New", "Modernize", "Service Migration"}},
	}
	if err := p.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return p
}

func TestScopeUpdateScenario(t *testing.T) {
	ds, err := ParseDataset("scope.csv", []byte("Scope Update\nSwap\nswap \nNew\nUnknown\nModernize\n"), LoadOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := Classify(ds, scopeProfile(t))
	if header, _ := c.Columns.Lookup("scope"); header != "Scope Update" {
		t.Fatalf("expected Scope Update, got %q", header)
	}

	report := BuildReport(c, Filter{}, testRunAt)
	want := ScopeSummary{
		Field:   "scope",
		Header:  "Scope Update",
		Entries: []CountEntry{{"Swap", 2}, {"New", 1}, {"Modernize", 1}, {"Service Migration", 0}},
		Unknown: 1,
		Known:   4,
		Total:   5,
	}
	if diff := cmp.Diff(want, report.Scope); diff != "" {
		t.Fatalf("scope summary mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingScopeColumnIsNotFatal(t *testing.T) {
	ds := &Dataset{Source: "x.csv", Headers: []string{"City"}, Records: []Record{{"City": "Solo"}, {"City": "Kudus"}}}
	report := BuildReport(Classify(ds, scopeProfile(t)), Filter{}, testRunAt)
	if report.Scope.Unknown != 2 || report.Scope.Known != 0 {
		t.Fatalf("expected all Unknown, got %+v", report.Scope)
	}
	if len(report.Notices) == 0 || !strings.Contains(report.Notices[0], "scope column") {
		t.Fatalf("expected scope notice, got %v", report.Notices)
	}
	if report.Mapping[0].Header != unresolvedPlaceholder {
		t.Fatalf("expected NOT FOUND mapping, got %+v", report.Mapping[0])
	}
}

const trackerCSV = "Scope,Subcon Install,Migration Plan,Migration Actual,Inbound Date,Dismantle Date,Province,City,SOW,Status\n" +
	"Swap,PT Alpha,2024-05-01,2024-05-02,2024-04-20,,Jawa Tengah,Semarang,Swap,Done\n" +
	"new,PT Beta,2024-05-03,,in progress,,Jawa Tengah,Solo,New,OnGoing\n" +
	"Modernize,PT Alpha,2024-05-08,,,,DIY,Yogyakarta,Modernize,Plan\n" +
	"Service migration,,,,-,,Jawa Tengah,Semarang,Swap,Plan\n"

func trackerReport(t *testing.T, filter Filter) *Report {
	t.Helper()
	profile, err := LoadProfile("")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	ds, err := ParseDataset("tracker.csv", []byte(trackerCSV), LoadOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return BuildReport(Classify(ds, profile), filter, testRunAt)
}

func TestBuildReportTracker(t *testing.T) {
	report := trackerReport(t, Filter{})

	if report.Records != 4 || report.Viewed != 4 {
		t.Fatalf("expected 4 records in view, got %d/%d", report.Records, report.Viewed)
	}
	if report.Scope.Known != 4 || report.Scope.Unknown != 0 {
		t.Fatalf("expected four known scopes, got %+v", report.Scope)
	}

	wantMilestones := []MilestoneSummary{
		{Name: "Inbound", Header: "Inbound Date", Resolved: true, Filled: 3, NotStarted: 2, OnProgress: 1, Done: 1},
		{Name: "Migration Done", Header: "Migration Actual", Resolved: true, Filled: 1, NotStarted: 3, Done: 1},
		{Name: "Dismantle", Header: "Dismantle Date", Resolved: true, Filled: 0, NotStarted: 4},
	}
	if diff := cmp.Diff(wantMilestones, report.Milestones); diff != "" {
		t.Fatalf("milestones mismatch (-want +got):\n%s", diff)
	}

	wantBreakdown := []CountEntry{{"PT Alpha", 2}, {"PT Beta", 1}, {"Unknown", 1}}
	if len(report.Breakdowns) != 1 {
		t.Fatalf("expected one breakdown, got %d", len(report.Breakdowns))
	}
	if diff := cmp.Diff(wantBreakdown, report.Breakdowns[0].Entries); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]CountEntry{{"2024-May", 3}}, report.PlanByMonth); diff != "" {
		t.Fatalf("plan by month mismatch (-want +got):\n%s", diff)
	}
	wantTimeline := Timeline{Granularity: granularityWeek, Points: []CountEntry{{"2024-Apr-29", 2}, {"2024-May-06", 1}}}
	if diff := cmp.Diff(wantTimeline, report.Timeline); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}

	wantHierarchy := []HierarchyEntry{
		{Path: []string{"DIY", "Yogyakarta", "Modernize"}, Count: 1},
		{Path: []string{"Jawa Tengah", "Semarang", "Swap"}, Count: 2},
		{Path: []string{"Jawa Tengah", "Solo", "New"}, Count: 1},
	}
	if diff := cmp.Diff(wantHierarchy, report.Hierarchy); diff != "" {
		t.Fatalf("hierarchy mismatch (-want +got):\n%s", diff)
	}
	if len(report.Notices) != 0 {
		t.Fatalf("expected no notices, got %v", report.Notices)
	}
}

func TestBuildTimelineMonthlyForLongSpans(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
	}
	got := buildTimeline(dates, 90)
	want := Timeline{Granularity: granularityMonth, Points: []CountEntry{{"2024-Jan", 1}, {"2024-Jun", 2}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timeline mismatch (-want +got):\n%s", diff)
	}
	if empty := buildTimeline(nil, 90); len(empty.Points) != 0 || empty.Granularity != "" {
		t.Fatalf("expected empty timeline, got %+v", empty)
	}
}

func TestFilterNarrowsViewOnly(t *testing.T) {
	filter := Filter{Values: map[string][]string{"province": {"Jawa Tengah"}, "status": {"Done", "OnGoing"}}}
	report := trackerReport(t, filter)
	if report.Viewed != 2 || report.Records != 4 {
		t.Fatalf("expected view of 2 out of 4, got %d/%d", report.Viewed, report.Records)
	}
	if report.Scope.Total != 4 {
		t.Fatalf("summaries must cover every record, got total %d", report.Scope.Total)
	}

	ranged := trackerReport(t, Filter{
		PlanFrom: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		PlanTo:   time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC),
	})
	if ranged.Viewed != 2 {
		t.Fatalf("expected 2 rows planned in range, got %d", ranged.Viewed)
	}

	ignored := trackerReport(t, Filter{Values: map[string][]string{"region": {"x"}}})
	if ignored.Viewed != 4 || len(ignored.Notices) != 1 {
		t.Fatalf("filter on unknown field should be ignored with a notice: %d %v", ignored.Viewed, ignored.Notices)
	}
}

func TestParseFilters(t *testing.T) {
	got, err := ParseFilters([]string{"province=Jawa Tengah", "province = DIY", "city=Solo"})
	if err != nil {
		t.Fatalf("parse filters: %v", err)
	}
	want := map[string][]string{"province": {"Jawa Tengah", "DIY"}, "city": {"Solo"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filters mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseFilters([]string{"province"}); err == nil {
		t.Fatalf("expected error for missing value separator")
	}
}

func TestWriteExportAddsDerivedColumns(t *testing.T) {
	report := trackerReport(t, Filter{Values: map[string][]string{"city": {"Solo"}}})

	var buf bytes.Buffer
	if err := writeExport(&buf, report); err != nil {
		t.Fatalf("write export: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	header := rows[0]
	wantTail := []string{"Scope Category", "Inbound Status", "Migration Done Status", "Dismantle Status"}
	if diff := cmp.Diff(wantTail, header[len(header)-4:]); diff != "" {
		t.Fatalf("export header mismatch (-want +got):\n%s", diff)
	}
	row := rows[1]
	if row[0] != "new" {
		t.Fatalf("source value should be exported verbatim, got %q", row[0])
	}
	wantDerived := []string{"New", "On Progress", "Not Started", "Not Started"}
	if diff := cmp.Diff(wantDerived, row[len(row)-4:]); diff != "" {
		t.Fatalf("derived values mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintReportMentionsNotFound(t *testing.T) {
	ds := &Dataset{Source: "/tmp/x.csv", Headers: []string{"City"}, Records: []Record{{"City": "Solo"}}}
	report := BuildReport(Classify(ds, scopeProfile(t)), Filter{}, testRunAt)

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	for _, want := range []string{"x.csv", unresolvedPlaceholder, "Known: 0 | Total: 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
