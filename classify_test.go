package main

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func defaultRules(t *testing.T) MilestoneRules {
	t.Helper()
	p := &Profile{}
	if err := p.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return p.Rules()
}

func TestMilestoneClassifyPrecedence(t *testing.T) {
	rules := defaultRules(t)
	cases := []struct {
		value string
		ok    bool
		want  MilestoneState
	}{
		{"", true, NotStarted},
		{"   ", true, NotStarted},
		{"anything", false, NotStarted},
		{"-", true, NotStarted},
		{"None", true, NotStarted},
		{"NA", true, NotStarted},
		{"N/A", true, NotStarted},
		{"in progress", true, OnProgress},
		{"Ongoing survey", true, OnProgress},
		{"DONE", true, Done},
		{"verified by NOC", true, Done},
		{"Completed", true, Done},
		{"2024-05-01", true, Done},
		{"01-May-2024", true, Done},
		{"5/1/2024", true, Done},
		{"25/11/2025", true, Done},
		{"25-11-2025", true, Done},
		{"25.11.2025", true, Done},
		{"Pending Vendor", true, OnProgress},
	}
	for _, tc := range cases {
		if got := rules.Classify(tc.value, tc.ok); got != tc.want {
			t.Fatalf("Classify(%q, %v) = %s, want %s", tc.value, tc.ok, got, tc.want)
		}
	}
}

func TestMilestoneProgressKeywordBeatsDone(t *testing.T) {
	rules := defaultRules(t)
	if got := rules.Classify("done, verification in progress", true); got != OnProgress {
		t.Fatalf("expected On Progress, got %s", got)
	}
}

func TestMilestoneStateString(t *testing.T) {
	got := []string{NotStarted.String(), OnProgress.String(), Done.String()}
	want := []string{"Not Started", "On Progress", "Done"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("state names mismatch (-want +got):\n%s", diff)
	}
	if !(NotStarted < OnProgress && OnProgress < Done) {
		t.Fatalf("states must be ordered")
	}
}

func TestScopeNormalization(t *testing.T) {
	classifier := NewScopeClassifier([]string{"Swap", "New", "Modernize", "Service Migration"})
	for _, value := range []string{"swap", " Swap ", "SWAP"} {
		if got := classifier.Classify(value, true); got != "Swap" {
			t.Fatalf("Classify(%q) = %q, want Swap", value, got)
		}
	}
	if got := classifier.Classify("service MIGRATION", true); got != "Service Migration" {
		t.Fatalf("expected Service Migration, got %q", got)
	}
	first := classifier.Classify("modernize", true)
	if second := classifier.Classify(first, true); first != second {
		t.Fatalf("classification not idempotent: %q then %q", first, second)
	}
	for _, value := range []string{"", "Relocation", "Unknown"} {
		if got := classifier.Classify(value, true); got != scopeUnknown {
			t.Fatalf("Classify(%q) = %q, want Unknown", value, got)
		}
	}
	if got := classifier.Classify("Swap", false); got != scopeUnknown {
		t.Fatalf("null value should be Unknown, got %q", got)
	}
}

func TestScopeLabelsKeepConfiguredSpelling(t *testing.T) {
	classifier := NewScopeClassifier([]string{"IPBB", "5G Swap", "Swap"})
	cases := map[string]string{
		"IPBB":    "IPBB",
		" ipbb ":  "IPBB",
		"5g swap": "5G Swap",
		"5G SWAP": "5G Swap",
		"swap":    "Swap",
		"IPRAN":   scopeUnknown,
	}
	for value, want := range cases {
		if got := classifier.Classify(value, true); got != want {
			t.Fatalf("Classify(%q) = %q, want %q", value, got, want)
		}
	}
	if got := classifier.Classify(classifier.Classify("ipbb", true), true); got != "IPBB" {
		t.Fatalf("classification not idempotent: %q", got)
	}
}

func TestCountScopesKnownAndTotal(t *testing.T) {
	labels := []string{"Swap", "New", "Modernize", "Service Migration"}
	annotations := []Annotation{{Scope: "Swap"}, {Scope: "Swap"}, {Scope: "New"}, {Scope: scopeUnknown}}

	counts := CountScopes(annotations, labels)
	if counts.Known() != 3 || counts.Total() != 4 || counts.Unknown != 1 {
		t.Fatalf("unexpected known/total/unknown: %d/%d/%d", counts.Known(), counts.Total(), counts.Unknown)
	}
	want := []CountEntry{{"Swap", 2}, {"New", 1}, {"Modernize", 0}, {"Service Migration", 0}}
	if diff := cmp.Diff(want, counts.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func milestoneProfile(t *testing.T) *Profile {
	t.Helper()
	p := &Profile{
		Name: "test",
		Fields: AliasTable{
			{Name: "scope", Candidates: []string{"Scope"}},
			{Name: "inbound", Candidates: []string{"Inbound Date", "InboundDate"}},
			{Name: "migration_actual", Candidates: []string{"Migration Actual"}},
		},
		Scope: ScopeConfig{Field: "scope", Labels: []string{"Swap", "New"}},
		Milestones: []MilestoneSpec{
			{Name: "Inbound", Field: "inbound"},
			{Name: "Migration Done", Field: "migration_actual"},
			{Name: "Dismantle", Field: "dismantle"},
		},
	}
	if err := p.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return p
}

func milestoneDataset() *Dataset {
	return &Dataset{
		Source:  "test.csv",
		Headers: []string{"Scope", "InboundDate", "Migration Actual"},
		Records: []Record{
			{"Scope": "swap", "InboundDate": "2024-05-01", "Migration Actual": "2024-06-01"},
			{"Scope": "New", "InboundDate": "ongoing", "Migration Actual": ""},
			{"Scope": "", "InboundDate": "", "Migration Actual": "Done"},
			{"Scope": "Other", "InboundDate": "-", "Migration Actual": "waiting permit"},
		},
	}
}

func TestClassifyAnnotatesWithoutMutation(t *testing.T) {
	p := milestoneProfile(t)
	ds := milestoneDataset()
	before := make([]Record, len(ds.Records))
	for i, r := range ds.Records {
		before[i] = Record{}
		for k, v := range r {
			before[i][k] = v
		}
	}

	c := Classify(ds, p)

	want := []Annotation{
		{Index: 0, Scope: "Swap", Milestones: []MilestoneState{Done, Done, NotStarted}},
		{Index: 1, Scope: "New", Milestones: []MilestoneState{OnProgress, NotStarted, NotStarted}},
		{Index: 2, Scope: scopeUnknown, Milestones: []MilestoneState{NotStarted, Done, NotStarted}},
		{Index: 3, Scope: scopeUnknown, Milestones: []MilestoneState{NotStarted, OnProgress, NotStarted}},
	}
	if diff := cmp.Diff(want, c.Annotations); diff != "" {
		t.Fatalf("annotations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, ds.Records); diff != "" {
		t.Fatalf("source records were modified (-before +after):\n%s", diff)
	}
	again := Classify(ds, p)
	if diff := cmp.Diff(c.Annotations, again.Annotations); diff != "" {
		t.Fatalf("classification not idempotent:\n%s", diff)
	}
}

func TestCountFilledAndStates(t *testing.T) {
	p := milestoneProfile(t)
	ds := milestoneDataset()
	c := Classify(ds, p)

	fills := CountFilled(ds, c.Columns, p.Milestones)
	wantFills := []MilestoneFill{
		{Name: "Inbound", Header: "InboundDate", Resolved: true, Filled: 3},
		{Name: "Migration Done", Header: "Migration Actual", Resolved: true, Filled: 3},
		{Name: "Dismantle", Resolved: false, Filled: 0},
	}
	if diff := cmp.Diff(wantFills, fills); diff != "" {
		t.Fatalf("fills mismatch (-want +got):\n%s", diff)
	}

	states := CountStates(c)
	if states[0].Done != 1 || states[0].OnProgress != 1 || states[0].NotStarted != 2 {
		t.Fatalf("unexpected inbound states: %+v", states[0])
	}
	if states[1].Count(Done) != 2 || states[1].Count(OnProgress) != 1 || states[1].Count(NotStarted) != 1 {
		t.Fatalf("unexpected migration states: %+v", states[1])
	}
	if states[2].Resolved || states[2].NotStarted != 4 {
		t.Fatalf("unresolved milestone should be all Not Started: %+v", states[2])
	}
}

func TestCountFilledIgnoresRecordOrder(t *testing.T) {
	p := milestoneProfile(t)
	ds := milestoneDataset()
	reversed := &Dataset{Headers: ds.Headers, Records: slices.Clone(ds.Records)}
	slices.Reverse(reversed.Records)

	columns := ResolveColumns(ds.Headers, p.Fields)
	a := CountFilled(ds, columns, p.Milestones)
	b := CountFilled(reversed, columns, p.Milestones)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("fill counts depend on order:\n%s", diff)
	}
}

func TestOutOfOrder(t *testing.T) {
	annotations := []Annotation{
		{Milestones: []MilestoneState{Done, OnProgress, NotStarted}},
		{Milestones: []MilestoneState{NotStarted, Done, NotStarted}},
		{Milestones: []MilestoneState{OnProgress, Done, Done}},
		{Milestones: []MilestoneState{Done}},
	}
	if got := OutOfOrder(annotations); got != 2 {
		t.Fatalf("expected 2 out-of-order records, got %d", got)
	}
}
