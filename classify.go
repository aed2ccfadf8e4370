package main

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MilestoneState is the completion state of one milestone on one record.
type MilestoneState int

const (
	NotStarted MilestoneState = iota
	OnProgress
	Done
)

func (s MilestoneState) String() string {
	switch s {
	case OnProgress:
		return "On Progress"
	case Done:
		return "Done"
	default:
		return "Not Started"
	}
}

func (s MilestoneState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MilestoneRules decide a milestone state from a single cell value.
// Keywords are matched upper-cased.
type MilestoneRules struct {
	Placeholders     []string
	ProgressKeywords []string
	DoneKeywords     []string
}

// Classify applies, in order: placeholder, progress keyword, done keyword,
// parseable date, and finally falls back to OnProgress.
func (r MilestoneRules) Classify(value string, ok bool) MilestoneState {
	value = strings.TrimSpace(value)
	if !ok || value == "" || slices.Contains(r.Placeholders, value) {
		return NotStarted
	}
	upper := strings.ToUpper(value)
	if containsAny(upper, r.ProgressKeywords) {
		return OnProgress
	}
	if containsAny(upper, r.DoneKeywords) {
		return Done
	}
	if _, err := parseDate(value); err == nil {
		return Done
	}
	return OnProgress
}

func containsAny(value string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(value, keyword) {
			return true
		}
	}
	return false
}

// NormalizeScope trims and title-cases a scope value ("  service MIGRATION" -> "Service Migration").
func NormalizeScope(value string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(value))
}

// ScopeClassifier maps a raw scope value onto one of the configured labels.
// Labels are compared in normalized form, so "IPBB" matches a cell "ipbb".
// A classifier is not safe for concurrent use.
type ScopeClassifier struct {
	caser  cases.Caser
	labels map[string]string
}

func NewScopeClassifier(labels []string) ScopeClassifier {
	c := ScopeClassifier{caser: cases.Title(language.Und), labels: make(map[string]string, len(labels))}
	for _, label := range labels {
		if key := c.normalize(label); key != "" {
			c.labels[key] = label
		}
	}
	return c
}

func (c ScopeClassifier) normalize(value string) string {
	return c.caser.String(strings.TrimSpace(value))
}

func (c ScopeClassifier) Classify(value string, ok bool) string {
	if !ok {
		return scopeUnknown
	}
	label, found := c.labels[c.normalize(value)]
	if !found {
		return scopeUnknown
	}
	return label
}

// ScopeCounts holds per-label counts in label order plus the Unknown bucket.
type ScopeCounts struct {
	Labels  []string       `json:"labels"`
	Counts  map[string]int `json:"counts"`
	Unknown int            `json:"unknown"`
}

type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Known is the number of records in one of the configured labels.
func (s ScopeCounts) Known() int {
	total := 0
	for _, label := range s.Labels {
		total += s.Counts[label]
	}
	return total
}

// Total includes Unknown.
func (s ScopeCounts) Total() int {
	return s.Known() + s.Unknown
}

// Entries lists the configured labels in order, zero-filled.
func (s ScopeCounts) Entries() []CountEntry {
	entries := make([]CountEntry, 0, len(s.Labels))
	for _, label := range s.Labels {
		entries = append(entries, CountEntry{Key: label, Count: s.Counts[label]})
	}
	return entries
}

func CountScopes(annotations []Annotation, labels []string) ScopeCounts {
	counts := ScopeCounts{Labels: labels, Counts: make(map[string]int, len(labels))}
	for _, label := range labels {
		counts.Counts[label] = 0
	}
	for _, a := range annotations {
		if a.Scope == scopeUnknown {
			counts.Unknown++
			continue
		}
		counts.Counts[a.Scope]++
	}
	return counts
}

// Annotation carries the derived labels for the record at Index.
// Source records are never modified.
type Annotation struct {
	Index      int              `json:"index"`
	Scope      string           `json:"scope"`
	Milestones []MilestoneState `json:"milestones"`
}

type Classification struct {
	Dataset     *Dataset
	Profile     *Profile
	Columns     ColumnMap
	Annotations []Annotation
}

// Classify resolves the dataset's columns and annotates every record.
func Classify(ds *Dataset, profile *Profile) *Classification {
	columns := ResolveColumns(ds.Headers, profile.Fields)
	scopes := NewScopeClassifier(profile.Scope.Labels)
	rules := profile.Rules()

	annotations := make([]Annotation, len(ds.Records))
	for i, record := range ds.Records {
		scopeValue, ok := columns.Value(record, profile.Scope.Field)
		states := make([]MilestoneState, len(profile.Milestones))
		for j, m := range profile.Milestones {
			value, present := columns.Value(record, m.Field)
			states[j] = rules.Classify(value, present)
		}
		annotations[i] = Annotation{
			Index:      i,
			Scope:      scopes.Classify(scopeValue, ok),
			Milestones: states,
		}
	}

	return &Classification{
		Dataset:     ds,
		Profile:     profile,
		Columns:     columns,
		Annotations: annotations,
	}
}

// MilestoneFill is the coarse "has any value" count for one milestone.
type MilestoneFill struct {
	Name     string `json:"name"`
	Header   string `json:"header"`
	Resolved bool   `json:"resolved"`
	Filled   int    `json:"filled"`
}

// CountFilled counts, per milestone, records with a non-null value in the
// milestone's resolved column.
func CountFilled(ds *Dataset, columns ColumnMap, milestones []MilestoneSpec) []MilestoneFill {
	result := make([]MilestoneFill, 0, len(milestones))
	for _, m := range milestones {
		fill := MilestoneFill{Name: m.Name}
		header, ok := columns.Lookup(m.Field)
		if ok {
			fill.Header = header
			fill.Resolved = true
			for _, record := range ds.Records {
				if _, present := record.Value(header); present {
					fill.Filled++
				}
			}
		}
		result = append(result, fill)
	}
	return result
}

// MilestoneStates is the 3-state breakdown for one milestone.
type MilestoneStates struct {
	Name       string `json:"name"`
	Resolved   bool   `json:"resolved"`
	NotStarted int    `json:"not_started"`
	OnProgress int    `json:"on_progress"`
	Done       int    `json:"done"`
}

func (m MilestoneStates) Count(state MilestoneState) int {
	switch state {
	case OnProgress:
		return m.OnProgress
	case Done:
		return m.Done
	default:
		return m.NotStarted
	}
}

func CountStates(c *Classification) []MilestoneStates {
	result := make([]MilestoneStates, len(c.Profile.Milestones))
	for j, m := range c.Profile.Milestones {
		_, resolved := c.Columns.Lookup(m.Field)
		result[j] = MilestoneStates{Name: m.Name, Resolved: resolved}
	}
	for _, a := range c.Annotations {
		for j, state := range a.Milestones {
			switch state {
			case NotStarted:
				result[j].NotStarted++
			case OnProgress:
				result[j].OnProgress++
			case Done:
				result[j].Done++
			}
		}
	}
	return result
}

// OutOfOrder counts annotations where a later milestone is further along than
// an earlier one. States are not adjusted.
func OutOfOrder(annotations []Annotation) int {
	count := 0
	for _, a := range annotations {
		for j := 1; j < len(a.Milestones); j++ {
			if a.Milestones[j] > a.Milestones[j-1] {
				count++
				break
			}
		}
	}
	return count
}
