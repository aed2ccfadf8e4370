package main

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Filter narrows the row view. Values are OR-ed within a field and AND-ed
// across fields. The plan range is inclusive and applies to the timeline field.
type Filter struct {
	Values   map[string][]string
	PlanFrom time.Time
	PlanTo   time.Time
}

// ParseFilters reads repeated "field=value" flags.
func ParseFilters(raw []string) (map[string][]string, error) {
	values := map[string][]string{}
	for _, item := range raw {
		field, value, ok := strings.Cut(item, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --filter %q: want field=value", item)
		}
		values[field] = append(values[field], strings.TrimSpace(value))
	}
	return values, nil
}

func (f Filter) hasRange() bool {
	return !f.PlanFrom.IsZero() || !f.PlanTo.IsZero()
}

// Apply returns the indices of records that pass the filter, plus notices for
// filters that could not be applied because their field is unresolved.
func (f Filter) Apply(c *Classification) ([]int, []string) {
	var notices []string
	active := map[string][]string{}
	fields := make([]string, 0, len(f.Values))
	for field := range f.Values {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		if _, ok := c.Columns.Lookup(field); !ok {
			notices = append(notices, fmt.Sprintf("filter on %s ignored: column not found", field))
			continue
		}
		active[field] = f.Values[field]
	}

	useRange := f.hasRange()
	if useRange {
		if _, ok := c.Columns.Lookup(c.Profile.Timeline.Field); !ok {
			notices = append(notices, fmt.Sprintf("date range ignored: %s column not found", c.Profile.Timeline.Field))
			useRange = false
		}
	}

	view := make([]int, 0, len(c.Dataset.Records))
	for i, record := range c.Dataset.Records {
		if f.matches(c, record, active, useRange) {
			view = append(view, i)
		}
	}
	return view, notices
}

func (f Filter) matches(c *Classification, record Record, active map[string][]string, useRange bool) bool {
	for field, allowed := range active {
		value, _ := c.Columns.Value(record, field)
		if !slices.Contains(allowed, value) {
			return false
		}
	}
	if !useRange {
		return true
	}
	raw, ok := c.Columns.Value(record, c.Profile.Timeline.Field)
	if !ok {
		return false
	}
	parsed, err := parseDate(raw)
	if err != nil {
		return false
	}
	day := dateOnly(parsed)
	if !f.PlanFrom.IsZero() && day.Before(dateOnly(f.PlanFrom)) {
		return false
	}
	if !f.PlanTo.IsZero() && day.After(dateOnly(f.PlanTo)) {
		return false
	}
	return true
}
