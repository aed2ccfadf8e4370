package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	profileVersion        = 1
	defaultTop            = 20
	defaultWeeklyMaxDays  = 90
	envDBURL              = "PROGRESS_AUDIT_DB_URL"
	envBlobConnection     = "PROGRESS_AUDIT_BLOB_CONNECTION"
	defaultDBSchema       = "progress_audit"
	scopeUnknown          = "Unknown"
	unresolvedPlaceholder = "NOT FOUND"
)

//go:embed profile.yaml
var defaultProfileYAML []byte

var (
	defaultPlaceholders     = []string{"", "-", "None", "NA", "N/A"}
	defaultProgressKeywords = []string{"IN PROGRESS", "ONGOING"}
	defaultDoneKeywords     = []string{"DONE", "VERIFIED", "COMPLETED"}
)

// Profile is the static configuration for one family of tracker exports:
// header aliases, scope labels, milestone columns and report layout.
type Profile struct {
	Version      int             `yaml:"version" json:"version"`
	Name         string          `yaml:"name" json:"name"`
	Sheet        string          `yaml:"sheet" json:"sheet"`
	Fields       AliasTable      `yaml:"fields" json:"fields"`
	Scope        ScopeConfig     `yaml:"scope" json:"scope"`
	Milestones   []MilestoneSpec `yaml:"milestones" json:"milestones"`
	Keywords     KeywordConfig   `yaml:"keywords" json:"keywords"`
	Placeholders []string        `yaml:"placeholders" json:"placeholders"`
	Breakdowns   []string        `yaml:"breakdowns" json:"breakdowns"`
	Timeline     TimelineConfig  `yaml:"timeline" json:"timeline"`
	Hierarchy    []string        `yaml:"hierarchy" json:"hierarchy"`
	Top          int             `yaml:"top" json:"top"`
}

type ScopeConfig struct {
	Field  string   `yaml:"field" json:"field"`
	Labels []string `yaml:"labels" json:"labels"`
}

// MilestoneSpec binds a milestone to one logical field. A field without an
// alias entry is treated as a literal header.
type MilestoneSpec struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field" json:"field"`
}

type KeywordConfig struct {
	Progress []string `yaml:"progress" json:"progress"`
	Done     []string `yaml:"done" json:"done"`
}

type TimelineConfig struct {
	Field         string `yaml:"field" json:"field"`
	WeeklyMaxDays int    `yaml:"weekly_max_days" json:"weekly_max_days"`
}

// LoadProfile reads a profile from path, or the embedded default when path is empty.
func LoadProfile(path string) (*Profile, error) {
	data := defaultProfileYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		data = raw
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Finalize applies defaults and validates the profile.
func (p *Profile) Finalize() error {
	p.loadDefaults()
	return p.validate()
}

func (p *Profile) loadDefaults() {
	if p.Version == 0 {
		p.Version = profileVersion
	}
	if p.Placeholders == nil {
		p.Placeholders = append([]string{}, defaultPlaceholders...)
	}
	if len(p.Keywords.Progress) == 0 {
		p.Keywords.Progress = append([]string{}, defaultProgressKeywords...)
	}
	if len(p.Keywords.Done) == 0 {
		p.Keywords.Done = append([]string{}, defaultDoneKeywords...)
	}
	if p.Top <= 0 {
		p.Top = defaultTop
	}
	if p.Timeline.WeeklyMaxDays <= 0 {
		p.Timeline.WeeklyMaxDays = defaultWeeklyMaxDays
	}
	p.Keywords.Progress = upperAll(p.Keywords.Progress)
	p.Keywords.Done = upperAll(p.Keywords.Done)

	// Milestones and other references may name a header directly.
	for _, field := range p.referencedFields() {
		if field != "" && !p.Fields.Has(field) {
			p.Fields = append(p.Fields, FieldAlias{Name: field, Candidates: []string{field}})
		}
	}
}

func (p *Profile) validate() error {
	if p.Version != profileVersion {
		return fmt.Errorf("unsupported profile version %d", p.Version)
	}
	seen := map[string]bool{}
	for _, alias := range p.Fields {
		if strings.TrimSpace(alias.Name) == "" {
			return errors.New("profile field name is required")
		}
		if seen[alias.Name] {
			return fmt.Errorf("duplicate profile field: %s", alias.Name)
		}
		seen[alias.Name] = true
	}
	labels := map[string]string{}
	for _, label := range p.Scope.Labels {
		key := NormalizeScope(label)
		if key == "" {
			return errors.New("scope label must not be empty")
		}
		if prev, ok := labels[key]; ok {
			return fmt.Errorf("scope labels %q and %q are the same after normalization", prev, label)
		}
		if key == NormalizeScope(scopeUnknown) {
			return fmt.Errorf("scope label %q is reserved", label)
		}
		labels[key] = label
	}
	names := map[string]bool{}
	for _, m := range p.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return errors.New("milestone name is required")
		}
		if m.Field == "" {
			return fmt.Errorf("milestone %s: field is required", m.Name)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate milestone: %s", m.Name)
		}
		names[m.Name] = true
	}
	return nil
}

func (p *Profile) referencedFields() []string {
	fields := []string{p.Scope.Field, p.Timeline.Field}
	for _, m := range p.Milestones {
		fields = append(fields, m.Field)
	}
	fields = append(fields, p.Breakdowns...)
	fields = append(fields, p.Hierarchy...)
	return fields
}

// Rules returns the milestone classification rules configured by the profile.
func (p *Profile) Rules() MilestoneRules {
	return MilestoneRules{
		Placeholders:     p.Placeholders,
		ProgressKeywords: p.Keywords.Progress,
		DoneKeywords:     p.Keywords.Done,
	}
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dbURLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv(envDBURL)); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}
