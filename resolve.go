package main

// FieldAlias lists the header spellings probed for one logical field, in priority order.
type FieldAlias struct {
	Name       string   `yaml:"name" json:"name"`
	Candidates []string `yaml:"candidates" json:"candidates"`
}

type AliasTable []FieldAlias

func (t AliasTable) Has(field string) bool {
	for _, alias := range t {
		if alias.Name == field {
			return true
		}
	}
	return false
}

// ColumnMap maps logical field names to the header found in one dataset.
// Unresolved fields have no entry.
type ColumnMap map[string]string

// ResolveColumns picks, for every field, the first candidate present in headers.
// Matching is exact and case-sensitive. Fields resolve independently, so two
// fields may share a header.
func ResolveColumns(headers []string, aliases AliasTable) ColumnMap {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	resolved := make(ColumnMap, len(aliases))
	for _, alias := range aliases {
		if header, ok := findColumn(present, alias.Candidates); ok {
			resolved[alias.Name] = header
		}
	}
	return resolved
}

func findColumn(headers map[string]struct{}, names []string) (string, bool) {
	for _, name := range names {
		if _, ok := headers[name]; ok {
			return name, true
		}
	}
	return "", false
}

func (m ColumnMap) Lookup(field string) (string, bool) {
	header, ok := m[field]
	return header, ok
}

// Missing lists the unresolved fields in alias-table order.
func (m ColumnMap) Missing(aliases AliasTable) []string {
	var missing []string
	for _, alias := range aliases {
		if _, ok := m[alias.Name]; !ok {
			missing = append(missing, alias.Name)
		}
	}
	return missing
}

// Value returns the record's value for a logical field. ok is false when the
// field is unresolved or the cell is null.
func (m ColumnMap) Value(record Record, field string) (string, bool) {
	header, ok := m[field]
	if !ok {
		return "", false
	}
	return record.Value(header)
}

// MappingEntry is one row of the printable column mapping.
type MappingEntry struct {
	Field    string `json:"field"`
	Header   string `json:"header"`
	Resolved bool   `json:"resolved"`
}

func (m ColumnMap) Entries(aliases AliasTable) []MappingEntry {
	entries := make([]MappingEntry, 0, len(aliases))
	for _, alias := range aliases {
		header, ok := m[alias.Name]
		if !ok {
			header = unresolvedPlaceholder
		}
		entries = append(entries, MappingEntry{Field: alias.Name, Header: header, Resolved: ok})
	}
	return entries
}
