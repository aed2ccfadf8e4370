package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrUnreadable indicates the source could not be opened or decoded.
	ErrUnreadable = errors.New("unreadable source")
	// ErrSheetNotFound indicates the requested workbook sheet does not exist.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrEmptyDataset indicates the source has no header row.
	ErrEmptyDataset = errors.New("no header row found")
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}

	zipSignature  = []byte("PK\x03\x04")
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Record is one row keyed by header.
type Record map[string]string

// Value returns the trimmed cell for header. ok is false for a missing or blank cell.
func (r Record) Value(header string) (string, bool) {
	value, ok := r[header]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// LoadWarning is a non-fatal issue found while reading a row.
type LoadWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Dataset is a loaded table. It is read-only once returned by a loader.
type Dataset struct {
	Source   string        `json:"source"`
	Sheet    string        `json:"sheet,omitempty"`
	Encoding string        `json:"encoding,omitempty"`
	Headers  []string      `json:"headers"`
	Records  []Record      `json:"-"`
	Warnings []LoadWarning `json:"warnings,omitempty"`
}

type LoadOptions struct {
	// Sheet must exist when set.
	Sheet string
	// PreferredSheet is used when present, otherwise the first sheet is read.
	PreferredSheet string
}

// isWorkbook reports an OOXML workbook by extension or by its zip signature.
func isWorkbook(name string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return bytes.HasPrefix(data, zipSignature)
}

// isLegacyWorkbook reports a BIFF (.xls) workbook, which excelize cannot read.
func isLegacyWorkbook(name string, data []byte) bool {
	return strings.EqualFold(filepath.Ext(name), ".xls") || bytes.HasPrefix(data, ole2Signature)
}

// ParseDataset decodes data as a workbook or delimited text based on name's
// extension and leading bytes.
func ParseDataset(name string, data []byte, opts LoadOptions) (*Dataset, error) {
	var (
		ds  *Dataset
		err error
	)
	switch {
	case isLegacyWorkbook(name, data):
		err = fmt.Errorf("%w: legacy .xls not supported; save as .xlsx", ErrUnreadable)
	case isWorkbook(name, data):
		ds, err = parseWorkbook(data, opts)
	default:
		ds, err = parseDelimited(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ds.Source = name
	return ds, nil
}

func parseWorkbook(data []byte, opts LoadOptions) (*Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheet, err := chooseSheet(f.GetSheetList(), opts)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %v", ErrUnreadable, sheet, err)
	}

	ds, err := buildDataset(rows)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheet, err)
	}
	ds.Sheet = sheet
	return ds, nil
}

func chooseSheet(sheets []string, opts LoadOptions) (string, error) {
	if opts.Sheet != "" {
		if slices.Contains(sheets, opts.Sheet) {
			return opts.Sheet, nil
		}
		return "", fmt.Errorf("%w: %s (available: %s)", ErrSheetNotFound, opts.Sheet, strings.Join(sheets, ", "))
	}
	if opts.PreferredSheet != "" && slices.Contains(sheets, opts.PreferredSheet) {
		return opts.PreferredSheet, nil
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	return sheets[0], nil
}

func parseDelimited(data []byte) (*Dataset, error) {
	decoded, encoding, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = sniffDelimiter(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	var warnings []LoadWarning
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			if line == 1 {
				return nil, fmt.Errorf("%w: read header: %v", ErrUnreadable, err)
			}
			warnings = append(warnings, LoadWarning{Row: line, Message: fmt.Sprintf("parse error: %v", err)})
			continue
		}
		rows = append(rows, row)
	}

	ds, err := buildDataset(rows)
	if err != nil {
		return nil, err
	}
	ds.Encoding = encoding
	ds.Warnings = append(warnings, ds.Warnings...)
	return ds, nil
}

// buildDataset turns raw rows (first row is the header) into records.
// Short rows are padded, long rows truncated, blank rows skipped.
func buildDataset(rows [][]string) (*Dataset, error) {
	for len(rows) > 0 && blankRow(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	headers := uniqueHeaders(rows[0])
	headerCount := len(headers)
	ds := &Dataset{Headers: headers, Records: make([]Record, 0, len(rows)-1)}

	for i, row := range rows[1:] {
		rowNum := i + 2
		if blankRow(row) {
			continue
		}
		if len(row) > headerCount {
			ds.Warnings = append(ds.Warnings, LoadWarning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncating extra columns", len(row), headerCount),
			})
			row = row[:headerCount]
		}
		record := make(Record, headerCount)
		for j, h := range headers {
			if j < len(row) {
				record[h] = row[j]
			} else {
				record[h] = ""
			}
		}
		ds.Records = append(ds.Records, record)
	}
	return ds, nil
}

// uniqueHeaders suffixes repeated headers (".1", ".2") so every column stays
// addressable. Headers are otherwise kept verbatim; alias matching is exact.
func uniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	taken := make(map[string]bool, len(raw))
	for i, h := range raw {
		if strings.TrimSpace(h) == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for n := 1; taken[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		taken[name] = true
		headers[i] = name
	}
	return headers
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// decodeText converts data to UTF-8, honouring a UTF-8/UTF-16 BOM and falling
// back to Latin-1 for invalid UTF-8.
func decodeText(data []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8), bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return nil, "", fmt.Errorf("decode bom: %w", err)
		}
		name := "utf-8-bom"
		if !bytes.HasPrefix(data, bomUTF8) {
			name = "utf-16"
		}
		return decoded, name, nil
	case utf8.Valid(data):
		return data, "utf-8", nil
	default:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode latin-1: %w", err)
		}
		return decoded, "latin-1", nil
	}
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on the header line.
func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte{byte(candidate)}); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}
