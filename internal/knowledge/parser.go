package knowledge

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParsedRow is one data row keyed by header name. Number is the 1-based
// source row number; the header row counts, so the first data row is row 2,
// matching spreadsheet conventions.
type ParsedRow struct {
	Number int
	Data   map[string]string
}

// ParsedFile is the decoded form of an uploaded file.
type ParsedFile struct {
	Headers  []string
	Rows     []ParsedRow
	FileType string
}

// Parse decodes file bytes according to the declared type. It performs no
// I/O beyond decoding. Returns ErrUnsupportedFormat for unknown types.
func Parse(data []byte, fileType string) (*ParsedFile, error) {
	switch normalizeExtension(fileType) {
	case "csv":
		return parseCSV(data)
	case "xlsx":
		return parseXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
}

func normalizeExtension(fileType string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
}

func parseCSV(data []byte) (*ParsedFile, error) {
	// Strip a UTF-8 BOM; spreadsheet exports commonly carry one.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decoding csv: %w", err)
	}
	if len(records) == 0 {
		return &ParsedFile{FileType: "csv"}, nil
	}

	headers := records[0]
	rows := make([]ParsedRow, 0, len(records)-1)
	for i, record := range records[1:] {
		rows = append(rows, ParsedRow{
			Number: i + 2, // header is row 1
			Data:   rowMap(headers, record),
		})
	}

	return &ParsedFile{Headers: headers, Rows: rows, FileType: "csv"}, nil
}

func parseXLSX(data []byte) (*ParsedFile, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("decoding xlsx: workbook has no sheets")
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(records) == 0 {
		return &ParsedFile{FileType: "xlsx"}, nil
	}

	headers := records[0]
	rows := make([]ParsedRow, 0, len(records)-1)
	for i, record := range records[1:] {
		rows = append(rows, ParsedRow{
			Number: i + 2,
			Data:   rowMap(headers, record),
		})
	}

	return &ParsedFile{Headers: headers, Rows: rows, FileType: "xlsx"}, nil
}

// rowMap zips a record with the header list. Short records leave trailing
// headers empty; extra cells beyond the headers are dropped.
func rowMap(headers, record []string) map[string]string {
	m := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(record) {
			m[h] = record[i]
		} else {
			m[h] = ""
		}
	}
	return m
}
