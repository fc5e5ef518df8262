package knowledge

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	data := []byte("Title,Jira Key,Steps\nLogin works,PROJ-1,\"open page\nsubmit form\"\nLogout works,PROJ-2,click logout\n")

	file, err := Parse(data, "csv")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	wantHeaders := []string{"Title", "Jira Key", "Steps"}
	if diff := cmp.Diff(wantHeaders, file.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}

	if len(file.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(file.Rows))
	}
	// Header is row 1, so data rows start at 2.
	if file.Rows[0].Number != 2 || file.Rows[1].Number != 3 {
		t.Errorf("row numbers = %d, %d, want 2, 3", file.Rows[0].Number, file.Rows[1].Number)
	}
	if got := file.Rows[0].Data["Jira Key"]; got != "PROJ-1" {
		t.Errorf(`Rows[0]["Jira Key"] = %q, want "PROJ-1"`, got)
	}
}

func TestParseCSVStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Title,Key\nCase,PROJ-9\n")...)

	file, err := Parse(data, "csv")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if file.Headers[0] != "Title" {
		t.Errorf("Headers[0] = %q, want %q (BOM not stripped)", file.Headers[0], "Title")
	}
}

func TestParseCSVRaggedRows(t *testing.T) {
	data := []byte("Title,Key,Priority\nShort row,PROJ-1\n")

	file, err := Parse(data, "csv")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := file.Rows[0].Data["Priority"]; got != "" {
		t.Errorf(`missing trailing cell = %q, want ""`, got)
	}
}

func TestParseCSVEmpty(t *testing.T) {
	file, err := Parse(nil, "csv")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(file.Headers) != 0 || len(file.Rows) != 0 {
		t.Errorf("expected empty file, got headers=%v rows=%d", file.Headers, len(file.Rows))
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{
		{"Title", "Jira Key"},
		{"Login works", "PROJ-1"},
		{"Logout works", "PROJ-2"},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName() error = %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	file, err := Parse(buf.Bytes(), "xlsx")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(file.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(file.Rows))
	}
	if file.Rows[1].Number != 3 {
		t.Errorf("Rows[1].Number = %d, want 3", file.Rows[1].Number)
	}
	if got := file.Rows[0].Data["Title"]; got != "Login works" {
		t.Errorf(`Rows[0]["Title"] = %q, want "Login works"`, got)
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	for _, fileType := range []string{"pdf", "docx", ""} {
		if _, err := Parse([]byte("x"), fileType); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Parse(%q) error = %v, want ErrUnsupportedFormat", fileType, err)
		}
	}
}

func TestParseExtensionNormalization(t *testing.T) {
	data := []byte("Title,Key\nCase,PROJ-1\n")
	for _, fileType := range []string{"csv", ".csv", "CSV", " .CSV "} {
		if _, err := Parse(data, fileType); err != nil {
			t.Errorf("Parse(%q) error = %v, want nil", fileType, err)
		}
	}
}
