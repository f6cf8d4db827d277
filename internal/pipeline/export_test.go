package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExportRunReportXLSX(t *testing.T) {
	counts := map[string]int{
		"linked.booking": 3,
		"ambiguous":      1,
		"orphans":        2,
	}
	out := filepath.Join(t.TempDir(), "runs", "run-1.xlsx")
	if err := ExportRunReportXLSX(counts, out); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0][0] != "metric" || rows[0][1] != "value" {
		t.Fatalf("header = %+v", rows[0])
	}
	// Keys are written sorted.
	if rows[1][0] != "ambiguous" || rows[1][1] != "1" {
		t.Fatalf("first data row = %+v", rows[1])
	}
	if rows[2][0] != "linked.booking" || rows[2][1] != "3" {
		t.Fatalf("second data row = %+v", rows[2])
	}
}
