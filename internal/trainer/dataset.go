// Package trainer fits the tampering random forest from a labeled dataset
// and serializes the artifact the classifier loads at startup.
package trainer

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// labelColumn is the required binary target column: 1 = tampered, 0 = original.
const labelColumn = "label"

// Dataset is a numeric feature table with a binary label per row.
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Y) }

// LoadDataset reads a labeled dataset from a CSV or XLSX file, dispatching
// on the file extension.
func LoadDataset(path string) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "trainer: open dataset %s", path)
		}
		defer f.Close()
		return LoadCSV(f)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, eris.Errorf("trainer: unsupported dataset format %s", filepath.Ext(path))
	}
}

// LoadCSV parses a CSV dataset. The first row is the header: feature column
// names plus a "label" column in any position.
func LoadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "trainer: read csv header")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "trainer: read csv row")
		}
		rows = append(rows, record)
	}

	return buildDataset(header, rows)
}

// LoadXLSX parses the first sheet of an XLSX workbook with the same layout
// as the CSV format.
func LoadXLSX(path string) (*Dataset, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "trainer: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("trainer: xlsx %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("trainer: xlsx %s has no data rows", path)
	}

	header := rowToStrings(sheet.Rows[0])
	var rows [][]string
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowToStrings(row))
	}

	return buildDataset(header, rows)
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = strings.TrimSpace(c.Value)
	}
	return cells
}

func buildDataset(header []string, rows [][]string) (*Dataset, error) {
	labelIdx := -1
	var features []string
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), labelColumn) {
			labelIdx = i
			continue
		}
		features = append(features, strings.TrimSpace(col))
	}
	if labelIdx == -1 {
		return nil, eris.Errorf("trainer: dataset has no %q column", labelColumn)
	}
	if len(features) == 0 {
		return nil, eris.New("trainer: dataset has no feature columns")
	}

	ds := &Dataset{Features: features}
	for rowNum, record := range rows {
		if len(record) != len(header) {
			return nil, eris.Errorf("trainer: row %d has %d columns, expected %d", rowNum+2, len(record), len(header))
		}

		label, err := strconv.Atoi(strings.TrimSpace(record[labelIdx]))
		if err != nil || (label != 0 && label != 1) {
			return nil, eris.Errorf("trainer: row %d has non-binary label %q", rowNum+2, record[labelIdx])
		}

		x := make([]float64, 0, len(features))
		for i, cell := range record {
			if i == labelIdx {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, eris.Errorf("trainer: row %d column %q is not numeric: %q", rowNum+2, header[i], cell)
			}
			x = append(x, v)
		}

		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, label)
	}

	if ds.Len() == 0 {
		return nil, eris.New("trainer: dataset is empty")
	}
	return ds, nil
}
