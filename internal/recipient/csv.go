package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMissingEmailColumn is returned when the header row has no email column.
var ErrMissingEmailColumn = errors.New("recipient: missing required column \"email\"")

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) ([]Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads a recipient table whose first row is the header. Column
// names are trimmed and lower-cased. Empty rows and rows whose email does
// not contain "@" are skipped. Values are trimmed.
func ReadCSV(r io.Reader) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrMissingEmailColumn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	columns := make([]string, len(header))
	emailCol := -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[i] = name
		if name == "email" && emailCol < 0 {
			emailCol = i
		}
	}
	if emailCol < 0 {
		return nil, ErrMissingEmailColumn
	}

	var list []Recipient
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		if isEmptyRow(row) {
			continue
		}

		fields := make(map[string]string, len(columns))
		for i, name := range columns {
			if name == "" {
				continue
			}
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			fields[name] = v
		}
		if !strings.Contains(fields["email"], "@") {
			continue
		}
		list = append(list, New(fields))
	}
	return list, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
