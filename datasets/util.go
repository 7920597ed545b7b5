package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Required CSV column names. Matching is exact and case sensitive.
const (
	ColumnText  = "text"
	ColumnLabel = "label"
)

// ReadCSV reads every row of a headered CSV file and returns the text and
// label columns in file order. Other columns are ignored, text values are
// kept verbatim. Labels may carry surrounding whitespace.
func ReadCSV(path string) (texts []string, labels []int, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &NotFoundError{Path: path, What: "CSV file"}
		}
		return nil, nil, errors.Wrapf(err, "failed to open CSV %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, &SchemaError{Path: path}
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read header of %s", path)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := colIndex[col]; !dup {
			colIndex[col] = i
		}
	}
	textCol, hasText := colIndex[ColumnText]
	labelCol, hasLabel := colIndex[ColumnLabel]
	if !hasText || !hasLabel {
		return nil, nil, &SchemaError{Path: path, Header: header}
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read row of %s", path)
		}
		line, _ := reader.FieldPos(0)

		var text, rawLabel string
		if textCol < len(record) {
			text = record[textCol]
		}
		if labelCol < len(record) {
			rawLabel = record[labelCol]
		}
		label, err := strconv.Atoi(strings.TrimSpace(rawLabel))
		if err != nil {
			return nil, nil, &ParseError{Path: path, Line: line, Value: rawLabel, Err: err}
		}
		texts = append(texts, text)
		labels = append(labels, label)
	}
	return texts, labels, nil
}
