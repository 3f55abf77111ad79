package feed

import (
	"encoding/csv"
	"io"
)

// NewCSVReader returns the csv.Reader settings every reader of archive files shares: rows may vary in
// length and stray quotes inside fields are kept.
func NewCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}
