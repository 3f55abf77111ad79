package indexer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
)

// gtfsRowReader interface defines methods used to read rows from a gtfs csv file and record them to the store
type gtfsRowReader interface {

	// addRow should read the current line from gtfsFileParser and record the result, or hold it to be
	// recorded later via flush. Only store failures are returned, rows that don't parse are skipped.
	addRow(ctx context.Context, parser *gtfsFileParser) error

	// flush should record any pending records, if any
	flush(ctx context.Context) error
}

// gtfsFileParser holds information about a cvs file. Methods to read columns for records. Errors while extracting
// data types are stored in errors array until the next line is read.
type gtfsFileParser struct {
	Filename       string
	line           int
	cvsReader      *csv.Reader
	headers        []string
	currentRecords []string
	errors         []error
}

// makeGTFSFileParser creates new gtfsFileParser from io.Reader
func makeGTFSFileParser(r io.Reader, filename string) (*gtfsFileParser, error) {
	csvReader, headers, err := makeCSVReader(r, filename)
	if err != nil {
		return nil, err
	}
	return &gtfsFileParser{
		Filename:       filename,
		line:           1,
		cvsReader:      csvReader,
		headers:        headers,
		currentRecords: headers,
	}, nil
}

// makeCSVReader creates a lenient csv.Reader on r and reads the header row
func makeCSVReader(r io.Reader, filename string) (*csv.Reader, []string, error) {
	csvReader := feed.NewCSVReader(r)

	headers, err := csvReader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to load header in %s file: %v", filename, err)
	}
	removeBOMIfPresent(headers)
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	return csvReader, headers, nil
}

func removeBOMIfPresent(headers []string) {
	if len(headers) < 1 {
		return
	}
	firstHeader := headers[0]
	if len(firstHeader) < 1 {
		return
	}
	runes := []rune(firstHeader) // convert string to runes
	if runes[0] == '\uFEFF' { //check for BOM
		headers[0] = string(runes[1:])
	}
}

// getString retrieves string
// returns empty string if missing
func (C *gtfsFileParser) getString(name string, optional bool) string {
	result, err := findValue(name, C.currentRecords, C.headers, optional)
	if err != nil {
		C.errors = append(C.errors, err)
	}
	if result == nil {
		return ""
	}
	return strings.TrimSpace(*result)
}

// getInt retrieves int
// returns 0 if missing.
func (C *gtfsFileParser) getInt(name string, optional bool) int {
	result, err := getInt(name, C.currentRecords, C.headers, optional)
	if err != nil {
		C.errors = append(C.errors, err)
	}
	if result == nil {
		return 0
	}
	return *result
}

// getTimeOfDay retrieves a gtfs time as zero padded HH:MM:SS, recording an error if it doesn't parse
func (C *gtfsFileParser) getTimeOfDay(name string, optional bool) string {
	value := C.getString(name, optional)
	if len(value) == 0 {
		return value
	}
	seconds, err := busstate.SecondsFromTimeOfDay(value)
	if err != nil {
		C.errors = append(C.errors, csvError(name, err))
		return value
	}
	return busstate.FormatTimeOfDay(seconds)
}

// getError retrieve errors encountered while parsing the current line
func (C *gtfsFileParser) getError() error {
	if len(C.errors) > 0 {
		return fmt.Errorf("in file %v, line %v: %v", C.Filename, C.line, C.errors)
	}
	return nil
}

// nextLine moves csvReader one line forward
func (C *gtfsFileParser) nextLine() error {
	var err error
	C.currentRecords, err = C.cvsReader.Read()
	C.line += 1
	C.errors = C.errors[:0]
	return err
}

// find index of elements that matches name string. returns -1 if not found
func indexOf(name string, elements []string) int {
	for i, value := range elements {
		if name == value {
			return i
		}
	}
	return -1
}

// findValue retrieves string value from csv records
// returns nil if record isn't present and optional is true
func findValue(name string, records []string, headers []string, optional bool) (*string, error) {
	index := indexOf(name, headers)
	if index < 0 {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to find header: %s", name)
	}
	if len(records) <= index {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("records are too short to find header at %v named %s", index, name)
	}
	value := records[index]
	if len(strings.TrimSpace(value)) == 0 && !optional {
		return nil, fmt.Errorf("missing required value in column %v", name)
	}
	return &value, nil
}

// getInt retrieves int from csv records
// returns nil if record isn't present and optional is true
func getInt(name string, records []string, headers []string, optional bool) (*int, error) {
	value, err := findValue(name, records, headers, optional)
	if err != nil || value == nil {
		return nil, err
	}
	str := strings.TrimSpace(*value)
	if len(str) == 0 {
		return nil, nil
	}
	result, err := strconv.Atoi(str)
	if err != nil {
		return nil, csvError(name, err)
	}
	return &result, nil
}

// csvError convenience method for formatting an error and line number in csv file.
func csvError(name string, err error) error {
	return fmt.Errorf("unable to parse column %s, error: %v ", name, err)
}

// loadGTFSRows iterates over all rows in gtfsFileParser and feeds them into rowReader.
// reading halts if an error occurs and the error is returned
func loadGTFSRows(ctx context.Context, parser *gtfsFileParser, rowReader gtfsRowReader) error {
	for {
		err := parser.nextLine()

		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("in file %v, line %v: %w", parser.Filename, parser.line, err)
		}
		if err = ctx.Err(); err != nil {
			return err
		}

		if err = rowReader.addRow(ctx, parser); err != nil {
			return err
		}
	}
	//flush the remaining items out of the row reader into the store
	return rowReader.flush(ctx)
}

// loadArchiveFile reads file name from archive with rowReader
func loadArchiveFile(ctx context.Context, log *log.Logger, archive *feed.Archive, name string,
	rowReader gtfsRowReader) error {
	start := time.Now()
	rc, err := archive.Open(name)
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()
	parser, err := makeGTFSFileParser(rc, name)
	if err != nil {
		return err
	}
	log.Printf("Loading %s\n", parser.Filename)
	if err = loadGTFSRows(ctx, parser, rowReader); err != nil {
		return err
	}
	log.Printf("Loaded %d rows in file %s in %s\n", parser.line-1, parser.Filename,
		time.Since(start).Round(time.Millisecond))
	return nil
}
