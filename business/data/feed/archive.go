// Package feed reads static gtfs archives and decides whether a downloaded archive is trustworthy enough
// to be indexed.
package feed

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// static feed files used for indexing
const (
	StopsFile     = "stops.txt"
	TripsFile     = "trips.txt"
	StopTimesFile = "stop_times.txt"
	CalendarFile  = "calendar.txt"
)

// RequiredFiles are the files an archive must contain to pass validation, in the order they are checked
var RequiredFiles = []string{StopsFile, TripsFile, StopTimesFile, CalendarFile}

// Archive is a gtfs zip file held in memory
type Archive struct {
	reader *zip.Reader
	files  map[string]*zip.File
}

// OpenArchive reads the zip directory of content
func OpenArchive(content []byte) (*Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("opening gtfs archive: %w", err)
	}
	archive := Archive{
		reader: reader,
		files:  make(map[string]*zip.File),
	}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			//ignore folders
			continue
		}
		archive.files[f.Name] = f
	}
	return &archive, nil
}

// Has reports whether the archive contains file name
func (a *Archive) Has(name string) bool {
	_, present := a.files[name]
	return present
}

// Open opens file name for reading, the caller closes it
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	f, present := a.files[name]
	if !present {
		return nil, fmt.Errorf("gtfs archive is missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return rc, nil
}

// Digest identifies archive content, two downloads with the same Digest hold the same bytes
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
