// Package gtfszip reads delimited tables out of a static GTFS zip archive.
//
// The target feed deviates from plain GTFS in a few ways this reader has to
// tolerate: table files may sit under a nested top-level directory, may carry
// a UTF-8 byte-order mark, and may be semicolon-delimited instead of
// comma-delimited. A missing table is not an error; callers get an empty
// result so optional tables like calendar_dates.txt can be absent.
package gtfszip

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Row maps column names from the table header to the raw field values of one
// record. Fields missing from a short row are simply absent.
type Row map[string]string

// ReadTable parses the named table from zip payload bytes. The member lookup
// is case-insensitive and accepts one level of directory nesting. A missing
// member yields (nil, nil); a corrupt archive yields an error.
func ReadTable(payload []byte, name string) ([]Row, error) {
	archive, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("opening feed archive: %w", err)
	}

	member := findMember(archive, name)
	if member == nil {
		return nil, nil
	}

	handle, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", member.Name, err)
	}
	defer handle.Close()

	raw, err := io.ReadAll(handle)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", member.Name, err)
	}

	return parseRows(raw)
}

// FeedInfo returns the first row of feed_info.txt, or an empty Row when the
// table is absent or empty.
func FeedInfo(payload []byte) (Row, error) {
	rows, err := ReadTable(payload, "feed_info.txt")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return Row{}, nil
	}
	return rows[0], nil
}

func findMember(archive *zip.Reader, name string) *zip.File {
	want := strings.ToLower(name)
	for _, f := range archive.File {
		lower := strings.ToLower(f.Name)
		if lower == want || strings.HasSuffix(lower, "/"+want) {
			return f
		}
	}
	return nil
}

func parseRows(raw []byte) ([]Row, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading table header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate the occasional ragged record instead of losing the table.
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sniffDelimiter picks semicolon when the header line carries more semicolons
// than commas, which is how the ZET exports arrive.
func sniffDelimiter(raw []byte) rune {
	line := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		line = raw[:idx]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}
