package batch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrBadBatch marks schema failures. The whole batch is rejected on the
// first invalid row; no partial batch is ever admitted.
var ErrBadBatch = errors.New("invalid batch")

// Required column headers, matched case-insensitively.
const (
	colSerial = "serial number"
	colName   = "product name"
	colURLs   = "input image urls"
)

// Row is one validated batch row.
type Row struct {
	SerialNumber   string
	ProductName    string
	InputImageURLs []string
}

// Parse reads a CSV batch and returns the validated rows in input order,
// together with the flattened list of all image URLs. Parsing is pure and
// fail-fast: the first schema violation aborts with ErrBadBatch.
func Parse(r io.Reader) ([]Row, []string, error) {
	br := bufio.NewReader(r)
	stripBOM(br)

	cr := csv.NewReader(br)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty file", ErrBadBatch)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadBatch, err)
	}

	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	serialIdx, ok := idx[colSerial]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing %q column", ErrBadBatch, "Serial Number")
	}
	nameIdx, ok := idx[colName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing %q column", ErrBadBatch, "Product Name")
	}
	urlsIdx, ok := idx[colURLs]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing %q column", ErrBadBatch, "Input Image Urls")
	}

	var rows []Row
	var all []string
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadBatch, err)
		}

		serial := strings.TrimSpace(rec[serialIdx])
		name := strings.TrimSpace(rec[nameIdx])
		if serial == "" {
			return nil, nil, fmt.Errorf("%w: row %d: empty Serial Number", ErrBadBatch, line)
		}
		if name == "" {
			return nil, nil, fmt.Errorf("%w: row %d: empty Product Name", ErrBadBatch, line)
		}

		urls := splitURLs(rec[urlsIdx])
		all = append(all, urls...)
		rows = append(rows, Row{
			SerialNumber:   serial,
			ProductName:    name,
			InputImageURLs: urls,
		})
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: no data rows", ErrBadBatch)
	}
	return rows, all, nil
}

// splitURLs splits a comma-separated URL list, trimming whitespace and
// dropping empty entries. An empty cell yields a row with zero images.
func splitURLs(s string) []string {
	var urls []string
	for _, u := range strings.Split(s, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func stripBOM(br *bufio.Reader) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, bom) {
		br.Discard(3)
	}
}
