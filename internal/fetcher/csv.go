// Package fetcher streams rows out of delimited data files.
package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

const utf8BOM = "\ufeff"

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	HasHeader bool // first row is passed to OnHeader instead of the row channel
	// OnHeader runs on the reader goroutine before any data row is sent. A
	// non-nil error stops the stream and is reported on the error channel.
	OnHeader   func(header []string) error
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV rows from r and sends them on the returned channel.
// The caller must drain the row channel. At most one error is sent on the
// error channel. Both channels are closed when reading stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		if err := readCSV(ctx, r, opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

// StreamCSVFile opens path and streams it like StreamCSV. The file is closed
// when the stream ends.
func StreamCSVFile(ctx context.Context, path string, opts CSVOptions) (<-chan []string, <-chan error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "csv: open %s", path)
	}

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer f.Close() //nolint:errcheck
		if err := readCSV(ctx, f, opts, rowCh); err != nil {
			errCh <- eris.Wrapf(err, "csv: %s", path)
		}
	}()
	return rowCh, errCh, nil
}

func readCSV(ctx context.Context, r io.Reader, opts CSVOptions, rowCh chan<- []string) error {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	first := true
	for {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}

		if first && opts.HasHeader {
			first = false
			if opts.OnHeader != nil {
				if err := opts.OnHeader(record); err != nil {
					return err
				}
			}
			continue
		}
		first = false

		select {
		case rowCh <- record:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}

// Columns maps header names to field positions.
type Columns map[string]int

// IndexColumns builds a Columns from a header row. Names are matched after
// trimming and lowercasing. Every required name must be present.
func IndexColumns(header []string, required ...string) (Columns, error) {
	cols := make(Columns, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("csv: missing columns %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// Get returns the named field of row, or "" when the column is unknown or the
// row is short.
func (c Columns) Get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
