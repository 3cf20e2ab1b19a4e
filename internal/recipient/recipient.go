// Package recipient loads recipient records from delimited tabular files.
package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EmailField is the column that carries the delivery address.
const EmailField = "email"

// Record is one row of the recipient table. Keys keep the column order of
// the header line.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a record from alternating key/value pairs.
func NewRecord(pairs ...string) Record {
	r := Record{values: make(map[string]string, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.set(pairs[i], pairs[i+1])
	}
	return r
}

func (r *Record) set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value of a column and whether it is present.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the column names in file order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Email returns the recipient address. The "email" column is preferred; a
// column whose name matches it case-insensitively is accepted.
func (r Record) Email() (string, bool) {
	v, ok := r.values[EmailField]
	if !ok {
		for _, k := range r.keys {
			if strings.EqualFold(k, EmailField) {
				v, ok = r.values[k], true
				break
			}
		}
	}
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Options controls how a recipient file is decoded.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
}

// Load reads every record of the file at path. When the delimiter is left
// at its default, files ending in .tsv are split on tabs.
func Load(path string, opts Options) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient file: %w", err)
	}
	defer f.Close()

	if (opts.Comma == 0 || opts.Comma == ',') && strings.EqualFold(filepath.Ext(path), ".tsv") {
		opts.Comma = '\t'
	}

	return Read(f, opts)
}

// Read decodes records from r. The first line holds the column headers.
// Any decoding error discards the partial result.
func Read(r io.Reader, opts Options) ([]Record, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read recipients: %w", err)
		}

		rec := Record{values: make(map[string]string, len(header))}
		for i, name := range header {
			if i >= len(row) {
				break
			}
			rec.set(name, row[i])
		}
		records = append(records, rec)
	}

	return records, nil
}
