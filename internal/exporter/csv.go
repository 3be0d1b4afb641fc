package exporter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/isometry/ldap-csv-exporter/internal/config"
)

// Directory attributes backing each CSV column.
const (
	AttrUsername   = "sAMAccountName"
	AttrName       = "cn"
	AttrCompany    = "company"
	AttrDepartment = "department"
)

// Header is the fixed first line of every export.
var Header = []string{"username", "name", "company", "department"}

// Attributes lists the attributes requested from the directory, in column order.
var Attributes = []string{AttrUsername, AttrName, AttrCompany, AttrDepartment}

// Row is one line of the export.
type Row struct {
	Username   string
	Name       string
	Company    string
	Department string
}

// Record returns the row as CSV fields in header order.
func (r Row) Record() []string {
	return []string{r.Username, r.Name, r.Company, r.Department}
}

// MissingAttributeError reports an entry without a value for a required column.
type MissingAttributeError struct {
	DN        string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("entry %q has no value for required attribute %s", e.DN, e.Attribute)
}

// RowFromEntry maps an entry onto a row. sAMAccountName and cn are required;
// when multi-valued their first value is used. company and department become
// empty when absent or list-valued.
func RowFromEntry(e Entry) (Row, error) {
	username, err := requiredValue(e, AttrUsername)
	if err != nil {
		return Row{}, err
	}

	name, err := requiredValue(e, AttrName)
	if err != nil {
		return Row{}, err
	}

	return Row{
		Username:   username,
		Name:       name,
		Company:    optionalValue(e, AttrCompany),
		Department: optionalValue(e, AttrDepartment),
	}, nil
}

func requiredValue(e Entry, attr string) (string, error) {
	v, ok := e.Lookup(attr)
	if !ok {
		return "", &MissingAttributeError{DN: e.DN(), Attribute: attr}
	}

	s, ok := v.First()
	if !ok {
		return "", &MissingAttributeError{DN: e.DN(), Attribute: attr}
	}
	return sanitize(s), nil
}

func optionalValue(e Entry, attr string) string {
	v, ok := e.Lookup(attr)
	if !ok || v.IsList() {
		return ""
	}
	return sanitize(v.String())
}

// sanitize replaces invalid UTF-8 sequences with U+FFFD.
func sanitize(s string) string {
	out, err := unicode.UTF8.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// WriteOptions controls how the CSV file is written.
type WriteOptions struct {
	MissingPolicy config.MissingPolicy
	BOM           bool // Prefix the file with a UTF-8 byte order mark
}

// WriteStats summarizes a write.
type WriteStats struct {
	Rows    int // Data rows written, header excluded
	Skipped int // Entries dropped for missing required attributes
}

// WriteCSV creates or truncates path and writes the header followed by one row
// per entry, with RFC 4180 quoting and CRLF line endings. Under MissingFail
// the first entry lacking a required attribute aborts the write with a
// *MissingAttributeError.
func WriteCSV(ctx context.Context, path string, entries []Entry, opts WriteOptions) (WriteStats, error) {
	f, err := os.Create(path)
	if err != nil {
		return WriteStats{}, fmt.Errorf("failed to create CSV file: %w", err)
	}

	stats, writeErr := writeRows(ctx, f, entries, opts)
	closeErr := f.Close()

	if writeErr != nil {
		return stats, writeErr
	}
	if closeErr != nil {
		return stats, fmt.Errorf("failed to close CSV file: %w", closeErr)
	}

	tflog.SubsystemInfo(ctx, "export", "CSV file written", map[string]any{
		"path":    path,
		"rows":    stats.Rows,
		"skipped": stats.Skipped,
	})
	return stats, nil
}

func writeRows(ctx context.Context, out io.Writer, entries []Entry, opts WriteOptions) (WriteStats, error) {
	var stats WriteStats

	var bom *transform.Writer
	if opts.BOM {
		bom = transform.NewWriter(out, unicode.UTF8BOM.NewEncoder())
		out = bom
	}

	w := csv.NewWriter(out)
	w.UseCRLF = true
	if err := w.Write(Header); err != nil {
		return stats, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row, err := RowFromEntry(entry)
		if err != nil {
			var missing *MissingAttributeError
			if !errors.As(err, &missing) || opts.MissingPolicy == config.MissingFail {
				w.Flush()
				return stats, err
			}

			stats.Skipped++
			tflog.SubsystemWarn(ctx, "export", "Skipping entry without required attribute", map[string]any{
				"dn":        missing.DN,
				"attribute": missing.Attribute,
			})
			continue
		}

		if err := w.Write(row.Record()); err != nil {
			return stats, fmt.Errorf("failed to write CSV row: %w", err)
		}
		stats.Rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return stats, fmt.Errorf("failed to flush CSV file: %w", err)
	}

	if bom != nil {
		if err := bom.Close(); err != nil {
			return stats, fmt.Errorf("failed to flush CSV file: %w", err)
		}
	}

	return stats, nil
}
