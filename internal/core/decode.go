package core

// decode.go turns an uploaded tabular file into records.
//
// Decoders yield a lazy sequence of (Record, error) pairs. A row that lacks a
// name or an email is reported as an error for that row rather than dropped.
// CollectRecords is the all-or-nothing gate in front of Submit: any row fault
// rejects the whole batch as ErrInvalidFormat.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
)

// Format identifies a supported upload encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat sniffs the content of an upload. Plain text and CSV are
// treated as CSV. A generic zip is accepted as XLSX only when the file name
// says so, since some writers order workbook entries so that sniffing cannot
// tell them apart from other archives.
func DetectFormat(head []byte, filename string) (Format, error) {
	mtype := mimetype.Detect(head)
	switch {
	case mtype.Is(mimeXLSX):
		return FormatXLSX, nil
	case mtype.Is("application/zip") && strings.EqualFold(filepath.Ext(filename), ".xlsx"):
		return FormatXLSX, nil
	case mtype.Is("text/csv"), mtype.Is("text/plain"):
		return FormatCSV, nil
	default:
		return "", errors.WithHintf(
			errors.Wrapf(ErrUnsupportedFileType, "detected %s", mtype.String()),
			"Upload a .csv or .xlsx file")
	}
}

// Decode dispatches to the decoder for format.
func Decode(r io.Reader, format Format) iter.Seq2[Record, error] {
	switch format {
	case FormatXLSX:
		return DecodeXLSX(r)
	case FormatCSV:
		return DecodeCSV(r)
	default:
		return func(yield func(Record, error) bool) {
			yield(Record{}, errors.Wrapf(ErrUnsupportedFileType, "format %q", format))
		}
	}
}

// DecodeCSV reads a CSV file whose header row names "name" and "email"
// columns (any case, any position). A leading UTF-8 BOM is skipped and fully
// blank rows are ignored.
func DecodeCSV(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		br := bufio.NewReader(r)
		if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			br.Discard(len(utf8BOM))
		}

		cr := csv.NewReader(br)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		header, err := cr.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(Record{}, errors.Wrap(err, "read header"))
			return
		}
		cols, err := locateColumns(header)
		if err != nil {
			yield(Record{}, err)
			return
		}

		for {
			row, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				if !yield(Record{}, errors.Wrap(err, "read row")) {
					return
				}
				continue
			}
			line, _ := cr.FieldPos(0)
			if isBlankRow(row) {
				continue
			}
			if !yield(cols.record(row, line)) {
				return
			}
		}
	}
}

// DecodeXLSX reads the first sheet of an XLSX workbook with the same header
// rules as DecodeCSV.
func DecodeXLSX(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, err := excelize.OpenReader(r)
		if err != nil {
			yield(Record{}, errors.Wrap(err, "open workbook"))
			return
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return
		}
		rows, err := f.Rows(sheets[0])
		if err != nil {
			yield(Record{}, errors.Wrapf(err, "read sheet %q", sheets[0]))
			return
		}
		defer rows.Close()

		var cols *columnIndex
		line := 0
		for rows.Next() {
			line++
			row, err := rows.Columns()
			if err != nil {
				if !yield(Record{}, errors.Wrapf(err, "read row %d", line)) {
					return
				}
				continue
			}
			if cols == nil {
				if isBlankRow(row) {
					continue
				}
				if cols, err = locateColumns(row); err != nil {
					yield(Record{}, err)
					return
				}
				continue
			}
			if isBlankRow(row) {
				continue
			}
			if !yield(cols.record(row, line)) {
				return
			}
		}
		if err := rows.Error(); err != nil {
			yield(Record{}, errors.Wrap(err, "iterate rows"))
		}
	}
}

// CollectRecords drains seq. Any row fault rejects the whole batch with
// ErrInvalidFormat; a sequence with no rows yields ErrEmptyBatch.
func CollectRecords(seq iter.Seq2[Record, error]) ([]Record, error) {
	var records []Record
	for rec, err := range seq {
		if err != nil {
			return nil, errors.WithHint(
				errors.Mark(errors.Wrap(err, ErrInvalidFormat.Error()), ErrInvalidFormat),
				"Every row needs both a name and an email")
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.WithHint(ErrEmptyBatch, "Upload a file with at least one data row")
	}
	return records, nil
}

// columnIndex holds the positions of the required columns.
type columnIndex struct {
	name, email int
}

func locateColumns(header []string) (*columnIndex, error) {
	cols := &columnIndex{name: -1, email: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			cols.name = i
		case "email":
			cols.email = i
		}
	}
	var missing []string
	if cols.name < 0 {
		missing = append(missing, "name")
	}
	if cols.email < 0 {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return nil, errors.Newf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c *columnIndex) record(row []string, line int) (Record, error) {
	rec := Record{
		Name:  cell(row, c.name),
		Email: cell(row, c.email),
	}
	switch {
	case rec.Name == "" && rec.Email == "":
		return Record{}, errors.Newf("line %d: missing name and email", line)
	case rec.Name == "":
		return Record{}, errors.Newf("line %d: missing name", line)
	case rec.Email == "":
		return Record{}, errors.Newf("line %d: missing email", line)
	}
	return rec, nil
}

// cell returns the trimmed value at i. Invalid UTF-8 (legacy encodings
// exported from spreadsheets) is replaced with U+FFFD so snapshots always
// encode as valid JSON text.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(strings.ToValidUTF8(row[i], "\uFFFD"))
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
