package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/query"
)

// rowWriter is one artifact encoder. writeRow is called once per streamed
// row; close finishes the file (writing headers-only output when no rows
// arrived).
type rowWriter interface {
	writeRow(row query.Row) error
	close() error
}

func newRowWriter(format query.ExportFormat, w io.Writer, columns []string) (rowWriter, error) {
	switch format {
	case query.FormatCSV:
		return newCSVWriter(w, columns)
	case query.FormatJSON:
		return newJSONWriter(w), nil
	case query.FormatExcel:
		return newExcelWriter(w, columns)
	case query.FormatParquet:
		return newParquetWriter(w, columns), nil
	default:
		return nil, errcode.New(errcode.FileExportError, "unsupported export format %q", format)
	}
}

// cellText renders a value for text-shaped formats.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

type csvWriter struct {
	w       *csv.Writer
	columns []string
}

func newCSVWriter(w io.Writer, columns []string) (*csvWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return nil, err
	}
	return &csvWriter{w: cw, columns: columns}, nil
}

func (c *csvWriter) writeRow(row query.Row) error {
	record := make([]string, len(c.columns))
	for i, col := range c.columns {
		record[i] = cellText(row[col])
	}
	return c.w.Write(record)
}

func (c *csvWriter) close() error {
	c.w.Flush()
	return c.w.Error()
}

// jsonWriter emits one pretty-printed JSON array, a row object per element,
// without ever holding the whole result set in memory.
type jsonWriter struct {
	w     io.Writer
	wrote bool
	err   error
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{w: w}
}

func (j *jsonWriter) writeRow(row query.Row) error {
	if j.err != nil {
		return j.err
	}
	prefix := "[\n  "
	if j.wrote {
		prefix = ",\n  "
	}
	payload, err := json.MarshalIndent(row, "  ", "  ")
	if err != nil {
		j.err = err
		return err
	}
	if _, err := io.WriteString(j.w, prefix); err != nil {
		j.err = err
		return err
	}
	if _, err := j.w.Write(payload); err != nil {
		j.err = err
		return err
	}
	j.wrote = true
	return nil
}

func (j *jsonWriter) close() error {
	if j.err != nil {
		return j.err
	}
	if !j.wrote {
		_, err := io.WriteString(j.w, "[]\n")
		return err
	}
	_, err := io.WriteString(j.w, "\n]\n")
	return err
}

const excelSheet = "Sheet1"

type excelWriter struct {
	file    *excelize.File
	out     io.Writer
	columns []string
	nextRow int
}

func newExcelWriter(w io.Writer, columns []string) (*excelWriter, error) {
	f := excelize.NewFile()
	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := f.SetSheetRow(excelSheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &excelWriter{file: f, out: w, columns: columns, nextRow: 2}, nil
}

func (e *excelWriter) writeRow(row query.Row) error {
	values := make([]any, len(e.columns))
	for i, col := range e.columns {
		switch v := row[col].(type) {
		case nil:
			values[i] = nil
		case time.Time:
			values[i] = v.UTC()
		case []byte:
			values[i] = string(v)
		default:
			values[i] = v
		}
	}
	cell, err := excelize.CoordinatesToCellName(1, e.nextRow)
	if err != nil {
		return err
	}
	if err := e.file.SetSheetRow(excelSheet, cell, &values); err != nil {
		return err
	}
	e.nextRow++
	return nil
}

func (e *excelWriter) close() error {
	defer e.file.Close()
	return e.file.Write(e.out)
}

// parquetWriter stores every column as an optional UTF8 field. Result sets
// here are schemaless maps, so values are rendered as text rather than
// guessing physical types from the first row.
type parquetWriter struct {
	w       *parquet.GenericWriter[map[string]any]
	columns []string
}

func newParquetWriter(w io.Writer, columns []string) *parquetWriter {
	group := parquet.Group{}
	for _, col := range columns {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("export", group)
	return &parquetWriter{
		w:       parquet.NewGenericWriter[map[string]any](w, schema),
		columns: columns,
	}
}

func (p *parquetWriter) writeRow(row query.Row) error {
	record := make(map[string]any, len(p.columns))
	for _, col := range p.columns {
		if v := row[col]; v != nil {
			record[col] = cellText(v)
		}
	}
	_, err := p.w.Write([]map[string]any{record})
	return err
}

func (p *parquetWriter) close() error {
	return p.w.Close()
}
