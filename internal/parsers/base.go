// Package parsers reads invoice and bank transaction CSV exports into the
// models the matcher works on.
//
// Real exports rarely agree on headers, so each file kind has a Schema of
// canonical columns plus aliases. Headers are matched case-insensitively and
// missing columns simply read as empty. Only the id column is required.
//
// Rows are never rejected for a bad amount or date. The value is treated as
// absent, the row is kept, and the problem is recorded in ParseStats so that
// an invoice with a garbled amount still surfaces as an exception later.
//
// Example usage:
//
//	parser, err := parsers.NewInvoiceParser(nil, log)
//	invoices, stats, err := parser.ParseFile(ctx, "invoices.csv")
//	if stats.HasProblems() {
//		log.Warn(stats.String())
//	}
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// Row is one data row keyed by canonical column. Raw keeps the original
// headers and values for traceability.
type Row struct {
	Line   int
	Values map[string]string
	Raw    map[string]string
}

// Get returns the trimmed value of a canonical column
func (r *Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string `json:"file"`
	TotalLines    int    `json:"total_lines"`
	RecordsParsed int    `json:"records_parsed"`
	RecordsValid  int    `json:"records_valid"`
	Skipped       int    `json:"skipped"`
	Duplicates    int    `json:"duplicates"`
	// UnknownColumns are headers that map to no canonical column. They are
	// still kept in each row's Raw values.
	UnknownColumns []string `json:"unknown_columns,omitempty"`
	// MissingColumns are schema columns no header resolved to. Their values
	// read as empty.
	MissingColumns []string `json:"missing_columns,omitempty"`

	problems *errors.RowCollector
}

func newParseStats(file string, maxProblems int) *ParseStats {
	return &ParseStats{File: file, problems: errors.NewRowCollector(file, maxProblems)}
}

// AddProblem records a row level problem
func (ps *ParseStats) AddProblem(err *errors.ReconcilerError) {
	ps.problems.Add(err)
}

// ProblemCount returns how many problems were seen
func (ps *ParseStats) ProblemCount() int {
	return ps.problems.Count()
}

// HasProblems returns true if any row produced a problem
func (ps *ParseStats) HasProblems() bool {
	return ps.problems.Count() > 0
}

// Problems returns the recorded problems
func (ps *ParseStats) Problems() []*errors.ReconcilerError {
	return ps.problems.Problems()
}

// HasProblemCode reports whether any kept problem carries code
func (ps *ParseStats) HasProblemCode(code errors.ErrorCode) bool {
	return ps.problems.Summary().HasCode(code)
}

// SampleProblems returns up to max problem messages for logging
func (ps *ParseStats) SampleProblems(max int) []string {
	var samples []string
	for i, p := range ps.problems.Problems() {
		if max > 0 && i >= max {
			break
		}
		samples = append(samples, p.Error())
	}
	return samples
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("%s: %d lines, %d records (%d valid, %d skipped, %d duplicates), %d problems",
		ps.File, ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.Skipped, ps.Duplicates, ps.ProblemCount())
}

// BaseParser turns a CSV stream into schema rows
type BaseParser struct {
	config *ParserConfig
	schema *Schema
	logger logger.Logger
}

// NewBaseParser creates a BaseParser for the given schema
func NewBaseParser(config *ParserConfig, schema *Schema, log logger.Logger) (*BaseParser, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", config.Delimiter, err).
			WithSuggestion("check the CSV parser settings")
	}
	if err := schema.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "schema", schema.Name, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &BaseParser{
		config: config,
		schema: schema,
		logger: log.WithComponent("parser").WithField("schema", schema.Name),
	}, nil
}

// ReadFile opens path and reads all of its rows
func (bp *BaseParser) ReadFile(ctx context.Context, path string) ([]*Row, *ParseStats, error) {
	file, err := bp.openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return bp.ReadRows(ctx, file, path)
}

func (bp *BaseParser) openFile(path string) (*os.File, error) {
	bp.logger.WithField("file_path", path).Debug("Opening CSV file")

	file, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		case os.IsPermission(err):
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		default:
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
	}

	if bp.config.ValidateEncoding {
		if err := validateEncoding(file, path); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
	}
	return file, nil
}

// validateEncoding checks the first lines of the file are valid UTF-8
func validateEncoding(file *os.File, path string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for line := 1; scanner.Scan() && line <= 100; line++ {
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(errors.CodeInvalidFormat, path, line, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the file as UTF-8 and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeInvalidFormat, path, err)
	}
	return nil
}

// ReadRows reads every row from r. name identifies the source in problems.
// Duplicate ids are resolved according to the configured policy.
func (bp *BaseParser) ReadRows(ctx context.Context, r io.Reader, name string) ([]*Row, *ParseStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stats := newParseStats(name, bp.config.MaxProblems)

	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, stats, errors.FileError(errors.CodeFileEmpty, name, nil).
			WithSuggestion("ensure the file contains a header row")
	}
	if err != nil {
		return nil, stats, errors.ParseError(errors.CodeInvalidFormat, name, 1, "headers", "", err).
			WithSuggestion("check the file is a valid CSV")
	}
	stats.TotalLines = 1

	columns := make([]string, len(headers))
	hasID := false
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		columns[i] = bp.schema.Resolve(h)
		switch {
		case columns[i] == bp.schema.IDColumn:
			hasID = true
		case columns[i] == "" && headers[i] != "":
			stats.UnknownColumns = append(stats.UnknownColumns, headers[i])
		}
	}
	if !hasID {
		return nil, stats, errors.ParseError(errors.CodeMissingColumn, name, 1, bp.schema.IDColumn, "", nil).
			WithSuggestion(fmt.Sprintf("add a %q column; available headers: %s", bp.schema.IDColumn, strings.Join(headers, ", ")))
	}
	stats.MissingColumns = errors.FindMissingColumns(bp.schema.Columns, columns)
	if len(stats.MissingColumns) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file":    name,
			"columns": stats.MissingColumns,
		}).Warn("Optional columns missing, their values read as empty")
	}

	var rows []*Row
	position := make(map[string]int)

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeCancelled, "parsing cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := stats.TotalLines + 1
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.Line
			}
			stats.TotalLines = line
			stats.AddProblem(errors.ParseError(errors.CodeInvalidFormat, name, line, "record", "", err))
			continue
		}
		line, _ := reader.FieldPos(0)
		stats.TotalLines = line

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		stats.RecordsParsed++

		row, problem := bp.buildRow(record, headers, columns, line, name)
		if problem != nil {
			stats.AddProblem(problem)
			stats.Skipped++
			continue
		}

		id := row.Get(bp.schema.IDColumn)
		if id == "" {
			stats.AddProblem(errors.ParseError(errors.CodeMissingField, name, line, bp.schema.IDColumn, "", nil).
				WithSuggestion("rows without an id are skipped"))
			stats.Skipped++
			continue
		}
		row.Values[bp.schema.IDColumn] = id

		if idx, seen := position[id]; seen {
			stats.Duplicates++
			dup := errors.ValidationError(errors.CodeDuplicateID, bp.schema.IDColumn, id, nil).
				WithContext("file", name).
				WithContext("line", line)

			switch bp.config.Duplicates {
			case RejectDuplicates:
				return nil, stats, dup.WithSuggestion("ids must be unique within a file")
			case KeepLast:
				rows[idx] = row
			}
			stats.AddProblem(dup)
			continue
		}

		position[id] = len(rows)
		rows = append(rows, row)
	}

	stats.RecordsValid = len(rows)

	bp.logger.WithFields(logger.Fields{
		"file":           name,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"duplicates":     stats.Duplicates,
		"problems":       stats.ProblemCount(),
	}).Debug("Read CSV rows")

	return rows, stats, nil
}

func (bp *BaseParser) buildRow(record, headers, columns []string, line int, name string) (*Row, *errors.ReconcilerError) {
	row := &Row{
		Line:   line,
		Values: make(map[string]string, len(bp.schema.Columns)),
		Raw:    make(map[string]string, len(record)),
	}
	for _, col := range bp.schema.Columns {
		row.Values[col] = ""
	}

	for i, value := range record {
		if bp.config.MaxFieldSize > 0 && len(value) > bp.config.MaxFieldSize {
			return nil, errors.ParseError(errors.CodeInvalidData, name, line, fmt.Sprintf("field_%d", i), value[:50]+"...",
				fmt.Errorf("field exceeds %d bytes", bp.config.MaxFieldSize))
		}
		if i >= len(headers) {
			continue
		}
		if headers[i] != "" {
			row.Raw[headers[i]] = value
		}
		if col := columns[i]; col != "" && row.Values[col] == "" {
			row.Values[col] = value
		}
	}
	return row, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
