// Package parsers imports recurring items from CSV files.
//
// Real-world exports differ in delimiter, header language and number
// format, so the parser resolves columns through configurable aliases,
// accepts "R$ 1.234,56" style amounts, and never aborts on a bad row: every
// rejected line is reported with its line number while the valid ones are
// returned.
//
// Example usage:
//
//	parser, err := parsers.NewItemParser(parsers.DefaultItemImportConfig())
//	items, stats, err := parser.ParseFile(ctx, "subscriptions.csv", ownerID)
//	for _, e := range stats.Errors {
//		fmt.Println(e)
//	}
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// ParseError describes one rejected line
type ParseError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d", e.Line)
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s='%s')", e.Field, e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds the CSV reader settings
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          '#',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     4096,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	LineNumber int
	Headers    []string
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{ctx: ctx}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	return pc.ctx.Err() != nil
}

// NewReader returns a csv.Reader over r. When encoding validation is on
// the input is buffered and checked for valid UTF-8 first.
func (bp *BaseParser) NewReader(r io.Reader) (*csv.Reader, error) {
	if bp.config.ValidateEncoding {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.InternalError("read csv input", err)
		}
		if err := validateEncoding(data); err != nil {
			return nil, err
		}
		r = strings.NewReader(string(data))
	}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	return reader, nil
}

func validateEncoding(data []byte) error {
	line := 1
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			return errors.ValidationError(errors.CodeInvalidFormat, "encoding", fmt.Sprintf("line %d", line),
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the file in UTF-8 encoding and try again")
		}
		if r == '\n' {
			line++
		}
		data = data[size:]
	}
	return nil
}

// ReadHeaders reads the header row. Without a header row the given
// positional names are used instead.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, positional []string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), positional...)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("ensure the file contains a header row and data rows")
		}
		return errors.ValidationError(errors.CodeInvalidFormat, "headers", "", err).
			WithSuggestion("check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber, _ = reader.FieldPos(0)
	cleaned := make([]string, len(headers))
	for i, h := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	parseCtx.Headers = cleaned

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read CSV headers")
	return nil
}

// ReadRecord returns the next non-empty record. Malformed rows come back
// as a *ParseError so the caller can record them and continue.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError("csv parsing", fmt.Errorf("parsing cancelled: %w", parseCtx.ctx.Err()))
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		parseCtx.LineNumber, _ = reader.FieldPos(0)
		if err != nil {
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				parseCtx.LineNumber = csvErr.Line
			}
			return nil, &ParseError{Line: parseCtx.LineNumber, Message: "malformed row", Err: err}
		}

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, &ParseError{
						Line:    parseCtx.LineNumber,
						Field:   fieldName(parseCtx, i),
						Value:   field[:32] + "...",
						Message: fmt.Sprintf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
					}
				}
			}
		}
		return record, nil
	}
}

func fieldName(parseCtx *ParseContext, i int) string {
	if i < len(parseCtx.Headers) {
		return parseCtx.Headers[i]
	}
	return fmt.Sprintf("field_%d", i)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int           `json:"total_lines"`
	RecordsParsed int           `json:"records_parsed"`
	RecordsValid  int           `json:"records_valid"`
	ErrorCount    int           `json:"error_count"`
	Errors        []*ParseError `json:"errors,omitempty"`
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{Errors: make([]*ParseError, 0)}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns up to maxSamples error messages
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}
	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
