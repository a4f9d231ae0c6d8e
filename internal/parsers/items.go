package parsers

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// ItemRecord is one accepted row of an item import
type ItemRecord struct {
	Line        int              `json:"line"`
	Name        string           `json:"name"`
	Amount      decimal.Decimal  `json:"amount"`
	Frequency   models.Frequency `json:"frequency"`
	AnchorDay   int              `json:"anchor_day,omitempty"`
	LastCharged *time.Time       `json:"last_charged,omitempty"`
	CategoryID  string           `json:"category_id,omitempty"`
	Icon        string           `json:"icon,omitempty"`
}

// ItemParser reads recurring items from CSV
type ItemParser struct {
	*BaseParser
	config *ItemImportConfig
	logger logger.Logger
}

// NewItemParser creates a parser for the given import layout
func NewItemParser(config *ItemImportConfig) (*ItemParser, error) {
	if config == nil {
		config = DefaultItemImportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "import", string(config.Delimiter), err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &ItemParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("item_parser"),
	}, nil
}

// ParseFile parses the CSV file at path
func (p *ItemParser) ParseFile(ctx context.Context, path string) ([]*ItemRecord, *ParseStats, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NotFoundError("file", path).
				WithSuggestion("check the path of the import file")
		}
		return nil, nil, errors.InternalError("open import file", err).
			WithContext("file_path", path)
	}
	defer file.Close()

	records, stats, err := p.Parse(ctx, file)
	if err != nil {
		if billingErr, ok := errors.AsBillingError(err); ok {
			return nil, stats, billingErr.WithContext("file_path", path)
		}
		return nil, stats, errors.InternalError("parse import file", err).WithContext("file_path", path)
	}
	return records, stats, nil
}

// Parse reads every row of r. Rows that fail validation are recorded in the
// returned stats and skipped; only structural problems (missing columns,
// bad encoding, cancellation) abort the whole import.
func (p *ItemParser) Parse(ctx context.Context, r io.Reader) ([]*ItemRecord, *ParseStats, error) {
	stats := NewParseStats()
	parseCtx := NewParseContext(ctx)

	reader, err := p.NewReader(r)
	if err != nil {
		return nil, stats, err
	}
	if err := p.ReadHeaders(reader, parseCtx, p.config.Positional()); err != nil {
		return nil, stats, err
	}

	columns := p.config.ResolveColumns(parseCtx.Headers)
	for _, required := range p.config.RequiredColumns() {
		if _, ok := columns[required]; !ok {
			return nil, stats, errors.ValidationError(errors.CodeMissingField, "column", required, nil).
				WithSuggestion(fmt.Sprintf("add a %q column; accepted headers: %s",
					required, strings.Join(p.config.ColumnAliases[required], ", "))).
				WithContext("headers", parseCtx.Headers)
		}
	}

	var records []*ItemRecord
	for {
		row, err := p.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		stats.TotalLines++
		if err != nil {
			var parseErr *ParseError
			if stderrors.As(err, &parseErr) {
				stats.AddError(parseErr)
				continue
			}
			return records, stats, err
		}

		stats.RecordsParsed++
		record, parseErr := p.parseRow(row, columns, parseCtx.LineNumber)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}
		stats.RecordsValid++
		records = append(records, record)
	}

	p.logger.WithFields(logger.Fields{
		"records": stats.RecordsValid,
		"errors":  stats.ErrorCount,
	}).Info("Parsed item import")
	return records, stats, nil
}

func (p *ItemParser) parseRow(row []string, columns map[string]int, line int) (*ItemRecord, *ParseError) {
	get := func(column string) string {
		i, ok := columns[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	fail := func(field, value, msg string, err error) *ParseError {
		return &ParseError{Line: line, Field: field, Value: value, Message: msg, Err: err}
	}

	record := &ItemRecord{
		Line:       line,
		Name:       get(ColumnName),
		CategoryID: get(ColumnCategory),
		Icon:       get(ColumnIcon),
	}
	if record.Name == "" {
		return nil, fail(ColumnName, "", "name is required", nil)
	}

	raw := get(ColumnAmount)
	amount, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return nil, fail(ColumnAmount, raw, "invalid amount", err)
	}
	if !amount.IsPositive() {
		return nil, fail(ColumnAmount, raw, "amount must be positive", nil)
	}
	record.Amount = amount.Round(2)

	raw = get(ColumnFrequency)
	if raw == "" {
		record.Frequency = p.config.DefaultFrequency
	} else if record.Frequency, err = models.ParseFrequency(raw); err != nil {
		return nil, fail(ColumnFrequency, raw, "unknown frequency", err)
	}
	if record.Frequency == "" {
		return nil, fail(ColumnFrequency, "", "frequency is required", nil)
	}

	if raw = get(ColumnAnchorDay); raw != "" {
		day, err := strconv.Atoi(raw)
		if err != nil || day < 1 || day > 31 {
			return nil, fail(ColumnAnchorDay, raw, "anchor day must be between 1 and 31", err)
		}
		record.AnchorDay = day
	}

	if raw = get(ColumnLastCharged); raw != "" {
		date, err := p.parseDate(raw)
		if err != nil {
			return nil, fail(ColumnLastCharged, raw, "invalid date", err)
		}
		record.LastCharged = &date
	}
	return record, nil
}

func (p *ItemParser) parseDate(s string) (time.Time, error) {
	for _, layout := range p.config.DateFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("expected one of %s", strings.Join(p.config.DateFormats, ", "))
}
