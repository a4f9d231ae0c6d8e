package parsers

import (
	"fmt"
	"strings"

	"recurring-billing-service/internal/models"
)

// Standard column names of an item import.
const (
	ColumnName        = "name"
	ColumnAmount      = "amount"
	ColumnFrequency   = "frequency"
	ColumnAnchorDay   = "anchor_day"
	ColumnLastCharged = "last_charged"
	ColumnCategory    = "category"
	ColumnIcon        = "icon"
)

// ItemImportConfig describes the layout of a recurring item CSV file
type ItemImportConfig struct {
	HasHeader        bool                `json:"has_header" mapstructure:"has_header"`
	Delimiter        rune                `json:"delimiter" mapstructure:"delimiter"`
	DateFormats      []string            `json:"date_formats" mapstructure:"date_formats"`
	DefaultFrequency models.Frequency    `json:"default_frequency" mapstructure:"default_frequency"`
	ColumnAliases    map[string][]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// DefaultItemImportConfig returns a configuration accepting English and
// Portuguese headers
func DefaultItemImportConfig() *ItemImportConfig {
	return &ItemImportConfig{
		HasHeader:        true,
		Delimiter:        ',',
		DateFormats:      []string{models.DateLayout, "02/01/2006"},
		DefaultFrequency: models.FrequencyMonthly,
		ColumnAliases: map[string][]string{
			ColumnName:        {"name", "nome", "description", "descricao", "descrição", "item"},
			ColumnAmount:      {"amount", "valor", "value", "price", "preco", "preço"},
			ColumnFrequency:   {"frequency", "frequencia", "frequência", "periodicidade", "cycle"},
			ColumnAnchorDay:   {"anchor_day", "day", "dia", "billing_day", "dia_cobranca", "dia_vencimento"},
			ColumnLastCharged: {"last_charged", "last_payment", "ultima_cobranca", "ultimo_pagamento"},
			ColumnCategory:    {"category", "categoria"},
			ColumnIcon:        {"icon", "icone", "ícone"},
		},
	}
}

// Validate checks the import configuration
func (c *ItemImportConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if len(c.DateFormats) == 0 {
		return fmt.Errorf("at least one date format is required")
	}
	if c.DefaultFrequency != "" && !c.DefaultFrequency.IsValid() {
		return fmt.Errorf("invalid default frequency: %s", c.DefaultFrequency)
	}
	for _, required := range []string{ColumnName, ColumnAmount} {
		if len(c.ColumnAliases[required]) == 0 {
			return fmt.Errorf("no header names configured for column %q", required)
		}
	}
	return nil
}

// RequiredColumns lists the columns every file must have
func (c *ItemImportConfig) RequiredColumns() []string {
	required := []string{ColumnName, ColumnAmount}
	if c.DefaultFrequency == "" {
		required = append(required, ColumnFrequency)
	}
	return required
}

// Positional returns the column order assumed for files without a header
func (c *ItemImportConfig) Positional() []string {
	return []string{ColumnName, ColumnAmount, ColumnFrequency, ColumnAnchorDay, ColumnLastCharged, ColumnCategory, ColumnIcon}
}

// ResolveColumns maps each standard column to its index in headers.
// Matching ignores case and surrounding spaces; the first header that
// matches any alias wins.
func (c *ItemImportConfig) ResolveColumns(headers []string) map[string]int {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	resolved := make(map[string]int)
	for column, aliases := range c.ColumnAliases {
		for _, alias := range aliases {
			if i, ok := index[strings.ToLower(alias)]; ok {
				resolved[column] = i
				break
			}
		}
	}
	return resolved
}
