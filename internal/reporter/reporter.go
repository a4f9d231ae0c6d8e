// Package reporter renders billing data for people and spreadsheets.
//
// Every report is first built as a Report: a title, a few summary fields,
// one table and the raw data it came from. The configured format then
// decides how it is written:
//   - Console: styled table for terminal display
//   - JSON: the raw data, for programmatic consumption
//   - CSV: the table, for spreadsheet import
//   - XLSX: the table and summary as an Excel workbook
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = gen.Write(reporter.BatchReport(result), os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"recurring-billing-service/internal/ledger"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/recurring"
	"recurring-billing-service/internal/schedule"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Console formatting options
	UseColors     bool `json:"use_colors"`
	TableMaxWidth int  `json:"table_max_width"`
	MaxRows       int  `json:"max_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:        FormatConsole,
		UseColors:     true,
		TableMaxWidth: 120,
		MaxRows:       0,
		CSVDelimiter:  ',',
		CSVHeaders:    true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative, got %d", c.MaxRows)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// Field is a labelled summary value.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Report is a format-independent rendering of one result.
type Report struct {
	Title       string      `json:"title"`
	GeneratedAt time.Time   `json:"generated_at"`
	Summary     []Field     `json:"summary,omitempty"`
	Headers     []string    `json:"-"`
	Rows        [][]string  `json:"-"`
	Data        interface{} `json:"data"`
}

// ReportGenerator writes reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Write renders report to writer
func (rg *ReportGenerator) Write(report *Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		return rg.writeCSV(report, writer)
	case FormatXLSX:
		return rg.writeXLSX(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func (rg *ReportGenerator) writeConsole(report *Report, writer io.Writer) error {
	r := lipgloss.NewRenderer(writer)
	title := r.NewStyle().Bold(true).Foreground(lipgloss.Color("#cba6f7"))
	label := r.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
	header := r.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	if !rg.config.UseColors {
		title, label, header = r.NewStyle(), r.NewStyle(), r.NewStyle()
	}

	fmt.Fprintln(writer, title.Render(strings.ToUpper(report.Title)))
	fmt.Fprintf(writer, "%s %s\n\n", label.Render("Generated:"), report.GeneratedAt.Format(time.RFC3339))

	if len(report.Summary) > 0 {
		width := 0
		for _, f := range report.Summary {
			if w := lipgloss.Width(f.Label); w > width {
				width = w
			}
		}
		for _, f := range report.Summary {
			fmt.Fprintf(writer, "%s  %s\n", label.Render(pad(f.Label+":", width+1)), f.Value)
		}
		fmt.Fprintln(writer)
	}

	if len(report.Rows) == 0 {
		fmt.Fprintln(writer, "No rows.")
		return nil
	}

	widths := rg.columnWidths(report)
	cells := make([]string, len(report.Headers))
	for i, h := range report.Headers {
		cells[i] = header.Render(pad(h, widths[i]))
	}
	fmt.Fprintln(writer, strings.Join(cells, "  "))

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	fmt.Fprintln(writer, strings.Join(rule, "  "))

	for n, row := range report.Rows {
		if rg.config.MaxRows > 0 && n >= rg.config.MaxRows {
			fmt.Fprintf(writer, "... and %d more\n", len(report.Rows)-n)
			break
		}
		for i := range cells {
			value := ""
			if i < len(row) {
				value = truncate(row[i], widths[i])
			}
			cells[i] = pad(value, widths[i])
		}
		fmt.Fprintln(writer, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	return nil
}

// columnWidths fits every column to its widest cell, then shrinks the
// widest columns until the table fits TableMaxWidth.
func (rg *ReportGenerator) columnWidths(report *Report) []int {
	widths := make([]int, len(report.Headers))
	for i, h := range report.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range report.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := func() int {
		sum := 2 * (len(widths) - 1)
		for _, w := range widths {
			sum += w
		}
		return sum
	}
	for total() > rg.config.TableMaxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (rg *ReportGenerator) writeJSON(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (rg *ReportGenerator) writeCSV(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(report.Headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range report.Rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// SheetData and SheetSummary are the worksheet names of xlsx reports.
const (
	SheetData    = "Data"
	SheetSummary = "Summary"
)

func (rg *ReportGenerator) writeXLSX(report *Report, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetData); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	rows := append([][]string{report.Headers}, report.Rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetData, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SetRowStyle(SheetData, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summary := append([]Field{
		{Label: "Report", Value: report.Title},
		{Label: "Generated", Value: report.GeneratedAt.Format(time.RFC3339)},
	}, report.Summary...)
	for i, field := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &[]interface{}{field.Label, field.Value}); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	return f.Write(writer)
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

func datePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return date(*t)
}

// BatchReport lists every outcome of a batch: paid, failed, then skipped.
func BatchReport(result *reconciler.BatchResult) *Report {
	report := &Report{
		Title:       "Batch payments",
		GeneratedAt: time.Now(),
		Summary: []Field{
			{"Period", date(result.PeriodStart) + " to " + date(result.PeriodEnd)},
			{"Paid", fmt.Sprintf("%d (total %s)", len(result.Succeeded), money(result.TotalPaid))},
			{"Failed", fmt.Sprint(len(result.Failed))},
			{"Skipped", fmt.Sprint(len(result.Skipped))},
			{"Duration", result.Duration.Round(time.Millisecond).String()},
		},
		Headers: []string{"Status", "ID", "Description", "Amount", "Date", "Detail"},
		Data:    result,
	}

	for _, e := range result.Effects {
		id := e.RecurringItemID
		if id == "" {
			id = e.InstallmentLineID
		}
		report.Rows = append(report.Rows, []string{
			"paid", id, e.Entry.Description, money(e.Entry.Amount), datePtr(e.NewLastCharged),
			fmt.Sprintf("cycle %d", e.Cycle),
		})
	}
	for _, f := range result.Failed {
		report.Rows = append(report.Rows, []string{"failed", f.ItemID, f.Name, "", "", f.Message})
	}
	for _, s := range result.Skipped {
		report.Rows = append(report.Rows, []string{"skipped", s.ItemID, s.Name, "", "", string(s.Reason)})
	}
	return report
}

// DueReport lists classified items.
func DueReport(rows []recurring.DueRow, now time.Time) *Report {
	report := &Report{
		Title:       "Due items",
		GeneratedAt: time.Now(),
		Headers:     []string{"Status", "Name", "Amount", "Frequency", "Due", "Days", "ID"},
		Data:        rows,
	}

	counts := map[schedule.Status]int{}
	total := decimal.Zero
	for _, r := range rows {
		counts[r.Status]++
		if r.Status != schedule.StatusSettled {
			total = total.Add(r.Item.Amount)
		}
		report.Rows = append(report.Rows, []string{
			string(r.Status), r.Item.Name, money(r.Item.Amount), string(r.Item.Frequency),
			date(r.DueDate), fmt.Sprint(r.DaysUntil), r.Item.ID,
		})
	}
	report.Summary = []Field{
		{"As of", date(now)},
		{"Overdue", fmt.Sprint(counts[schedule.StatusOverdue])},
		{"Due today", fmt.Sprint(counts[schedule.StatusDueToday])},
		{"Open amount", money(total)},
	}
	return report
}

// UpcomingReport lists future charges.
func UpcomingReport(occurrences []recurring.Occurrence, from, to time.Time) *Report {
	report := &Report{
		Title:       "Upcoming charges",
		GeneratedAt: time.Now(),
		Headers:     []string{"Due", "Name", "Amount", "ID"},
		Data:        occurrences,
	}

	total := decimal.Zero
	for _, o := range occurrences {
		total = total.Add(o.Amount)
		report.Rows = append(report.Rows, []string{date(o.DueDate), o.Name, money(o.Amount), o.ItemID})
	}
	report.Summary = []Field{
		{"Period", date(from) + " to " + date(to)},
		{"Charges", fmt.Sprint(len(occurrences))},
		{"Total", money(total)},
	}
	return report
}

// ItemsReport lists recurring items.
func ItemsReport(items []*models.RecurringItem) *Report {
	report := &Report{
		Title:       "Recurring items",
		GeneratedAt: time.Now(),
		Headers:     []string{"ID", "Name", "Amount", "Frequency", "Anchor", "Last charged", "Cycles", "Category", "Active"},
		Data:        items,
	}
	for _, item := range items {
		report.Rows = append(report.Rows, []string{
			item.ID, strings.TrimSpace(item.Icon + " " + item.Name), money(item.Amount), string(item.Frequency),
			fmt.Sprint(item.AnchorDay), datePtr(item.LastCharged), fmt.Sprint(item.CyclesPaid),
			item.CategoryID, fmt.Sprint(item.Active),
		})
	}
	report.Summary = []Field{{"Items", fmt.Sprint(len(items))}}
	return report
}

// PurchasesReport lists installment purchases, one row per line.
func PurchasesReport(purchases []*models.InstallmentPurchase) *Report {
	report := &Report{
		Title:       "Installment purchases",
		GeneratedAt: time.Now(),
		Headers:     []string{"Purchase", "Line", "Amount", "Due", "Paid", "ID"},
		Data:        purchases,
	}

	remaining := decimal.Zero
	for _, p := range purchases {
		remaining = remaining.Add(p.RemainingAmount)
		for _, l := range p.Lines {
			report.Rows = append(report.Rows, []string{
				p.Name, fmt.Sprintf("%d/%d", l.Index, l.TotalCount), money(l.Amount), date(l.DueDate),
				datePtr(l.PaidAt), l.ID,
			})
		}
	}
	report.Summary = []Field{
		{"Purchases", fmt.Sprint(len(purchases))},
		{"Remaining", money(remaining)},
	}
	return report
}

// LedgerReport lists ledger entries with their totals.
func LedgerReport(entries []*models.LedgerEntry, balance decimal.Decimal) *Report {
	totals := ledger.Sum(entries)
	report := &Report{
		Title:       "Ledger",
		GeneratedAt: time.Now(),
		Summary: []Field{
			{"Entries", fmt.Sprint(totals.Entries)},
			{"Income", money(totals.Income)},
			{"Expense", money(totals.Expense)},
			{"Net", money(totals.Net)},
			{"Balance", money(balance)},
		},
		Headers: []string{"Date", "Kind", "Amount", "Description", "Category", "ID"},
		Data: struct {
			Entries []*models.LedgerEntry `json:"entries"`
			Totals  *ledger.Totals        `json:"totals"`
			Balance decimal.Decimal       `json:"balance"`
		}{entries, totals, balance},
	}
	for _, e := range entries {
		report.Rows = append(report.Rows, []string{
			date(e.OccurredOn), string(e.Kind), money(e.Signed()), e.Description, e.CategoryID, e.ID,
		})
	}
	return report
}

// PaymentReport describes a single recorded payment.
func PaymentReport(effect *models.Effect) *Report {
	id := effect.RecurringItemID
	if id == "" {
		id = effect.InstallmentLineID
	}
	report := &Report{
		Title:       "Payment recorded",
		GeneratedAt: time.Now(),
		Headers:     []string{"ID", "Description", "Amount", "Date", "Entry"},
		Data:        effect,
	}
	if effect.Entry != nil {
		report.Rows = [][]string{{
			id, effect.Entry.Description, money(effect.Entry.Amount), date(effect.Entry.OccurredOn), effect.Entry.ID,
		}}
	}
	if effect.RecurringItemID != "" {
		report.Summary = []Field{
			{"Cycle", fmt.Sprint(effect.Cycle)},
			{"Previous charge", datePtr(effect.PreviousLastCharged)},
			{"Charged through", datePtr(effect.NewLastCharged)},
		}
	}
	return report
}
