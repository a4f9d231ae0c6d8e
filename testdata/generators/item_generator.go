package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// ItemGenerator generates recurring item import files
type ItemGenerator struct {
	Count      int
	Today      time.Time
	Portuguese bool
	ErrorRate  float64
	rng        *rand.Rand
}

// ItemTemplate is one generated row
type ItemTemplate struct {
	Name        string
	Amount      decimal.Decimal
	Frequency   string
	AnchorDay   int
	LastCharged *time.Time
}

var itemNames = []string{
	"Netflix", "Spotify", "Disney+", "HBO Max", "Amazon Prime", "YouTube Premium", "iCloud",
	"Google One", "Gym", "Rent", "Internet", "Phone plan", "Car insurance", "Health plan",
	"Newspaper", "Music lessons", "Cloud backup", "Domain renewal", "Password manager",
}

var frequencies = map[bool][]string{
	false: {"daily", "weekly", "monthly", "monthly", "monthly", "semiannually", "annually"},
	true:  {"diario", "semanal", "mensal", "mensal", "mensal", "semestral", "anual"},
}

func main() {
	var (
		output     = flag.String("output", "generated_items.csv", "Output CSV file path")
		count      = flag.Int("count", 50, "Number of items to generate")
		today      = flag.String("today", time.Now().UTC().Format("2006-01-02"), "Reference date for last charges (YYYY-MM-DD)")
		portuguese = flag.Bool("portuguese", false, "Use Portuguese headers, frequencies and amounts")
		errorRate  = flag.Float64("error-rate", 0, "Fraction of rows made invalid on purpose (0.0-1.0)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	ref, err := time.Parse("2006-01-02", *today)
	if err != nil {
		log.Fatalf("Invalid reference date: %v", err)
	}
	if *errorRate < 0 || *errorRate > 1 {
		log.Fatalf("error-rate must be between 0.0 and 1.0")
	}

	generator := &ItemGenerator{
		Count:      *count,
		Today:      ref,
		Portuguese: *portuguese,
		ErrorRate:  *errorRate,
		rng:        rand.New(rand.NewSource(*seed)),
	}

	items := generator.Generate()
	if err := generator.WriteToCSV(*output, items); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}

	fmt.Printf("Generated %d items in %s\n", len(items), *output)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate creates items charged at most one cycle before Today
func (g *ItemGenerator) Generate() []ItemTemplate {
	items := make([]ItemTemplate, g.Count)
	freqs := frequencies[g.Portuguese]

	for i := range items {
		name := itemNames[g.rng.Intn(len(itemNames))]
		if i >= len(itemNames) {
			name = fmt.Sprintf("%s %d", name, i+1)
		}

		item := ItemTemplate{
			Name:      name,
			Amount:    decimal.NewFromInt(int64(500 + g.rng.Intn(50000))).Shift(-2),
			Frequency: freqs[g.rng.Intn(len(freqs))],
			AnchorDay: 1 + g.rng.Intn(28),
		}
		if g.rng.Float64() < 0.7 {
			last := g.Today.AddDate(0, 0, -g.rng.Intn(30))
			item.LastCharged = &last
		}
		if g.rng.Float64() < g.ErrorRate {
			g.corrupt(&item)
		}
		items[i] = item
	}
	return items
}

// corrupt breaks one field so the importer must reject the row
func (g *ItemGenerator) corrupt(item *ItemTemplate) {
	switch g.rng.Intn(3) {
	case 0:
		item.Amount = decimal.Zero
	case 1:
		item.Frequency = "hourly"
	default:
		item.AnchorDay = 32
	}
}

// WriteToCSV writes items in the layout the importer reads
func (g *ItemGenerator) WriteToCSV(filename string, items []ItemTemplate) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"name", "amount", "frequency", "anchor_day", "last_charged"}
	dateLayout := "2006-01-02"
	if g.Portuguese {
		writer.Comma = ';'
		header = []string{"nome", "valor", "frequencia", "dia", "ultima_cobranca"}
		dateLayout = "02/01/2006"
	}

	if err := writer.Write(header); err != nil {
		return err
	}
	for _, item := range items {
		amount := item.Amount.StringFixed(2)
		if g.Portuguese {
			amount = "R$ " + portugueseAmount(item.Amount)
		}
		last := ""
		if item.LastCharged != nil {
			last = item.LastCharged.Format(dateLayout)
		}
		record := []string{item.Name, amount, item.Frequency, fmt.Sprint(item.AnchorDay), last}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// portugueseAmount formats 1234.5 as 1.234,50
func portugueseAmount(d decimal.Decimal) string {
	whole := d.Truncate(0).IntPart()
	cents := d.Sub(decimal.NewFromInt(whole)).Shift(2).IntPart()

	digits := fmt.Sprint(whole)
	var grouped []byte
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, digits[i])
	}
	return fmt.Sprintf("%s,%02d", grouped, cents)
}
