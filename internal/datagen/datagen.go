// Package datagen builds synthetic invoice and bank transaction files for
// demos, load tests and regression fixtures. The same Config and seed always
// produce the same files.
package datagen

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reconcileflow/internal/models"
	"reconcileflow/internal/parsers"
	"reconcileflow/pkg/errors"
)

// Config controls the shape of a generated dataset
type Config struct {
	Invoices int   `json:"invoices" yaml:"invoices"`
	Seed     int64 `json:"seed" yaml:"seed"`

	// MatchRatio is the share of invoices that get a paying transaction
	MatchRatio float64 `json:"match_ratio" yaml:"match_ratio"`

	// NoiseRatio adds this many unrelated transactions per invoice
	NoiseRatio float64 `json:"noise_ratio" yaml:"noise_ratio"`

	// MaxDateDrift bounds how many days a payment lands from the due date
	MaxDateDrift int `json:"max_date_drift" yaml:"max_date_drift"`

	StartDate time.Time `json:"start_date" yaml:"start_date"`
}

// DefaultConfig returns a small dataset with a realistic mix of matches,
// unpaid invoices and unrelated bank movements
func DefaultConfig() Config {
	return Config{
		Invoices:     100,
		Seed:         1,
		MatchRatio:   0.8,
		NoiseRatio:   0.3,
		MaxDateDrift: 3,
		StartDate:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Validate checks the generator configuration
func (c Config) Validate() error {
	switch {
	case c.Invoices <= 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "invoices", c.Invoices, nil).
			WithSuggestion("generate at least one invoice")
	case c.MatchRatio < 0 || c.MatchRatio > 1:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "match_ratio", c.MatchRatio, nil).
			WithSuggestion("the match ratio is between 0 and 1")
	case c.NoiseRatio < 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "noise_ratio", c.NoiseRatio, nil)
	case c.MaxDateDrift < 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_date_drift", c.MaxDateDrift, nil)
	}
	return nil
}

// Dataset holds generated rows keyed by the canonical column names
type Dataset struct {
	Invoices     [][]string
	Transactions [][]string

	// Expected maps each paid invoice id to the transaction that pays it
	Expected map[string]string
}

var counterparties = []string{
	"Acme Ltd", "Globex Corporation", "Initech", "Umbrella Corp", "Stark Industries",
	"Wayne Enterprises", "Hooli", "Vandelay Industries", "Soylent Co", "Tyrell Corp",
	"Cyberdyne Systems", "Wonka Industries", "Oscorp", "Massive Dynamic", "Aperture Science",
}

var noiseCounterparties = []string{"Bank fee", "Card settlement", "Payroll", "Tax authority", "Refund", "Unknown payer"}

// Generator produces datasets from a Config
type Generator struct {
	config Config
	rng    *rand.Rand
}

// New creates a generator. The config is validated here.
func New(config Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.StartDate.IsZero() {
		config.StartDate = DefaultConfig().StartDate
	}
	return &Generator{config: config, rng: rand.New(rand.NewSource(config.Seed))}, nil
}

// Generate builds the dataset
func (g *Generator) Generate() *Dataset {
	ds := &Dataset{Expected: make(map[string]string)}
	paid := int(float64(g.config.Invoices) * g.config.MatchRatio)
	txnSeq := 0
	nextTxnID := func() string {
		txnSeq++
		return fmt.Sprintf("T-%06d", txnSeq)
	}

	for i := 0; i < g.config.Invoices; i++ {
		number := 10000 + i
		invoiceID := fmt.Sprintf("INV-%06d", i+1)
		counterparty := counterparties[g.rng.Intn(len(counterparties))]
		// one euro-sized gap between invoices keeps every amount band distinct
		cents := int64(10000 + i*100 + g.rng.Intn(60))
		amount := decimal.New(cents, -2)
		issue := g.config.StartDate.AddDate(0, 0, g.rng.Intn(60))
		due := issue.AddDate(0, 0, 15+g.rng.Intn(30))

		ds.Invoices = append(ds.Invoices, []string{
			invoiceID,
			fmt.Sprint(number),
			issue.Format(models.DateLayout),
			due.Format(models.DateLayout),
			counterparty,
			amount.StringFixed(2),
			"USD",
			fmt.Sprintf("INV %d", number),
			"open",
		})

		if i >= paid {
			continue
		}

		txnID := nextTxnID()
		ds.Expected[invoiceID] = txnID
		paidAt := due.AddDate(0, 0, g.drift())
		ds.Transactions = append(ds.Transactions, []string{
			txnID,
			g.formatDate(paidAt),
			g.payerName(counterparty),
			g.formatAmount(amount.Add(decimal.New(int64(g.rng.Intn(3)), -2))),
			"USD",
			g.pick("IN", "CREDIT", "RECEIPT", ""),
			g.referenceVariant(number),
			g.pick("wire", "ach", "pix", ""),
		})
	}

	noise := int(float64(g.config.Invoices) * g.config.NoiseRatio)
	for i := 0; i < noise; i++ {
		// noise amounts sit between the invoice bands
		cents := int64(10000 + g.rng.Intn(g.config.Invoices)*100 + 70 + g.rng.Intn(20))
		date := g.config.StartDate.AddDate(0, 0, g.rng.Intn(120))
		direction := g.pick("OUT", "DEBIT", "IN")
		ds.Transactions = append(ds.Transactions, []string{
			nextTxnID(),
			date.Format(models.DateLayout),
			noiseCounterparties[g.rng.Intn(len(noiseCounterparties))],
			g.formatAmount(decimal.New(cents, -2)),
			"USD",
			direction,
			"",
			"",
		})
	}

	g.rng.Shuffle(len(ds.Transactions), func(i, j int) {
		ds.Transactions[i], ds.Transactions[j] = ds.Transactions[j], ds.Transactions[i]
	})
	return ds
}

func (g *Generator) drift() int {
	if g.config.MaxDateDrift == 0 {
		return 0
	}
	return g.rng.Intn(2*g.config.MaxDateDrift+1) - g.config.MaxDateDrift
}

func (g *Generator) pick(options ...string) string {
	return options[g.rng.Intn(len(options))]
}

// payerName returns the counterparty as banks tend to print it
func (g *Generator) payerName(name string) string {
	switch g.rng.Intn(4) {
	case 0:
		return strings.ToUpper(name)
	case 1:
		return strings.ToLower(name) + " "
	case 2:
		if base, ok := strings.CutSuffix(name, " Ltd"); ok {
			return base + " Limited"
		}
		if base, ok := strings.CutSuffix(name, " Corp"); ok {
			return base + " Corporation"
		}
		return name
	default:
		return name
	}
}

func (g *Generator) referenceVariant(number int) string {
	switch g.rng.Intn(5) {
	case 0:
		return fmt.Sprint(number)
	case 1:
		return fmt.Sprintf("INV-%d", number)
	case 2:
		return fmt.Sprintf("PIX transfer ref %d", number)
	case 3:
		return fmt.Sprintf("Payment invoice no %d", number)
	default:
		return fmt.Sprintf("INV %d", number)
	}
}

func (g *Generator) formatDate(t time.Time) string {
	if g.rng.Intn(4) == 0 {
		return t.Format("01/02/2006")
	}
	return t.Format(models.DateLayout)
}

// formatAmount mixes the decimal styles bank exports use
func (g *Generator) formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	switch g.rng.Intn(5) {
	case 0:
		return strings.Replace(s, ".", ",", 1)
	case 1:
		whole, frac, _ := strings.Cut(s, ".")
		if len(whole) > 3 {
			whole = whole[:len(whole)-3] + "." + whole[len(whole)-3:]
		}
		return whole + "," + frac
	default:
		return s
	}
}

// WriteCSV writes the dataset as invoices.csv and transactions.csv in dir
// and returns both paths
func (ds *Dataset) WriteCSV(dir string) (invoicesPath, transactionsPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.FileError(errors.CodeFilePermission, dir, err)
	}

	invoicesPath = filepath.Join(dir, "invoices.csv")
	if err := writeFile(invoicesPath, parsers.InvoiceColumns, ds.Invoices); err != nil {
		return "", "", err
	}
	transactionsPath = filepath.Join(dir, "transactions.csv")
	if err := writeFile(transactionsPath, parsers.TransactionColumns, ds.Transactions); err != nil {
		return "", "", err
	}
	return invoicesPath, transactionsPath, nil
}

func writeFile(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := WriteRows(file, header, rows); err != nil {
		_ = file.Close()
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// WriteRows writes a header and rows as CSV
func WriteRows(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}
