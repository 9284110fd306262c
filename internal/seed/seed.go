// Package seed generates the demo customer and the support knowledge base
// loaded by "bankmesh init".
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/hupe1980/bankmesh/search"
	"github.com/hupe1980/bankmesh/storage"
	"github.com/hupe1980/bankmesh/tool/banking"
)

//go:embed support_docs.yaml
var supportDocs []byte

type merchantGroup struct {
	category  string
	merchants []string
}

var payments = []merchantGroup{
	{"Groceries", []string{"Whole Foods", "Trader Joe's", "Safeway", "Kroger", "Target"}},
	{"Restaurants", []string{"Starbucks", "Chipotle", "McDonald's", "Subway", "Pizza Hut"}},
	{"Shopping", []string{"Amazon", "Walmart", "Best Buy", "Target", "Costco"}},
	{"Entertainment", []string{"Netflix", "Spotify", "AMC Theaters", "PlayStation Store"}},
	{"Utilities", []string{"PG&E", "Comcast", "AT&T", "Water District", "Electric Co"}},
	{"Transportation", []string{"Shell", "Chevron", "Uber", "Lyft", "Metro Transit"}},
	{"Healthcare", []string{"CVS Pharmacy", "Walgreens", "Medical Center", "Dental Care"}},
}

var deposits = []merchantGroup{
	{"Salary", []string{"Direct Deposit - Payroll", "Monthly Salary"}},
	{"Refund", []string{"Tax Refund", "Purchase Refund"}},
	{"Transfer", []string{"External Transfer", "Wire Transfer"}},
}

var accountWords = []string{"Everyday", "Primary", "Rainy Day", "Travel", "Household", "Future"}

// Data is one generated customer.
type Data struct {
	User         storage.User
	Accounts     []banking.Account
	Transactions []banking.Transaction
}

// Options configures Generate.
type Options struct {
	Name  string
	Email string
	// Seed makes the generated data reproducible.
	Seed uint64
	Now  func() time.Time
}

// Generate builds a customer with a checking and a savings account, up to
// two more accounts and 20 to 50 transactions over the last 180 days.
func Generate(userID string, optFns ...func(o *Options)) Data {
	opts := Options{
		Name:  "Demo Customer",
		Email: "demo@bankmesh.local",
		Seed:  1,
		Now:   time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	now := opts.Now().UTC()

	daysAgo := func(lo, hi int) time.Time {
		return now.Add(-time.Duration(lo+rng.IntN(hi-lo+1)) * 24 * time.Hour)
	}
	amount := func(lo, hi float64) float64 {
		return round2(lo + rng.Float64()*(hi-lo))
	}
	pick := func(s []string) string { return s[rng.IntN(len(s))] }

	d := Data{User: storage.User{ID: userID, Name: opts.Name, Email: opts.Email}}

	newAccount := func(kind string, balance float64, created time.Time) banking.Account {
		return banking.Account{
			ID:            fmt.Sprintf("acc_%s_%d", userID, len(d.Accounts)+1),
			UserID:        userID,
			AccountNumber: banking.NewAccountNumber(),
			AccountType:   kind,
			Balance:       balance,
			Name:          pick(accountWords) + " " + strings.ToUpper(kind[:1]) + kind[1:],
			CreatedAt:     created,
		}
	}

	d.Accounts = append(d.Accounts, newAccount("checking", amount(500, 5000), daysAgo(365, 1095)))
	d.Accounts = append(d.Accounts, newAccount("savings", amount(1000, 20000), daysAgo(365, 1095)))

	for range rng.IntN(3) {
		kind := pick([]string{"checking", "savings", "credit"})
		var balance float64
		switch kind {
		case "credit":
			balance = amount(-2000, -100)
		case "savings":
			balance = amount(1000, 30000)
		default:
			balance = amount(100, 8000)
		}
		d.Accounts = append(d.Accounts, newAccount(kind, balance, daysAgo(30, 730)))
	}
	ensureUniqueNames(d.Accounts)

	var debitable, checking []banking.Account
	for _, a := range d.Accounts {
		if a.AccountType != "credit" {
			debitable = append(debitable, a)
		}
		if a.AccountType == "checking" {
			checking = append(checking, a)
		}
	}

	n := 20 + rng.IntN(31)
	for i := range n {
		id := fmt.Sprintf("txn_%s_%d", userID, i+1)
		switch r := rng.Float64(); {
		case r < 0.6:
			g := payments[rng.IntN(len(payments))]
			from := debitable[rng.IntN(len(debitable))]
			d.Transactions = append(d.Transactions, banking.Transaction{
				ID:            id,
				FromAccountID: from.ID,
				Amount:        amount(5, 500),
				Type:          "payment",
				Description:   "Payment to " + pick(g.merchants),
				Category:      g.category,
				Status:        "completed",
				CreatedAt:     daysAgo(0, 180),
			})
		case r < 0.8:
			g := deposits[rng.IntN(len(deposits))]
			to := checking[rng.IntN(len(checking))]
			d.Transactions = append(d.Transactions, banking.Transaction{
				ID:          id,
				ToAccountID: to.ID,
				Amount:      amount(100, 3000),
				Type:        "deposit",
				Description: pick(g.merchants),
				Category:    g.category,
				Status:      "completed",
				CreatedAt:   daysAgo(0, 180),
			})
		default:
			from := d.Accounts[rng.IntN(len(d.Accounts))]
			to := d.Accounts[rng.IntN(len(d.Accounts))]
			for to.ID == from.ID {
				to = d.Accounts[rng.IntN(len(d.Accounts))]
			}
			d.Transactions = append(d.Transactions, banking.Transaction{
				ID:            id,
				FromAccountID: from.ID,
				ToAccountID:   to.ID,
				Amount:        amount(50, 1000),
				Type:          "transfer",
				Description:   fmt.Sprintf("Transfer from %s to %s", from.Name, to.Name),
				Category:      "Transfer",
				Status:        "completed",
				CreatedAt:     daysAgo(0, 180),
			})
		}
	}

	sort.SliceStable(d.Transactions, func(i, j int) bool {
		return d.Transactions[i].CreatedAt.After(d.Transactions[j].CreatedAt)
	})

	return d
}

// Ledger is what Load writes to. *storage.Store implements it.
type Ledger interface {
	EnsureUser(ctx context.Context, u *storage.User) error
	CreateAccount(ctx context.Context, acc *banking.Account) error
	RecordTransaction(ctx context.Context, t *banking.Transaction) error
}

// Load writes d. Balances are stored as generated; transactions are
// statement history and do not move money again.
func Load(ctx context.Context, l Ledger, d Data) error {
	if err := l.EnsureUser(ctx, &d.User); err != nil {
		return err
	}
	for i := range d.Accounts {
		if err := l.CreateAccount(ctx, &d.Accounts[i]); err != nil {
			return fmt.Errorf("seed: account %s: %w", d.Accounts[i].Name, err)
		}
	}
	for i := range d.Transactions {
		if err := l.RecordTransaction(ctx, &d.Transactions[i]); err != nil {
			return fmt.Errorf("seed: transaction %s: %w", d.Transactions[i].ID, err)
		}
	}
	return nil
}

// SupportDocuments returns the built-in knowledge base.
func SupportDocuments() ([]search.Document, error) {
	return ParseDocuments(supportDocs)
}

// ParseDocuments decodes a YAML document list:
//
//	documents:
//	  - id: pin-reset
//	    title: Resetting your PIN
//	    content: ...
func ParseDocuments(data []byte) ([]search.Document, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("seed: parse documents: %w", err)
	}

	var docs []search.Document
	for i, item := range k.Slices("documents") {
		doc := search.Document{
			ID:      strings.TrimSpace(item.String("id")),
			Content: strings.TrimSpace(item.String("content")),
		}
		if doc.ID == "" || doc.Content == "" {
			return nil, fmt.Errorf("seed: document %d: id and content are required", i)
		}
		if title := item.String("title"); title != "" {
			doc.Metadata = map[string]string{"title": title}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func ensureUniqueNames(accounts []banking.Account) {
	seen := map[string]int{}
	for i := range accounts {
		seen[accounts[i].Name]++
		if c := seen[accounts[i].Name]; c > 1 {
			accounts[i].Name = fmt.Sprintf("%s %d", accounts[i].Name, c)
		}
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
