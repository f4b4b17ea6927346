package inventory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	ItemName   = "nickel"
	LedgerPath = "inventory/ledger.csv"
	dateLayout = "2006-01-02"

	// ledger-only reorder point: daily usage over lead time plus safety days
	fallbackLeadTimeDays    = 14
	fallbackSafetyStockDays = 7
	usageWindowDays         = 7
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

var ledgerHeader = []string{"date", "kind", "item", "qty", "note", "lot_no", "remaining"}

type EntryKind string

const (
	EntryInbound EntryKind = "inbound"
	EntryConsume EntryKind = "consume"
)

type Entry struct {
	Date      time.Time `json:"date"`
	Kind      EntryKind `json:"kind"`
	Item      string    `json:"item"`
	Qty       float64   `json:"qty"`
	Note      string    `json:"note"`
	LotNo     string    `json:"lot_no"`
	Remaining float64   `json:"remaining"`
}

type LotUsage struct {
	LotNo string  `json:"lot_no"`
	Qty   float64 `json:"qty"`
}

// Files is the data-root access the ledger needs.
type Files interface {
	ReadFile(ctx context.Context, actor, relPath string) ([]byte, error)
	WriteFile(ctx context.Context, actor, relPath string, content []byte) error
}

// Ledger is the lot-tracked stock ledger. Inbound rows carry the remaining
// quantity of their lot; consume rows deplete lots oldest first.
type Ledger struct {
	mu    sync.Mutex
	files Files
	actor string
	now   func() time.Time
}

func NewLedger(files Files) *Ledger {
	return &Ledger{files: files, actor: "inventory", now: time.Now}
}

// Entries returns every ledger row. A missing ledger is empty.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *Ledger) CurrentStock(ctx context.Context) (float64, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return currentStock(entries), nil
}

// Lots returns inbound lots with stock left, oldest first.
func (l *Ledger) Lots(ctx context.Context) ([]Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	idx := openLots(entries)
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, entries[i])
	}
	return out, nil
}

func (l *Ledger) Inbound(ctx context.Context, date time.Time, supplier string, qty float64, lotNo string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if strings.TrimSpace(lotNo) == "" {
		return fmt.Errorf("inbound: lot number is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, Entry{
		Date:      dateOnly(date),
		Kind:      EntryInbound,
		Item:      ItemName,
		Qty:       qty,
		Note:      supplier,
		LotNo:     lotNo,
		Remaining: qty,
	})
	return l.save(ctx, entries)
}

// Consume records a production input and depletes lots FIFO.
func (l *Ledger) Consume(ctx context.Context, date time.Time, qty float64) ([]LotUsage, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	stock := currentStock(entries)
	if stock < qty {
		return nil, fmt.Errorf("%w: on hand %s kg, requested %s kg", ErrInsufficientStock, formatKg(stock), formatKg(qty))
	}

	needed := qty
	var used []LotUsage
	for _, i := range openLots(entries) {
		if needed <= 0 {
			break
		}
		take := math.Min(entries[i].Remaining, needed)
		entries[i].Remaining -= take
		needed -= take
		used = append(used, LotUsage{LotNo: entries[i].LotNo, Qty: take})
	}

	parts := make([]string, 0, len(used))
	for _, u := range used {
		parts = append(parts, fmt.Sprintf("%s(%gkg)", u.LotNo, u.Qty))
	}
	entries = append(entries, Entry{
		Date:  dateOnly(date),
		Kind:  EntryConsume,
		Item:  ItemName,
		Qty:   -qty,
		Note:  "production input (lots: " + strings.Join(parts, ", ") + ")",
		LotNo: "-",
	})
	if err := l.save(ctx, entries); err != nil {
		return nil, err
	}
	return used, nil
}

// AverageDailyUsage is the consumption of the last seven days divided by seven.
func (l *Ledger) AverageDailyUsage(ctx context.Context) (float64, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}
	since := dateOnly(l.now()).AddDate(0, 0, -usageWindowDays)
	var total float64
	for _, e := range entries {
		if e.Kind != EntryConsume || e.Date.Before(since) {
			continue
		}
		total += -e.Qty
	}
	return total / usageWindowDays, nil
}

func (l *Ledger) load(ctx context.Context) ([]Entry, error) {
	raw, err := l.files.ReadFile(ctx, l.actor, LedgerPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inventory ledger: %w", err)
	}
	return parseLedger(raw)
}

func (l *Ledger) save(ctx context.Context, entries []Entry) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ledgerHeader); err != nil {
		return fmt.Errorf("encode ledger header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write([]string{
			e.Date.Format(dateLayout),
			string(e.Kind),
			e.Item,
			strconv.FormatFloat(e.Qty, 'f', -1, 64),
			e.Note,
			e.LotNo,
			strconv.FormatFloat(e.Remaining, 'f', -1, 64),
		}); err != nil {
			return fmt.Errorf("encode ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.files.WriteFile(ctx, l.actor, LedgerPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write inventory ledger: %w", err)
	}
	return nil
}

func parseLedger(raw []byte) ([]Entry, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"date", "kind", "qty"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("ledger header missing %q", name)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var entries []Entry
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger line %d: %w", line, err)
		}
		date, err := time.Parse(dateLayout, field(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: parse date: %w", line, err)
		}
		qty, err := strconv.ParseFloat(field(rec, "qty"), 64)
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: parse qty: %w", line, err)
		}
		e := Entry{
			Date:  date,
			Kind:  EntryKind(field(rec, "kind")),
			Item:  field(rec, "item"),
			Qty:   qty,
			Note:  field(rec, "note"),
			LotNo: field(rec, "lot_no"),
		}
		// ledgers written before lot tracking have no remaining column
		if v := field(rec, "remaining"); v != "" {
			if e.Remaining, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("ledger line %d: parse remaining: %w", line, err)
			}
		} else if e.Kind == EntryInbound {
			e.Remaining = e.Qty
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func currentStock(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Remaining
	}
	return total
}

func openLots(entries []Entry) []int {
	var idx []int
	for i, e := range entries {
		if e.Kind == EntryInbound && e.Remaining > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return entries[idx[a]].Date.Before(entries[idx[b]].Date)
	})
	return idx
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatKg(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}
