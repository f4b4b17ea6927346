package quality

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	BookPath   = "quality/inspections.csv"
	dateLayout = "2006-01-02"
)

var ErrInvalidInspection = errors.New("invalid inspection")

type Inspection struct {
	Date     time.Time `json:"date"`
	Supplier string    `json:"supplier"`
	LotNo    string    `json:"lot_no"`
	QtyKg    float64   `json:"qty_kg"`
	COA      Analysis  `json:"coa"`
	Actual   Analysis  `json:"actual"`
	Verdict  string    `json:"verdict"`
	Remark   string    `json:"remark"`
}

func (i Inspection) Passed() bool { return i.Verdict == VerdictPass }

type Files interface {
	ReadFile(ctx context.Context, actor, relPath string) ([]byte, error)
	WriteFile(ctx context.Context, actor, relPath string, content []byte) error
}

// Receiver books accepted lots into stock.
type Receiver interface {
	Inbound(ctx context.Context, date time.Time, supplier string, qty float64, lotNo string) error
}

// Book is the inspection ledger kept under the data root.
type Book struct {
	mu       sync.Mutex
	files    Files
	receiver Receiver
	actor    string
	now      func() time.Time
}

// NewBook returns a ledger; receiver may be nil, in which case accepted lots
// are recorded but not booked into stock.
func NewBook(files Files, receiver Receiver) *Book {
	return &Book{files: files, receiver: receiver, actor: "quality", now: time.Now}
}

func (b *Book) Inspections(ctx context.Context) ([]Inspection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

// Inspect assesses a delivered lot, appends it to the ledger and, when it
// passes, books it into stock.
func (b *Book) Inspect(ctx context.Context, in Inspection) (Inspection, error) {
	if strings.TrimSpace(in.Supplier) == "" {
		return Inspection{}, fmt.Errorf("%w: supplier is required", ErrInvalidInspection)
	}
	if in.QtyKg <= 0 {
		return Inspection{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInspection)
	}
	if in.Date.IsZero() {
		in.Date = b.now()
	}
	in.Date = dateOnly(in.Date)
	if in.LotNo == "" {
		in.LotNo = "LOT-" + strings.ToUpper(uuid.NewString()[:8])
	}
	a := Assess(in.COA, in.Actual)
	in.Verdict = a.Verdict()
	in.Remark = a.Remark()

	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.load(ctx)
	if err != nil {
		return Inspection{}, err
	}
	if err := b.save(ctx, append(records, in)); err != nil {
		return Inspection{}, err
	}
	if in.Passed() && b.receiver != nil {
		if err := b.receiver.Inbound(ctx, in.Date, in.Supplier, in.QtyKg, in.LotNo); err != nil {
			return in, fmt.Errorf("book accepted lot %s: %w", in.LotNo, err)
		}
	}
	return in, nil
}

// SupplierRisk grades a supplier by its run of consecutive failed
// inspections, newest first.
func (b *Book) SupplierRisk(ctx context.Context, supplier string) (Risk, error) {
	records, err := b.Inspections(ctx)
	if err != nil {
		return Risk{}, err
	}
	return EvaluateRisk(supplier, records), nil
}

func EvaluateRisk(supplier string, records []Inspection) Risk {
	var own []Inspection
	for i := len(records) - 1; i >= 0; i-- {
		if strings.EqualFold(strings.TrimSpace(records[i].Supplier), strings.TrimSpace(supplier)) {
			own = append(own, records[i])
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Date.After(own[j].Date) })

	var failures int
	for _, r := range own {
		if r.Passed() {
			break
		}
		failures++
	}
	risk := Risk{
		Supplier:            supplier,
		Inspections:         len(own),
		ConsecutiveFailures: failures,
		Stage:               StageFor(failures),
	}
	if len(own) > 0 {
		risk.LastLot = own[0].LotNo
		risk.LastRemark = own[0].Remark
	}
	return risk
}

func (b *Book) load(ctx context.Context) ([]Inspection, error) {
	raw, err := b.files.ReadFile(ctx, b.actor, BookPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inspection ledger: %w", err)
	}
	return parseBook(raw)
}

func bookHeader() []string {
	h := []string{"date", "supplier", "lot_no", "qty"}
	for _, el := range Elements {
		h = append(h, "coa_"+el)
	}
	for _, el := range Elements {
		h = append(h, "actual_"+el)
	}
	return append(h, "verdict", "remark")
}

func (b *Book) save(ctx context.Context, records []Inspection) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(bookHeader()); err != nil {
		return fmt.Errorf("encode inspection header: %w", err)
	}
	for _, r := range records {
		row := []string{r.Date.Format(dateLayout), r.Supplier, r.LotNo, formatFloat(r.QtyKg)}
		for _, el := range Elements {
			row = append(row, formatOptional(r.COA, el))
		}
		for _, el := range Elements {
			row = append(row, formatOptional(r.Actual, el))
		}
		row = append(row, r.Verdict, r.Remark)
		if err := w.Write(row); err != nil {
			return fmt.Errorf("encode inspection row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush inspection ledger: %w", err)
	}
	if err := b.files.WriteFile(ctx, b.actor, BookPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write inspection ledger: %w", err)
	}
	return nil
}

func parseBook(raw []byte) ([]Inspection, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inspection header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"date", "supplier", "verdict"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("inspection header missing %q", name)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	analysis := func(rec []string, prefix string) Analysis {
		out := Analysis{}
		for _, el := range Elements {
			if v, err := strconv.ParseFloat(field(rec, prefix+el), 64); err == nil {
				out[el] = v
			}
		}
		return out
	}

	var records []Inspection
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read inspection line %d: %w", line, err)
		}
		date, err := time.Parse(dateLayout, field(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("inspection line %d: parse date: %w", line, err)
		}
		qty, _ := strconv.ParseFloat(field(rec, "qty"), 64)
		records = append(records, Inspection{
			Date:     date,
			Supplier: field(rec, "supplier"),
			LotNo:    field(rec, "lot_no"),
			QtyKg:    qty,
			COA:      analysis(rec, "coa_"),
			Actual:   analysis(rec, "actual_"),
			Verdict:  strings.ToLower(field(rec, "verdict")),
			Remark:   field(rec, "remark"),
		})
	}
	return records, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(a Analysis, el string) string {
	v, ok := a[el]
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
