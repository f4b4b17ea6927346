package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"nickel_agent/internal/skills/inventory"
	"nickel_agent/internal/skills/quality"
)

var ErrNoActionNeeded = errors.New("supplier is in good standing, no action needed")

const (
	SourceModel    = "model"
	SourceTemplate = "template"
)

type Draft struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Source  string `json:"source"`
}

func (d Draft) String() string {
	return "Subject: " + d.Subject + "\n\n" + d.Body
}

// Writer turns a prompt into prose. *Client implements it.
type Writer interface {
	Complete(ctx context.Context, instructions, prompt string) (string, error)
}

// Drafter composes procurement messages. Without a writer, or when the writer
// fails, it returns the built-in template.
type Drafter struct {
	writer Writer
	logger *zap.Logger
}

func New(writer Writer, logger *zap.Logger) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{writer: writer, logger: logger}
}

const instructions = `You write concise procurement e-mails for a nickel buyer.
Keep every number from the facts exactly as given.
Start with a single line "Subject: ..." followed by a blank line and the body.
Do not use markdown.`

// PurchaseRequest drafts the internal purchase request for a stock shortage.
func (d *Drafter) PurchaseRequest(ctx context.Context, rec inventory.Recommendation, requester string) (Draft, error) {
	if !rec.Needed {
		return Draft{}, fmt.Errorf("stock is above the reorder point, no purchase request needed")
	}
	if requester == "" {
		requester = "Procurement team"
	}
	qty := rec.SuggestedOrderQty()
	fallback := Draft{
		Kind:    "purchase_request",
		Subject: fmt.Sprintf("[Purchase Request] Nickel replenishment of %s kg", humanize.Comma(int64(qty))),
		Body: strings.Join([]string{
			"Hello,",
			"",
			"Nickel stock has fallen below the reorder point. Please approve the following purchase.",
			"",
			"- Current stock: " + tonnes(rec.CurrentInventory),
			"- Reorder point: " + tonnes(rec.ReorderPoint),
			"- Average daily usage: " + tonnes(rec.AvgDailyUsage),
			"- Shortage: " + tonnes(rec.ShortageQty),
			"- Suggested order quantity: " + humanize.Comma(int64(qty)) + " kg",
			"",
			"Regards,",
			requester,
		}, "\n"),
	}
	return d.compose(ctx, fallback, "Write a purchase request e-mail to the purchasing manager.\n\n"+fallback.Body)
}

// SRMAction drafts the escalation notice matching a supplier's risk stage.
func (d *Drafter) SRMAction(ctx context.Context, risk quality.Risk) (Draft, error) {
	lot := risk.LastLot
	if lot == "" {
		lot = "the latest lot"
	}
	var fallback Draft
	switch risk.Stage {
	case quality.StageCaution:
		fallback = Draft{
			Kind:    "scar",
			Subject: fmt.Sprintf("[SCAR] Corrective action request for %s", lot),
			Body: fmt.Sprintf(`Dear %s quality contact,

Our incoming inspection of %s did not match your certificate of analysis (%s).
Please arrange the return of the nonconforming material and send a 5-Why root cause report within 7 days.

Regards,
Quality Assurance`, risk.Supplier, lot, risk.LastRemark),
		}
	case quality.StageWarning:
		fallback = Draft{
			Kind:    "audit_notice",
			Subject: fmt.Sprintf("[Urgent] On-site quality audit notice for %s", risk.Supplier),
			Body: fmt.Sprintf(`Dear %s quality manager,

%d consecutive deliveries have failed our incoming inspection, most recently %s (%s).
We will conduct an on-site process audit within 2 weeks and apply the quality penalty defined in the supply agreement.
Please confirm available audit dates.

Regards,
Quality Assurance`, risk.Supplier, risk.ConsecutiveFailures, lot, risk.LastRemark),
		}
	case quality.StageCritical:
		fallback = Draft{
			Kind:    "business_hold",
			Subject: fmt.Sprintf("[Internal] Proposal: New Business Hold for %s", risk.Supplier),
			Body: fmt.Sprintf(`To the procurement executive,

%s has failed %d consecutive incoming inspections (latest: %s, %s).
I propose to stop new business with this supplier (Stop Deal / New Business Hold) until a verified corrective action plan is in place,
and to move open demand to qualified alternative sources.

Regards,
Quality Assurance`, risk.Supplier, risk.ConsecutiveFailures, lot, risk.LastRemark),
		}
	default:
		return Draft{}, ErrNoActionNeeded
	}
	prompt := fmt.Sprintf("Write the %s message for supplier stage %q (action: %s).\n\n%s",
		fallback.Kind, risk.Stage.Status(), risk.Stage.Action(), fallback.Body)
	return d.compose(ctx, fallback, prompt)
}

// InboundNotice is the warehouse message for an inspected lot.
func InboundNotice(insp quality.Inspection) Draft {
	if insp.Passed() {
		return Draft{
			Kind:    "inbound_approval",
			Subject: fmt.Sprintf("[Inbound Approved] %s from %s", insp.LotNo, insp.Supplier),
			Body: fmt.Sprintf("Lot %s (%s kg) passed incoming inspection on %s and has been booked into stock.",
				insp.LotNo, humanize.Comma(int64(insp.QtyKg)), insp.Date.Format("2006-01-02")),
			Source: SourceTemplate,
		}
	}
	return Draft{
		Kind:    "inbound_hold",
		Subject: fmt.Sprintf("[Inbound On Hold] %s from %s", insp.LotNo, insp.Supplier),
		Body: fmt.Sprintf("Lot %s (%s kg) failed incoming inspection on %s: %s. Keep it in quarantine pending supplier response.",
			insp.LotNo, humanize.Comma(int64(insp.QtyKg)), insp.Date.Format("2006-01-02"), insp.Remark),
		Source: SourceTemplate,
	}
}

func (d *Drafter) compose(ctx context.Context, fallback Draft, prompt string) (Draft, error) {
	fallback.Source = SourceTemplate
	if d.writer == nil {
		return fallback, nil
	}
	text, err := d.writer.Complete(ctx, instructions, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Draft{}, ctx.Err()
		}
		d.logger.Warn("model drafting failed, using template", zap.String("kind", fallback.Kind), zap.Error(err))
		return fallback, nil
	}
	out := Draft{Kind: fallback.Kind, Subject: fallback.Subject, Body: strings.TrimSpace(text), Source: SourceModel}
	if first, rest, ok := strings.Cut(out.Body, "\n"); ok && strings.HasPrefix(first, "Subject:") {
		out.Subject = strings.TrimSpace(strings.TrimPrefix(first, "Subject:"))
		out.Body = strings.TrimSpace(rest)
	}
	return out, nil
}

func tonnes(kg float64) string {
	return humanize.CommafWithDigits(kg/1000, 2) + " t"
}
