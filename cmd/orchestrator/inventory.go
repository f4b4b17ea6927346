package main

import (
	"fmt"
	"math"
	"path"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nickel_agent/internal/domain"
	"nickel_agent/internal/drafts"
	"nickel_agent/internal/skills/inventory"
)

var (
	invQty       float64
	invSupplier  string
	invLot       string
	invDate      string
	invRequester string
	invPlan      domain.Baseline
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Inspect and update the nickel inventory ledger",
}

var inventoryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stock on hand, open lots and the reorder recommendation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		lots, err := a.ledger.Lots(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := a.ledger.Recommend(cmd.Context(), domain.Baseline{})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Stock on hand: %s kg\n", humanize.Comma(int64(rec.CurrentInventory)))
		fmt.Fprintf(out, "Average daily usage: %s kg\n", humanize.CommafWithDigits(rec.AvgDailyUsage, 1))
		fmt.Fprintf(out, "Reorder point: %s kg\n", humanize.Comma(int64(rec.ReorderPoint)))
		fmt.Fprintln(out, rec.Details)
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LOT\tRECEIVED\tSUPPLIER\tREMAINING (kg)")
		for _, l := range lots {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.LotNo, l.Date.Format(time.DateOnly), l.Note, humanize.Comma(int64(l.Remaining)))
		}
		return w.Flush()
	},
}

var inventoryInboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Book a received lot into stock",
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := parseDateFlag(invDate)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ledger.Inbound(cmd.Context(), date, invSupplier, invQty, invLot); err != nil {
			return err
		}
		stock, err := a.ledger.CurrentStock(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Booked %s kg. Stock on hand: %s kg\n",
			humanize.Comma(int64(invQty)), humanize.Comma(int64(stock)))
		return nil
	},
}

var inventoryConsumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Record production input, depleting lots first-in first-out",
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := parseDateFlag(invDate)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		used, err := a.ledger.Consume(cmd.Context(), date, invQty)
		if err != nil {
			return err
		}
		for _, u := range used {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s kg\n", u.LotNo, humanize.Comma(int64(u.Qty)))
		}
		return nil
	},
}

var inventoryRequestEmailCmd = &cobra.Command{
	Use:   "request-email",
	Short: "Draft a purchase request when stock is below the reorder point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.ledger.Recommend(cmd.Context(), domain.Baseline{})
		if err != nil {
			return err
		}
		if !rec.Needed {
			fmt.Fprintln(cmd.OutOrStdout(), rec.Details)
			return nil
		}
		draft, err := a.drafter.PurchaseRequest(cmd.Context(), rec, invRequester)
		if err != nil {
			return err
		}
		return a.saveDraft(cmd, draft, "purchase_request")
	},
}

var inventoryPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Project stock forward and recommend an order date",
	Example: `  orchestrator inventory plan --current-stock 1000 --weekly-usage 700 --safety-stock 200 --lead-time 5 --order-qty 1`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := inventory.Plan(invPlan, time.Now())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Coverage: %s days\n", humanize.CommafWithDigits(plan.CoverageDays, 1))
		fmt.Fprintf(out, "Safety stock reached: %s\n", plan.SafetyStockDate.Format(time.DateOnly))
		fmt.Fprintf(out, "Stock runs out: %s\n", plan.ZeroStockDate.Format(time.DateOnly))
		fmt.Fprintln(out, plan.OrderMessage())
		fmt.Fprintln(out, plan.Stability.Message())
		if plan.Shortage > 0 {
			fmt.Fprintf(out, "Expected shortage at delivery (%s): %s kg\n",
				plan.IncomingDate.Format(time.DateOnly), humanize.Comma(int64(math.Round(plan.Shortage))))
		} else {
			fmt.Fprintf(out, "No shortage expected at delivery (%s)\n", plan.IncomingDate.Format(time.DateOnly))
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tSTOCK (kg)\t")
		for i, d := range plan.Simulation {
			if i%7 != 0 && !d.Incoming {
				continue
			}
			mark := ""
			if d.Incoming {
				mark = "delivery"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Date.Format(time.DateOnly), humanize.Comma(int64(math.Round(d.Stock))), mark)
		}
		return w.Flush()
	},
}

func init() {
	pf := inventoryPlanCmd.Flags()
	pf.Float64Var(&invPlan.CurrentStock, "current-stock", 0, "current stock in kg")
	pf.Float64Var(&invPlan.WeeklyUsage, "weekly-usage", 0, "weekly consumption in kg (required)")
	pf.Float64Var(&invPlan.SafetyStock, "safety-stock", 0, "safety stock in kg")
	pf.IntVar(&invPlan.LeadTimeDays, "lead-time", 0, "supplier lead time in days")
	pf.Float64Var(&invPlan.OrderQty, "order-qty", 0, "incoming order in tonnes")
	pf.IntVar(&invPlan.PlanningWeeks, "planning-weeks", inventory.DefaultPlanningWeeks, "simulation horizon in weeks")
	inventoryInboundCmd.Flags().Float64Var(&invQty, "qty", 0, "quantity in kg")
	inventoryInboundCmd.Flags().StringVar(&invSupplier, "supplier", "", "supplier name")
	inventoryInboundCmd.Flags().StringVar(&invLot, "lot", "", "lot number")
	inventoryInboundCmd.Flags().StringVar(&invDate, "date", "", "receipt date YYYY-MM-DD (default today)")
	inventoryConsumeCmd.Flags().Float64Var(&invQty, "qty", 0, "quantity in kg")
	inventoryConsumeCmd.Flags().StringVar(&invDate, "date", "", "consumption date YYYY-MM-DD (default today)")
	inventoryRequestEmailCmd.Flags().StringVar(&invRequester, "requester", "", "name signing the request")

	inventoryCmd.AddCommand(inventoryStatusCmd, inventoryPlanCmd, inventoryInboundCmd, inventoryConsumeCmd, inventoryRequestEmailCmd)
	rootCmd.AddCommand(inventoryCmd)
}

// saveDraft prints the draft and keeps a copy under drafts/ in the data root.
func (a *app) saveDraft(cmd *cobra.Command, draft drafts.Draft, name string) error {
	rel := path.Join("drafts", fmt.Sprintf("%s_%s.txt", name, time.Now().Format("20060102_150405")))
	if err := a.files.WriteFile(cmd.Context(), "drafts", rel, []byte(draft.String()+"\n")); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), draft.String())
	fmt.Fprintf(cmd.OutOrStdout(), "\n(saved to %s, source: %s)\n", rel, draft.Source)
	return nil
}

func parseDateFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Now(), nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return d, nil
}
