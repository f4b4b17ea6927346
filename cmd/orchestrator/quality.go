package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nickel_agent/internal/drafts"
	"nickel_agent/internal/skills/quality"
)

var (
	qSupplier string
	qLot      string
	qQty      float64
	qDate     string
	qCOA      string
	qActual   string
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Record incoming inspections and manage supplier quality risk",
}

var qualityInspectCmd = &cobra.Command{
	Use:     "inspect",
	Short:   "Assess a delivered lot against its certificate of analysis",
	Example: `  orchestrator quality inspect --supplier "Valin Group" --qty 25000 --coa ni=99.9,moisture=0.2,fe=0.01,s=0.001,p=0.001 --actual ni=99.92,moisture=0.18,fe=0.009,s=0.001,p=0.001`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := parseDateFlag(qDate)
		if err != nil {
			return err
		}
		coa, err := parseAnalysis(qCOA)
		if err != nil {
			return fmt.Errorf("parse --coa: %w", err)
		}
		actual, err := parseAnalysis(qActual)
		if err != nil {
			return fmt.Errorf("parse --actual: %w", err)
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.book.Inspect(cmd.Context(), quality.Inspection{
			Date: date, Supplier: qSupplier, LotNo: qLot, QtyKg: qQty, COA: coa, Actual: actual,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Verdict: %s (%s)\n\n", rec.Verdict, rec.Remark)
		fmt.Fprintln(cmd.OutOrStdout(), drafts.InboundNotice(rec).String())
		return nil
	},
}

var qualityRiskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Show a supplier's escalation stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		risk, err := a.book.SupplierRisk(cmd.Context(), qSupplier)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Supplier: %s\n", risk.Supplier)
		fmt.Fprintf(out, "Inspections: %d, consecutive failures: %d\n", risk.Inspections, risk.ConsecutiveFailures)
		fmt.Fprintf(out, "Stage %d (%s): %s\n", risk.Stage, risk.Stage.Status(), risk.Stage.Action())
		return nil
	},
}

var qualityActionEmailCmd = &cobra.Command{
	Use:   "action-email",
	Short: "Draft the escalation notice for a supplier's current stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		risk, err := a.book.SupplierRisk(cmd.Context(), qSupplier)
		if err != nil {
			return err
		}
		draft, err := a.drafter.SRMAction(cmd.Context(), risk)
		if errors.Is(err, drafts.ErrNoActionNeeded) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", risk.Supplier, err)
			return nil
		}
		if err != nil {
			return err
		}
		return a.saveDraft(cmd, draft, "srm_"+slug(risk.Supplier))
	},
}

func init() {
	f := qualityInspectCmd.Flags()
	f.StringVar(&qSupplier, "supplier", "", "supplier name")
	f.StringVar(&qLot, "lot", "", "lot number (generated when empty)")
	f.Float64Var(&qQty, "qty", 0, "delivered quantity in kg")
	f.StringVar(&qDate, "date", "", "inspection date YYYY-MM-DD (default today)")
	f.StringVar(&qCOA, "coa", "", "certificate values, e.g. ni=99.9,fe=0.01")
	f.StringVar(&qActual, "actual", "", "measured values, same form as --coa")

	for _, c := range []*cobra.Command{qualityRiskCmd, qualityActionEmailCmd} {
		c.Flags().StringVar(&qSupplier, "supplier", "", "supplier name")
		_ = c.MarkFlagRequired("supplier")
	}
	_ = qualityInspectCmd.MarkFlagRequired("supplier")

	qualityCmd.AddCommand(qualityInspectCmd, qualityRiskCmd, qualityActionEmailCmd)
	rootCmd.AddCommand(qualityCmd)
}

// parseAnalysis reads "ni=99.9,fe=0.01" into an Analysis.
func parseAnalysis(v string) (quality.Analysis, error) {
	out := quality.Analysis{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected element=value, got %q", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", key, err)
		}
		out[strings.ToLower(strings.TrimSpace(key))] = f
	}
	return out, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
