package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nickel_agent/internal/domain"
)

var (
	analyzeQuestion string
	analyzeBaseline domain.Baseline
	analyzeQuiet    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis and print the report as JSON",
	Example: `  orchestrator analyze --question "Should we buy nickel now?" --order-qty 20 --current-stock 1200
  orchestrator analyze -q "inventory level" --order-qty 10 --current-stock 50 --weekly-usage 700 --lead-time 7 --safety-stock 100`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeQuestion, "question", "q", "", "question to analyze")
	f.Float64Var(&analyzeBaseline.OrderQty, "order-qty", 0, "planned order quantity in tonnes (required)")
	f.Float64Var(&analyzeBaseline.CurrentStock, "current-stock", 0, "current stock in kg (required)")
	f.Float64Var(&analyzeBaseline.WeeklyUsage, "weekly-usage", 0, "weekly consumption in kg")
	f.Float64Var(&analyzeBaseline.SafetyStock, "safety-stock", 0, "safety stock in kg")
	f.IntVar(&analyzeBaseline.LeadTimeDays, "lead-time", 0, "supplier lead time in days")
	f.IntVar(&analyzeBaseline.PlanningWeeks, "planning-weeks", 0, "planning horizon in weeks")
	f.StringVar(&analyzeBaseline.PONumber, "po", "", "purchase order number to track")
	f.StringVar(&analyzeBaseline.Supplier, "supplier", "", "supplier to evaluate for quality risk")
	f.StringVar(&analyzeBaseline.OriginCountry, "origin", "", "country of origin for tariff lookup")
	f.BoolVar(&analyzeQuiet, "quiet", false, "do not stream progress events")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if err := validateBaseline(analyzeBaseline, cmd.Flags().Changed("current-stock")); err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	subID, events := a.bus.Subscribe("")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if analyzeQuiet {
				continue
			}
			line := fmt.Sprintf("[%s] %s", ev.At.Format("15:04:05"), ev.Kind)
			if len(ev.Agents) > 0 {
				ids := make([]string, len(ev.Agents))
				for i, id := range ev.Agents {
					ids[i] = string(id)
				}
				line += " " + strings.Join(ids, ",")
			}
			if ev.Message != "" {
				line += ": " + ev.Message
			}
			fmt.Fprintln(os.Stderr, line)
		}
	}()

	state, runErr := a.service.Run(cmd.Context(), analyzeQuestion, analyzeBaseline)
	a.bus.Unsubscribe(subID)
	<-done
	if runErr != nil {
		return runErr
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
