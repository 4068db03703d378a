package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmoreau/plugsched/config"
	"github.com/kmoreau/plugsched/core/pricing"
	"github.com/kmoreau/plugsched/core/strategy"
	"github.com/kmoreau/plugsched/infra/logger"
	"github.com/kmoreau/plugsched/infra/market"
)

var planDate string

// planCmd computes the windows each strategy would pick, without touching
// the schedule store or the devices.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the planned windows for every configured device",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planDate, "date", "", "day to plan, yyyy-mm-dd (default today)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	day := time.Now().In(loc)
	if planDate != "" {
		day, err = time.ParseInLocation("2006-01-02", planDate, loc)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", planDate, err)
		}
	}

	prices := pricing.NewSource(market.NewOmieClient(cfg.Market), cfg.Pricing.Backoff(), logger.New("pricing"))
	curve, err := prices.Prices(cmd.Context(), day)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	devices, err := cfg.DeviceConfigs()
	if err != nil {
		return err
	}
	fmt.Printf("Plan for %s (%d price points)\n", day.Format("2006-01-02"), len(curve))
	for _, dc := range devices {
		strat, err := strategy.ForName(dc.Strategy)
		if err != nil {
			return err
		}
		windows, err := strat.Compute(day, curve, dc)
		if err != nil {
			fmt.Printf("  %-20s %s: error: %v\n", dc.Name, dc.Address, err)
			continue
		}
		state := ""
		if !dc.Enabled {
			state = " (manual mode, not scheduled)"
		}
		fmt.Printf("  %-20s %s [%s]%s\n", dc.Name, dc.Address, dc.Strategy, state)
		if len(windows) == 0 {
			fmt.Println("      no window")
			continue
		}
		for _, w := range windows {
			fmt.Printf("      %s for %s\n", w.Start.In(loc).Format("15:04"), w.Duration)
		}
	}
	return nil
}
