package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/alpharank/backend/internal/backtest"
	"github.com/wonny/alpharank/backend/internal/store"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Cost-aware long/short simulation",
	Long: `Replays scored feature rows through the equal-weight long/short
simulator and persists the run.

Example:
  go run ./cmd/alpharank backtest run --from 2024-01-01 --to 2024-06-30`,
}

var backtestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest over a date range",
	RunE:  runBacktest,
}

var (
	backtestFrom string
	backtestTo   string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)
	backtestRunCmd.Flags().StringVar(&backtestFrom, "from", "", "start date (YYYY-MM-DD, required)")
	backtestRunCmd.Flags().StringVar(&backtestTo, "to", "", "end date (YYYY-MM-DD, default: today)")
	backtestRunCmd.MarkFlagRequired("from")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	from, err := parseDate(backtestFrom, time.Time{})
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDate(backtestTo, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	engine := backtest.NewEngine(log, cfg,
		store.NewFeatureRepository(db.Pool),
		store.NewBacktestRepository(db.Pool))

	run, err := engine.Run(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	m := run.Metrics
	fmt.Printf("=== Backtest %s ===\n", run.RunID)
	fmt.Printf("period:            %s .. %s (%d periods)\n",
		from.Format("2006-01-02"), to.Format("2006-01-02"), m.Periods)
	fmt.Printf("total return:      %+.2f%%\n", m.TotalReturn*100)
	fmt.Printf("annualized return: %+.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("sharpe:            %.2f\n", m.Sharpe)
	fmt.Printf("max drawdown:      %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("win rate:          %.2f%%\n", m.WinRate*100)
	fmt.Printf("trades:            %d\n", m.TradeCount)
	return nil
}
