package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// testDBCmd represents the test-db command
var testDBCmd = &cobra.Command{
	Use:   "test-db",
	Short: "Check database connectivity",
	RunE:  runTestDB,
}

func init() {
	rootCmd.AddCommand(testDBCmd)
}

func runTestDB(cmd *cobra.Command, args []string) error {
	_, log, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("Database connection OK")
	fmt.Println("database: OK")
	return nil
}
