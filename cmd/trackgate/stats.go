package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/trackgate/internal/store"
)

var (
	statsDetailLimit  int
	statsDetailSearch string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Statistics commands",
}

var statsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show summary statistics for all partners",
	RunE:  runStatsList,
}

var statsShowCmd = &cobra.Command{
	Use:   "show <partner_id>",
	Short: "Show recent detail rows for a partner",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatsShow,
}

var statsClearCmd = &cobra.Command{
	Use:   "clear <partner_id>",
	Short: "Delete all statistics for a partner",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatsClear,
}

func init() {
	statsShowCmd.Flags().IntVar(&statsDetailLimit, "limit", 50, "Maximum number of rows to show")
	statsShowCmd.Flags().StringVar(&statsDetailSearch, "search", "", "Filter rows (free text, key:value, or EMPTY)")

	statsCmd.AddCommand(statsListCmd, statsShowCmd, statsClearCmd)
	rootCmd.AddCommand(statsCmd)
}

func openStatsRepository() (*store.StatsRepository, *store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store.NewStatsRepository(db), db, nil
}

func runStatsList(cmd *cobra.Command, args []string) error {
	repo, db, err := openStatsRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, err := repo.SummaryAll()
	if err != nil {
		return fmt.Errorf("failed to load summaries: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No statistics recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTNER\tTOTAL\tSUCCESS\tERRORS")
	fmt.Fprintln(w, "-------\t-----\t-------\t------")

	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
			s.PartnerID, s.TotalRequests, s.SuccessfulRedirects, s.Errors)
	}

	w.Flush()
	return nil
}

func runStatsShow(cmd *cobra.Command, args []string) error {
	repo, db, err := openStatsRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	partnerID := args[0]

	summary, err := repo.Summary(partnerID)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}

	fmt.Printf("Partner: %s\n", partnerID)
	fmt.Printf("Total:   %d\n", summary.TotalRequests)
	fmt.Printf("Success: %d\n", summary.SuccessfulRedirects)
	fmt.Printf("Errors:  %d\n\n", summary.Errors)

	details, err := repo.ListDetail(partnerID, store.DetailFilter{
		Search: statsDetailSearch,
		Limit:  statsDetailLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to load detail rows: %w", err)
	}

	if len(details) == 0 {
		fmt.Println("No detail rows")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tCLICKID\tSUM\tMAPPED\tRESPONSE")
	fmt.Fprintln(w, "----\t------\t-------\t---\t------\t--------")

	for _, d := range details {
		response := d.Response
		if len(response) > 40 {
			response = response[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			d.Timestamp.Format("2006-01-02 15:04:05"),
			d.Status, d.ClickID, d.Sum, d.SumMapping, response)
	}

	w.Flush()
	fmt.Printf("\nShowing %d rows\n", len(details))

	return nil
}

func runStatsClear(cmd *cobra.Command, args []string) error {
	repo, db, err := openStatsRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	partnerID := args[0]
	if err := repo.ClearPartner(partnerID); err != nil {
		return fmt.Errorf("failed to clear statistics: %w", err)
	}

	fmt.Printf("Statistics cleared for partner %s\n", partnerID)
	return nil
}
