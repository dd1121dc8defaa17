package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shaharoded/CDSS-Dev-Project/internal/records"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
)

var (
	histSnapshot  string
	histLoinc     string
	histComponent string
	histStart     string
	histEnd       string
)

var historyCmd = &cobra.Command{
	Use:   "history <patient-id>",
	Short: "Show a patient's measurement history at a snapshot",
	Long: `Show the measurements visible at the snapshot (default now), optionally
filtered by LOINC code, component substring and valid-time window.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := service.Search(cmd.Context(), records.HistoryQuery{
			PatientID: args[0],
			Snapshot:  histSnapshot,
			LoincNum:  histLoinc,
			Component: histComponent,
			Start:     histStart,
			End:       histEnd,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No measurements")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOINC\tCOMPONENT\tVALUE\tUNIT\tVALID START\tRECORDED")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.LoincNum, r.Component, r.Value, r.Unit,
				types.FormatTime(r.ValidStartTime), types.FormatTime(r.TransactionInsertionTime))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&histSnapshot, "snapshot", "", "snapshot time (defaults to now)")
	historyCmd.Flags().StringVar(&histLoinc, "loinc", "", "filter by LOINC code")
	historyCmd.Flags().StringVar(&histComponent, "component", "", "filter by component substring")
	historyCmd.Flags().StringVar(&histStart, "from", "", "valid-time window start")
	historyCmd.Flags().StringVar(&histEnd, "to", "", "valid-time window end")
	rootCmd.AddCommand(historyCmd)
}
