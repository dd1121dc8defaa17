package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharoded/CDSS-Dev-Project/internal/knowledge"
	"github.com/shaharoded/CDSS-Dev-Project/internal/rules"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
	"github.com/shaharoded/CDSS-Dev-Project/internal/validation"
)

var snapshotFlag string

// parseSnapshot resolves the --snapshot flag, defaulting to now.
func parseSnapshot() (time.Time, error) {
	if snapshotFlag == "" {
		return time.Now(), nil
	}
	return validation.ParseEndBound(snapshotFlag)
}

var abstractCmd = &cobra.Command{
	Use:   "abstract",
	Short: "Rebuild the abstracted measurements at a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snapshot, err := parseSnapshot()
		if err != nil {
			return err
		}
		orch, _, _, err := buildPipeline()
		if err != nil {
			return err
		}
		recordsOut, err := orch.AbstractData(cmd.Context(), snapshot)
		if err != nil {
			return err
		}
		fmt.Printf("Abstraction rebuilt: %d intervals at %s\n", len(recordsOut), types.FormatTime(snapshot))
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze clinical state for every patient at a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snapshot, err := parseSnapshot()
		if err != nil {
			return err
		}
		orch, _, _, err := buildPipeline()
		if err != nil {
			return err
		}
		states, snap, err := orch.AnalyzeClinicalState(cmd.Context(), snapshot)
		if err != nil {
			return err
		}

		fmt.Printf("Clinical state at %s\n", snap)
		patients := make([]string, 0, len(states))
		for id := range states {
			patients = append(patients, id)
		}
		sort.Strings(patients)
		for _, id := range patients {
			fmt.Printf("\nPatient %s\n", id)
			state := states[id]
			keys := make([]string, 0, len(state))
			for k := range state {
				if k != "PatientId" {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s: %s\n", k, state[k])
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the knowledge directories and revalidate on change",
	Long: `Watch the TAK and rule directories, reloading and revalidating the
documents whenever they change. Useful while authoring knowledge; runs
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, med, repo, err := buildPipeline()
		if err != nil {
			return err
		}

		takWatcher, err := knowledge.NewWatcher(med, []string{cfg.TAKDir}, []string{".xml"}, logger)
		if err != nil {
			return err
		}
		ruleDirs := []string{cfg.RulesDir}
		for _, sub := range []string{rules.DeclarativeDir, rules.ProceduralDir} {
			ruleDirs = append(ruleDirs, filepath.Join(cfg.RulesDir, sub))
		}
		ruleWatcher, err := knowledge.NewWatcher(repo, ruleDirs, []string{".json"}, logger)
		if err != nil {
			return err
		}

		fmt.Println("Watching knowledge directories... (Press Ctrl+C to exit)")
		errc := make(chan error, 2)
		go func() { errc <- takWatcher.Run(cmd.Context()) }()
		go func() { errc <- ruleWatcher.Run(cmd.Context()) }()

		err = <-errc
		if err != nil && cmd.Context().Err() != nil {
			return nil // interrupted
		}
		return err
	},
}

func init() {
	abstractCmd.Flags().StringVar(&snapshotFlag, "snapshot", "", "snapshot time (defaults to now)")
	analyzeCmd.Flags().StringVar(&snapshotFlag, "snapshot", "", "snapshot time (defaults to now)")
	rootCmd.AddCommand(abstractCmd, analyzeCmd, watchCmd)
}
