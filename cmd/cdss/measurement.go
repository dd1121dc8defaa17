package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaharoded/CDSS-Dev-Project/internal/records"
)

var (
	measLoinc     string
	measComponent string
	measTxTime    string
)

var insertCmd = &cobra.Command{
	Use:   "insert <patient-id> <valid-start> <value> <unit>",
	Short: "Insert a measurement",
	Long: `Insert a measurement for a patient. The concept is named by --loinc,
--component, or both. Dates accept ISO (2025-04-02 10:00) or day-first
(02/04/2025 10:00) form; the transaction time defaults to now.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := service.InsertMeasurement(cmd.Context(), records.InsertParams{
			PatientID:       args[0],
			ValidStartTime:  args[1],
			Value:           args[2],
			Unit:            args[3],
			LoincNum:        measLoinc,
			Component:       measComponent,
			TransactionTime: measTxTime,
		})
		if err != nil {
			return err
		}
		fmt.Println("Measurement inserted")
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <patient-id> <valid-start> <new-value>",
	Short: "Record a new version of a measurement",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := service.UpdateMeasurement(cmd.Context(), records.UpdateParams{
			PatientID:       args[0],
			ValidStartTime:  args[1],
			NewValue:        args[2],
			LoincNum:        measLoinc,
			Component:       measComponent,
			TransactionTime: measTxTime,
		})
		if err != nil {
			return err
		}
		fmt.Println("Measurement updated")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <patient-id> <valid-start>",
	Short: "Logically delete a measurement",
	Long: `Delete a measurement by stamping its transaction deletion time. A
date-only valid start deletes the latest measurement of the concept on
that day.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := service.DeleteMeasurement(cmd.Context(), records.DeleteParams{
			PatientID:      args[0],
			ValidStartTime: args[1],
			LoincNum:       measLoinc,
			Component:      measComponent,
			DeletionTime:   measTxTime,
		})
		if err != nil {
			return err
		}
		fmt.Println("Measurement deleted")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{insertCmd, updateCmd, deleteCmd} {
		cmd.Flags().StringVar(&measLoinc, "loinc", "", "LOINC code of the concept")
		cmd.Flags().StringVar(&measComponent, "component", "", "component name of the concept")
	}
	insertCmd.Flags().StringVar(&measTxTime, "transaction-time", "", "transaction time (defaults to now)")
	updateCmd.Flags().StringVar(&measTxTime, "transaction-time", "", "transaction time (defaults to now)")
	deleteCmd.Flags().StringVar(&measTxTime, "deletion-time", "", "deletion time (defaults to now)")
	rootCmd.AddCommand(insertCmd, updateCmd, deleteCmd)
}
