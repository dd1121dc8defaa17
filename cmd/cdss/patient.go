package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <patient-id> <first-name> <last-name> <sex>",
	Short: "Register a new patient",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.RegisterPatient(cmd.Context(), args[0], args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Printf("Registered patient %s\n", args[0])
		return nil
	},
}

var patientCmd = &cobra.Command{
	Use:   "patient <patient-id>",
	Short: "Show a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := service.GetPatient(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s %s  %s\n", p.PatientID, p.FirstName, p.LastName, p.Sex)
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find <first-name> <last-name>",
	Short: "Find patients by name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patients, err := service.FindPatientsByName(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		for _, p := range patients {
			fmt.Printf("%s  %s %s  %s\n", p.PatientID, p.FirstName, p.LastName, p.Sex)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd, patientCmd, findCmd)
}
