package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"adherence-guardian/internal/orchestrator"
)

var (
	runPatient string
	runContext string
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a single task for a patient and print the answer",
	Example: `  adherence-guardian run --patient 0b6c... "How is my adherence trend?"
  ADHERENCE_DATABASE_DRIVER=memory adherence-guardian run "What is stopping me from taking my pills?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		idStr := runPatient
		if idStr == "" {
			idStr = a.demoPatient
		}
		pid, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("invalid --patient %q: %w", idStr, err)
		}

		var initial map[string]any
		if runContext != "" {
			if err := json.Unmarshal([]byte(runContext), &initial); err != nil {
				return fmt.Errorf("invalid --context: %w", err)
			}
		}

		out, err := a.orch.Run(cmd.Context(), pid, args[0], initial)
		if err != nil {
			return err
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		fmt.Println(out.FinalAnswer)
		fmt.Printf("\nCapabilities: %v  Confidence: %.2f  Escalation: %t\n", out.CapabilitiesInvoked, out.Confidence, out.RequiresEscalation)
		for _, act := range orchestrator.ExtractActions(out) {
			fmt.Printf("- [%s] %s\n", act.Type, act.Description)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPatient, "patient", "p", "", "patient ID (defaults to the demo patient with the memory store)")
	runCmd.Flags().StringVar(&runContext, "context", "", "initial task context as a JSON object")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full outcome as JSON")
}
