package main

import (
	"fmt"
	"strings"

	"github.com/haikalr/loopwatch/internal/engine"
	"github.com/haikalr/loopwatch/internal/state"

	"github.com/spf13/cobra"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Resolve pending approval gates",
}

func gateActionCmd(use, short string, action engine.GateAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id> [feedback...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newEngineClient()
			if err != nil {
				return err
			}
			feedback := strings.Join(args[1:], " ")
			if err := client.SubmitGateFeedback(cmd.Context(), args[0], action, feedback); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], action)
			return nil
		},
	}
}

var gateModeCmd = &cobra.Command{
	Use:   "mode <run-id> <auto|gate_on_fail|always_gate>",
	Short: "Change a run's approval mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		if err := client.UpdateApprovalMode(cmd.Context(), args[0], state.ApprovalMode(args[1])); err != nil {
			return err
		}
		fmt.Printf("%s approval mode: %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	gateCmd.AddCommand(
		gateActionCmd("approve", "Approve the pending gate", engine.GateApprove),
		gateActionCmd("reject", "Reject the pending gate", engine.GateReject),
		gateActionCmd("request-changes", "Request changes on the pending gate", engine.GateRequestChanges),
		gateModeCmd,
	)
	rootCmd.AddCommand(gateCmd)
}
