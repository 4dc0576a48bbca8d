package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit/internal/cli"
	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/domain"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review runs paused for human approval",
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the review questions of a paused run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		return cli.ShowReview(cmd.Context(), app, args[0], os.Stdout, tui.NewRenderer(os.Stdout), asJSON)
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Approve a paused run and continue it",
	Long:  `Approves the plan of a paused run. Questions without --answer take their recommended option.`,
	Example: `  conduit review approve 3f2a... --answer target=price --answer algorithms=recommended`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitReview(cmd, args[0], true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <run-id>",
	Short: "Reject a paused run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitReview(cmd, args[0], false)
	},
}

func submitReview(cmd *cobra.Command, runID string, approved bool) error {
	raw, _ := cmd.Flags().GetStringArray("answer")
	feedback, _ := cmd.Flags().GetString("feedback")

	approval := domain.Approval{Approved: approved, Feedback: feedback}
	if len(raw) > 0 {
		approval.Answers = make(map[string]string, len(raw))
		for _, kv := range raw {
			id, answer, ok := strings.Cut(kv, "=")
			if !ok || id == "" {
				return fmt.Errorf("answer %q must be written as question=option", kv)
			}
			approval.Answers[id] = answer
		}
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(app)

	rec, err := cli.SubmitReview(cmd.Context(), app, runID, approval)
	if err != nil {
		return err
	}
	out, err := tui.NewRenderer(os.Stdout)(tui.RunMarkdown(rec))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewShowCmd, reviewApproveCmd, reviewRejectCmd)

	reviewShowCmd.Flags().Bool("json", false, "Print the review session as JSON")
	reviewApproveCmd.Flags().StringArrayP("answer", "a", nil, "Answer a question as question=option (repeatable)")
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		c.Flags().String("feedback", "", "Free-text feedback kept with the review")
	}
}
