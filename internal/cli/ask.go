package cli

import (
	"fmt"
	"strings"

	"github.com/harun/kosmo/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	askSession string
	askQuiet   bool
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Long: `Ask a single question and print the answer.

The reasoning steps are printed while the agent works unless --quiet is set.
Pass --session to continue an earlier conversation; a new session is started
otherwise and its id is printed at the end.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id to continue")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "print only the answer")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "also print the classified errors of the query")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return agent.ErrEmptyQuery
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	var opts []agent.QueryOption
	if !askQuiet {
		opts = append(opts,
			agent.WithListener(newProgressPrinter(out).Listen),
			agent.WithWaitNotice(waitNotice(cmd.ErrOrStderr())),
		)
	}

	res, err := app.Agent.Query(cmd.Context(), question, askSession, opts...)
	if err != nil {
		return err
	}

	printResult(out, res)
	if askVerbose {
		printErrors(out, res.Errors)
	}
	if !askQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nSession: %s\n", res.SessionID)
	}

	if res.Aborted() {
		return fmt.Errorf("query aborted: %s", res.AbortReason)
	}
	return nil
}
