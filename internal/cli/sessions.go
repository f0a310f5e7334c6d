package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/harun/kosmo/pkg/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
	Long:  `List, inspect and clear the conversation sessions kept by Kosmo.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, store *session.Store, args []string) error {
		return listSessions(cmd, store, time.Now())
	}),
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store *session.Store, args []string) error {
		return showSession(cmd, store, args[0])
	}),
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Clear the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store *session.Store, args []string) error {
		if err := store.Clear(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared\n", args[0])
		return nil
	}),
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsClearCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withStore opens the session store only; no AI credentials are needed
func withStore(fn func(cmd *cobra.Command, store *session.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(cmd, app.Store, args)
	}
}

func listSessions(cmd *cobra.Command, store *session.Store, now time.Time) error {
	infos := store.ListInfo(cmd.Context())
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No sessions")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTURNS\tCREATED\tLAST ACTIVE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s ago\n",
			info.ID, info.TurnCount,
			info.CreatedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(now.Sub(info.LastActivity)))
	}
	return w.Flush()
}

func showSession(cmd *cobra.Command, store *session.Store, id string) error {
	sess, err := store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sess.Turns) == 0 {
		fmt.Fprintf(out, "Session %s has no turns\n", id)
		return nil
	}
	fmt.Fprintf(out, "Session %s, started %s\n\n", sess.ID, sess.CreatedAt.Local().Format("2006-01-02 15:04"))
	for i, turn := range sess.Turns {
		writeTurn(out, i+1, turn)
	}
	return nil
}

func writeTurn(out io.Writer, n int, turn session.Turn) {
	fmt.Fprintf(out, "#%d [%s] %s\n", n, turn.Status, turn.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Q: %s\n", turn.Query)
	fmt.Fprintf(out, "A: %s\n", turn.Answer)
	if turn.Truncated {
		fmt.Fprintln(out, "   (answer summarized after the step limit)")
	}
	if len(turn.Trace) > 0 {
		fmt.Fprintf(out, "   %d steps, took %s\n", len(turn.Trace), formatDuration(turn.CompletedAt.Sub(turn.StartedAt)))
	}
	fmt.Fprintln(out)
}
