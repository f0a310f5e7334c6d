package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/harun/kosmo/pkg/agent"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Every question is answered within the
same session, so follow-up questions can refer to earlier answers.

Commands:
  /new        start a new session
  /clear      forget the current conversation
  /sessions   list stored sessions
  /help       show this help
  /quit       exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id to resume")
	rootCmd.AddCommand(chatCmd)
}

const chatHelp = `/new        start a new session
/clear      forget the current conversation
/sessions   list stored sessions
/help       show this help
/quit       exit`

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	return chatLoop(cmd, app.Agent, chatSession, cmd.InOrStdin(), cmd.OutOrStdout())
}

func chatLoop(cmd *cobra.Command, a *agent.Agent, sessionID string, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()

	if sessionID != "" {
		turns, err := a.ResumeSession(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Resumed session %s (%d turns)\n", sessionID, len(turns))
	} else {
		id, err := a.CreateSession(ctx)
		if err != nil {
			return err
		}
		sessionID = id
		fmt.Fprintf(out, "Session %s\n", sessionID)
	}
	fmt.Fprintln(out, "Type /help for commands.")

	printer := newProgressPrinter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/new":
			id, err := a.CreateSession(ctx)
			if err != nil {
				return err
			}
			sessionID = id
			fmt.Fprintf(out, "Session %s\n", sessionID)
			continue
		case "/clear":
			if err := a.ClearSession(ctx, sessionID); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		case "/sessions":
			for _, id := range a.ListSessions(ctx) {
				marker := " "
				if id == sessionID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, id)
			}
			continue
		}

		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "Unknown command %s. Type /help for commands.\n", line)
			continue
		}

		res, err := a.Query(ctx, line, sessionID,
			agent.WithListener(printer.Listen),
			agent.WithWaitNotice(waitNotice(out)),
		)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		printResult(out, res)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
