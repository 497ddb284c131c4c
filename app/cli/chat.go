package cli

import (
	"bufio"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"hearth/app/service/agent"
	"hearth/app/service/room"

	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat <room> [text]",
		Short: "Talk to a room's agent",
		Long:  "Runs one turn with the given text, or reads one message per line from stdin until EOF.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runChat,
	}

	cmd.Flags().StringP("name", "n", "", "Your name in the chat log (default: the room's user name)")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	di, r, err := openRoom(cmd, args[0])
	if err != nil {
		return err
	}
	defer di.Shutdown()

	agentSvc, err := do.Invoke[*agent.Service](di)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(args) > 1 {
		return chatTurn(cmd, agentSvc, r, name, strings.Join(args[1:], " "), out)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for ctx.Err() == nil {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if err = chatTurn(cmd, agentSvc, r, name, text, out); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func chatTurn(cmd *cobra.Command, agentSvc *agent.Service, r *room.Room, name, text string, out io.Writer) error {
	streamed := false
	reply, err := agentSvc.ReactUserMessage(cmd.Context(), r, name, text, func(chunk string) {
		streamed = true
		fmt.Fprint(out, chunk)
	})
	if err != nil {
		return err
	}

	if !streamed || reply.Reason != agent.EndAnswered {
		if streamed {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, reply.Text)
	}
	fmt.Fprintln(out)

	return nil
}
