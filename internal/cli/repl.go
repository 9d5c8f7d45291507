package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/internal/version"
	"github.com/spf13/cobra"
)

const replHelp = `Commands:
  /file [path]   set the active file (no path clears it)
  /cards         list tool calls of the last run
  /expand <id>   show or hide the full input of a tool call
  /status        show the run status
  /cancel        cancel the active run
  /quit          exit
Ctrl+C cancels a running prompt; at the prompt it exits.`

// repl reads prompts line by line. Session chrome goes to stderr so stdout
// carries only the transcript.
func (a *app) repl(cmd *cobra.Command) error {
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	closed := make(chan struct{})
	var closeOnce sync.Once
	watcher, statuses := statusWatcher()
	ctrl := session.New(ws, a.runner,
		render.Multi(a.outputSink(cmd.OutOrStdout()), watcher),
		session.WithOnClose(func() { closeOnce.Do(func() { close(closed) }) }),
	)
	defer func() { _ = ctrl.Dispose(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	fmt.Fprintf(stderr, "claudian %s · vault %s\n", version.Version(), ws.VaultRoot)
	fmt.Fprintln(stderr, "Type a prompt, or /help for commands.")
	showPrompt(stderr)

	running, eof := false, false
	for {
		select {
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		case <-sigCh:
			// With no active run this closes the session.
			_ = ctrl.Cancel(ctx)
		case <-statuses:
			running = false
			if eof {
				return nil
			}
			showPrompt(stderr)
		case line, ok := <-lines:
			if !ok {
				if !running {
					return nil
				}
				eof, lines = true, nil
				continue
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				showPrompt(stderr)
			case strings.HasPrefix(line, "/"):
				quit, err := a.slash(ctx, ctrl, stderr, line)
				if err != nil {
					fmt.Fprintf(stderr, "%v\n", err)
				}
				if quit {
					return nil
				}
				if !running {
					showPrompt(stderr)
				}
			case running:
				fmt.Fprintln(stderr, "A run is in progress. Press Ctrl+C to cancel it.")
			default:
				if err := ctrl.Start(ctx, line); err != nil {
					fmt.Fprintf(stderr, "%v\n", err)
					showPrompt(stderr)
					continue
				}
				running = true
			}
		}
	}
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func showPrompt(w io.Writer) {
	fmt.Fprint(w, "› ")
}

// slash runs a REPL command. It reports whether the REPL should exit.
func (a *app) slash(ctx context.Context, ctrl *session.Controller, w io.Writer, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(w, replHelp)
		fmt.Fprintf(w, "Tool cards show the target of %s.\n", strings.Join(session.SummarizedTools(), ", "))
	case "/status":
		state := ctrl.State()
		summary := state.Summary()
		if summary == "" {
			summary = "Idle."
		}
		fmt.Fprintln(w, summary)
		if state.Workspace.CurrentFile != "" {
			fmt.Fprintf(w, "Active file: %s\n", state.Workspace.CurrentFile)
		}
	case "/cancel":
		err := ctrl.Cancel(ctx)
		if errors.Is(err, session.ErrNotRunning) {
			return true, nil
		}
		return false, err
	case "/file":
		file, err := vaultRelative(ctrl.State().Workspace.VaultRoot, arg)
		if err != nil {
			return false, err
		}
		if err := ctrl.SetActiveFile(ctx, file); err != nil {
			return false, err
		}
		if file == "" {
			fmt.Fprintln(w, "Active file cleared.")
		} else {
			fmt.Fprintf(w, "Active file: %s\n", file)
		}
	case "/cards":
		cards := ctrl.State().ToolCards()
		if len(cards) == 0 {
			fmt.Fprintln(w, "No tool calls.")
		}
		for _, card := range cards {
			state := "pending"
			if card.Resolved() {
				state = "done"
			}
			fmt.Fprintf(w, "  %s  %s(%s)  %s\n", card.ToolUse.ID, card.ToolUse.Name, card.Label(), state)
		}
	case "/expand":
		if arg == "" {
			return false, errors.New("usage: /expand <id>")
		}
		return false, ctrl.ToggleCard(ctx, arg)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}
