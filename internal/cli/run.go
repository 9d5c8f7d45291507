package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt and exit",
		Long: "Run one prompt to completion. The prompt is read from stdin when none is " +
			"given or when it is \"-\". Ctrl+C cancels the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return a.runOnce(cmd, prompt)
		},
	}
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return string(data), nil
}

// runOnce runs prompt and waits for it to finish. Interrupts cancel the run.
func (a *app) runOnce(cmd *cobra.Command, prompt string) error {
	ws, err := a.workspace()
	if err != nil {
		return err
	}

	watcher, statuses := statusWatcher()
	ctrl := session.New(ws, a.runner, render.Multi(a.outputSink(cmd.OutOrStdout()), watcher))
	defer func() { _ = ctrl.Dispose(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx := cmd.Context()
	if err := ctrl.Start(ctx, prompt); err != nil {
		return err
	}

	for {
		select {
		case sig := <-sigCh:
			logger.Debugf("Received %s, cancelling run", sig)
			_ = ctrl.Cancel(ctx)
		case status := <-statuses:
			if status == session.StatusDone {
				return nil
			}
			return errRunFailed
		case <-ctx.Done():
			_ = ctrl.Cancel(context.Background())
			return ctx.Err()
		}
	}
}
