// Package cli implements the claudian command line: an interactive prompt,
// one-shot runs, a websocket server and config helpers.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/claudian/claudian/internal/config"
	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/spf13/cobra"
)

// errRunFailed is returned when a one-shot run ends in error or is cancelled.
// The reason was already rendered.
var errRunFailed = errors.New("run did not complete")

type options struct {
	configPath     string
	vault          string
	file           string
	logLevel       string
	model          string
	permissionMode string
	json           bool
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	opts   options
	cfg    *config.Config
	runner session.Runner
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	return newRootCmd(session.ClaudeRunner)
}

func newRootCmd(runner session.Runner) *cobra.Command {
	a := &app{runner: runner}

	root := &cobra.Command{
		Use:   "claudian [prompt]",
		Short: "Run Claude Code against a vault and watch it work",
		Long: "claudian starts Claude Code in a vault directory, streams its reasoning, " +
			"tool calls and results as they happen, and lets you cancel mid-run.\n\n" +
			"With a prompt it runs once; without one it opens an interactive prompt.",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return a.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return a.runOnce(cmd, strings.Join(args, " "))
			}
			return a.repl(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "settings file (default $CLAUDIAN_HOME/config.yaml)")
	flags.StringVar(&a.opts.vault, "vault", "", "vault directory the agent works in (default: current directory)")
	flags.StringVar(&a.opts.file, "file", "", "active file, mentioned to the agent as context")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&a.opts.model, "model", "", "model override for this invocation")
	flags.StringVar(&a.opts.permissionMode, "permission-mode", "", "permission mode override: default, acceptEdits, plan, bypassPermissions")
	flags.BoolVar(&a.opts.json, "json", false, "write newline-delimited JSON frames instead of a transcript")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads settings and configures logging.
func (a *app) init() error {
	var (
		cfg *config.Config
		err error
	)
	if a.opts.configPath != "" {
		cfg, err = config.LoadFrom(a.opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if a.opts.model != "" {
		cfg.Settings.Model = a.opts.model
	}
	if a.opts.permissionMode != "" {
		cfg.Settings.PermissionMode = a.opts.permissionMode
		if err := cfg.Settings.Validate(); err != nil {
			return err
		}
	}

	levelName := cfg.Settings.LogLevel
	if a.opts.logLevel != "" {
		levelName = a.opts.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return err
	}
	if cfg.Debug && level > logger.LevelDebug {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)

	a.cfg = cfg
	logger.Debugf("Config: settings=%s claude=%s model=%q", cfg.SettingsPath, cfg.Settings.ClaudePath, cfg.Settings.Model)
	return nil
}

// workspace resolves the vault root and active file from flags.
func (a *app) workspace() (session.Workspace, error) {
	root := a.opts.vault
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return session.Workspace{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return session.Workspace{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return session.Workspace{}, fmt.Errorf("vault: %w", err)
	}
	if !info.IsDir() {
		return session.Workspace{}, fmt.Errorf("vault %s is not a directory", root)
	}

	file, err := vaultRelative(root, a.opts.file)
	if err != nil {
		return session.Workspace{}, err
	}
	return session.Workspace{VaultRoot: root, CurrentFile: file, Settings: a.cfg.Settings}, nil
}

// vaultRelative returns path relative to root. Relative inputs are taken as
// already vault-relative.
func vaultRelative(root, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file %s is outside the vault %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// outputSink returns the sink for w honoring --json.
func (a *app) outputSink(w io.Writer) session.Sink {
	if a.opts.json {
		return render.NewJSONSink(w)
	}
	return render.NewTerminal(w)
}

// statusWatcher returns a sink that reports every terminal status on the
// returned channel.
func statusWatcher() (session.Sink, <-chan session.Status) {
	ch := make(chan session.Status, 4)
	sink := render.NewFrameSink(func(f render.Frame) {
		if f.Type != render.FrameStatus || f.Status == session.StatusRunning {
			return
		}
		select {
		case ch <- f.Status:
		default:
		}
	})
	return sink, ch
}
