package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrzor/exec-tracer/internal/config"
)

// options collects flag values that need post-processing into a Config.
type options struct {
	cfg         *config.Config
	attributes  []string
	profilePath string
}

func newRootCmd(exitCode *int) *cobra.Command {
	return buildRootCmd(&options{cfg: config.Default()}, exitCode)
}

func buildRootCmd(opts *options, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec-tracer [flags] [--] <command> [args...]",
		Short: "Trace every program executed by a command and its descendants",
		Long: `exec-tracer runs a command under ptrace, or attaches to a running process
with --pid, and prints one line for every execve/execveat in the process tree:
the program, its arguments, how the environment changed and, for failures,
the errno.

The exit status is the traced command's, or 125 if tracing failed.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.ParseEnvDefaults()
			if err != nil {
				return err
			}
			if err := opts.resolve(cmd, args, env); err != nil {
				return err
			}
			code, err := run(cmd.Context(), opts.cfg, env)
			*exitCode = code
			return err
		},
	}

	f := cmd.Flags()
	// Everything after the command name belongs to the command.
	f.SetInterspersed(false)

	cfg := opts.cfg
	f.IntVarP(&cfg.PID, "pid", "p", 0, "attach to a running process instead of spawning a command")

	f.BoolVar(&cfg.Fields.DiffEnv, "diff-env", cfg.Fields.DiffEnv, "show how each exec changes the environment")
	f.BoolVar(&cfg.Fields.ShowEnv, "show-env", cfg.Fields.ShowEnv, "show the full environment of each exec")
	f.BoolVar(&cfg.Fields.ShowComm, "show-comm", cfg.Fields.ShowComm, "show the command name of the calling process")
	f.BoolVar(&cfg.Fields.ShowArgv, "show-argv", cfg.Fields.ShowArgv, "show the argument vector")
	f.BoolVar(&cfg.Fields.ShowFilename, "show-filename", cfg.Fields.ShowFilename, "show the path passed to exec")
	f.BoolVar(&cfg.Fields.ShowCwd, "show-cwd", cfg.Fields.ShowCwd, "show the working directory")
	f.BoolVar(&cfg.Fields.ShowInterpreter, "show-interpreter", cfg.Fields.ShowInterpreter, "resolve #! interpreters of executed files")
	f.BoolVar(&cfg.Fields.ShowChildren, "show-children", cfg.Fields.ShowChildren, "show process creation and exit")
	f.BoolVar(&cfg.Fields.SuccessfulOnly, "successful-only", cfg.Fields.SuccessfulOnly, "only report execs that succeeded")
	f.BoolVar(&cfg.Fields.DecodeErrno, "decode-errno", cfg.Fields.DecodeErrno, "print errno names for failed execs")

	f.StringVarP(&cfg.Output, "output", "o", cfg.Output, `write events to a file, or "-" for stdout (default stderr)`)
	f.StringVar(&cfg.Format, "format", cfg.Format, "output format: text, json or shell")
	f.StringVar(&cfg.Color, "color", cfg.Color, "colorize text output: auto, always or never")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "maximum number of events waiting to be written")
	f.BoolVar(&cfg.KillOnExit, "kill-on-exit", cfg.KillOnExit, "kill traced processes when the tracer exits instead of detaching")

	f.StringArrayVarP(&opts.attributes, "attribute", "a", nil, "custom attribute NAME=EXPR evaluated on each exec (repeatable)")
	f.BoolVar(&cfg.OTEL, "otel", cfg.OTEL, "export one OpenTelemetry span per process over OTLP/HTTP")
	f.StringVarP(&cfg.TraceID, "trace-id", "t", "", "expression giving the trace ID of the root span")
	f.StringVar(&cfg.ParentID, "parent-id", "", "expression giving the parent span ID of the root span")
	f.StringVar(&cfg.AuditLog, "audit-log", "", "also append every event to a rotated JSON log")

	f.StringVar(&opts.profilePath, "config", "", "YAML profile of defaults (default $EXEC_TRACER_CONFIG)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug diagnostics")
	f.BoolVar(&cfg.LogJSON, "log-json", false, "write diagnostics as JSON")
	f.StringVar(&cfg.LogFile, "log-file", "", "also write debug diagnostics to a rotated file")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// resolve layers the profile under the flags and validates the result.
func (o *options) resolve(cmd *cobra.Command, args []string, env *config.EnvDefaults) error {
	path := o.profilePath
	if path == "" {
		path = env.ConfigPath
	}
	if path != "" {
		profile, err := config.LoadProfile(path)
		if err != nil {
			return err
		}
		profile.ApplyTo(o.cfg, cmd.Flags().Changed)
	}

	if len(o.attributes) > 0 {
		attrs := make([]config.CustomAttribute, 0, len(o.attributes))
		for _, s := range o.attributes {
			attr, err := config.ParseCustomAttribute(s)
			if err != nil {
				return err
			}
			attrs = append(attrs, attr)
		}
		o.cfg.CustomAttributes = attrs
	}

	if len(args) > 0 {
		o.cfg.Command = args[0]
		o.cfg.Args = args[1:]
	}
	return o.cfg.Validate()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exec-tracer %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
