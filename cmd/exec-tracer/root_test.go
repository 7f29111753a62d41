package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/exec-tracer/internal/config"
)

func parse(t *testing.T, env *config.EnvDefaults, args ...string) (*config.Config, error) {
	t.Helper()
	var code int
	opts := &options{cfg: config.Default()}
	cmd := buildRootCmd(opts, &code)
	require.NoError(t, cmd.ParseFlags(args))
	if env == nil {
		env = &config.EnvDefaults{}
	}
	err := opts.resolve(cmd, cmd.Flags().Args(), env)
	return opts.cfg, err
}

func TestResolve_Command(t *testing.T) {
	cfg, err := parse(t, nil, "--", "bash", "-c", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "bash", cfg.Command)
	assert.Equal(t, []string{"-c", "echo hi"}, cfg.Args)
	assert.True(t, cfg.Fields.DiffEnv)
	assert.Equal(t, config.FormatText, cfg.Format)
}

func TestResolve_CommandFlagsAreNotOurs(t *testing.T) {
	cfg, err := parse(t, nil, "--show-cwd", "ls", "-v", "--format", "x")
	require.NoError(t, err)
	assert.True(t, cfg.Fields.ShowCwd)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, config.FormatText, cfg.Format)
	assert.Equal(t, []string{"-v", "--format", "x"}, cfg.Args)
}

func TestResolve_Toggles(t *testing.T) {
	cfg, err := parse(t, nil,
		"--diff-env=false", "--show-env", "--show-children", "--successful-only",
		"--decode-errno=false", "--format", "json", "-o", "-", "--kill-on-exit", "--queue-size", "16",
		"--", "true")
	require.NoError(t, err)
	assert.False(t, cfg.Fields.DiffEnv)
	assert.True(t, cfg.Fields.ShowEnv)
	assert.True(t, cfg.Fields.ShowChildren)
	assert.True(t, cfg.Fields.SuccessfulOnly)
	assert.False(t, cfg.Fields.DecodeErrno)
	assert.Equal(t, config.FormatJSON, cfg.Format)
	assert.Equal(t, "-", cfg.Output)
	assert.True(t, cfg.KillOnExit)
	assert.Equal(t, 16, cfg.QueueSize)
}

func TestResolve_Attributes(t *testing.T) {
	cfg, err := parse(t, nil,
		"-a", `job=env["CI_JOB_ID"]`,
		"--attribute", "cmd=cmdline",
		"--otel", "-t", `env["TRACE"]`, "--parent-id", `env["SPAN"]`,
		"--", "make")
	require.NoError(t, err)
	assert.Equal(t, []config.CustomAttribute{
		{Name: "job", Expression: `env["CI_JOB_ID"]`},
		{Name: "cmd", Expression: "cmdline"},
	}, cfg.CustomAttributes)
	assert.True(t, cfg.OTEL)
	assert.Equal(t, `env["TRACE"]`, cfg.TraceID)
	assert.Equal(t, `env["SPAN"]`, cfg.ParentID)
}

func TestResolve_Errors(t *testing.T) {
	_, err := parse(t, nil)
	assert.ErrorContains(t, err, "no command specified")

	_, err = parse(t, nil, "-a", "broken", "--", "true")
	assert.ErrorContains(t, err, "NAME=EXPR")

	_, err = parse(t, nil, "--pid", "1", "--", "true")
	assert.Error(t, err)

	_, err = parse(t, nil, "--format", "xml", "--", "true")
	assert.ErrorContains(t, err, "unknown format")
}

func TestResolve_Attach(t *testing.T) {
	cfg, err := parse(t, nil, "--pid", "4242")
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.PID)
	assert.Empty(t, cfg.Command)
}

func TestResolve_ProfileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("format: json\nfields:\n  show_cwd: true\n"), 0o600))

	cfg, err := parse(t, &config.EnvDefaults{ConfigPath: path}, "--format", "text", "--", "true")
	require.NoError(t, err)
	assert.Equal(t, config.FormatText, cfg.Format, "command line wins over the profile")
	assert.True(t, cfg.Fields.ShowCwd)

	_, err = parse(t, &config.EnvDefaults{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}, "--", "true")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var code int
	cmd := newRootCmd(&code)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "exec-tracer dev")
	assert.Equal(t, 0, code)
}
