package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML file of defaults. Every field is optional; a value only
// applies when the matching flag was not given on the command line.
type Profile struct {
	Fields     ProfileFields     `yaml:"fields"`
	Output     *string           `yaml:"output"`
	Format     *string           `yaml:"format"`
	Color      *string           `yaml:"color"`
	QueueSize  *int              `yaml:"queue_size"`
	KillOnExit *bool             `yaml:"kill_on_exit"`
	OTEL       *bool             `yaml:"otel"`
	TraceID    *string           `yaml:"trace_id"`
	ParentID   *string           `yaml:"parent_id"`
	Attributes []CustomAttribute `yaml:"attributes"`
	AuditLog   *string           `yaml:"audit_log"`
	Log        ProfileLog        `yaml:"log"`
}

// ProfileFields mirrors event.Fields with optional values.
type ProfileFields struct {
	DiffEnv         *bool `yaml:"diff_env"`
	ShowEnv         *bool `yaml:"show_env"`
	ShowComm        *bool `yaml:"show_comm"`
	ShowArgv        *bool `yaml:"show_argv"`
	ShowFilename    *bool `yaml:"show_filename"`
	ShowCwd         *bool `yaml:"show_cwd"`
	ShowInterpreter *bool `yaml:"show_interpreter"`
	ShowChildren    *bool `yaml:"show_children"`
	SuccessfulOnly  *bool `yaml:"successful_only"`
	DecodeErrno     *bool `yaml:"decode_errno"`
}

// ProfileLog holds diagnostics settings.
type ProfileLog struct {
	Verbose *bool   `yaml:"verbose"`
	JSON    *bool   `yaml:"json"`
	File    *string `yaml:"file"`
}

// LoadProfile reads and parses a profile. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening profile: %w", err)
	}
	defer f.Close()

	var p Profile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return &p, nil
}

// ApplyTo copies profile values into cfg for every flag that changed does
// not report as set. Flag names are the long command-line names.
func (p *Profile) ApplyTo(cfg *Config, changed func(flag string) bool) {
	if changed == nil {
		changed = func(string) bool { return false }
	}
	setBool := func(flag string, dst *bool, src *bool) {
		if src != nil && !changed(flag) {
			*dst = *src
		}
	}
	setString := func(flag string, dst *string, src *string) {
		if src != nil && !changed(flag) {
			*dst = *src
		}
	}

	f := &cfg.Fields
	setBool("diff-env", &f.DiffEnv, p.Fields.DiffEnv)
	setBool("show-env", &f.ShowEnv, p.Fields.ShowEnv)
	setBool("show-comm", &f.ShowComm, p.Fields.ShowComm)
	setBool("show-argv", &f.ShowArgv, p.Fields.ShowArgv)
	setBool("show-filename", &f.ShowFilename, p.Fields.ShowFilename)
	setBool("show-cwd", &f.ShowCwd, p.Fields.ShowCwd)
	setBool("show-interpreter", &f.ShowInterpreter, p.Fields.ShowInterpreter)
	setBool("show-children", &f.ShowChildren, p.Fields.ShowChildren)
	setBool("successful-only", &f.SuccessfulOnly, p.Fields.SuccessfulOnly)
	setBool("decode-errno", &f.DecodeErrno, p.Fields.DecodeErrno)

	setString("output", &cfg.Output, p.Output)
	setString("format", &cfg.Format, p.Format)
	setString("color", &cfg.Color, p.Color)
	if p.QueueSize != nil && !changed("queue-size") {
		cfg.QueueSize = *p.QueueSize
	}
	setBool("kill-on-exit", &cfg.KillOnExit, p.KillOnExit)
	setBool("otel", &cfg.OTEL, p.OTEL)
	setString("trace-id", &cfg.TraceID, p.TraceID)
	setString("parent-id", &cfg.ParentID, p.ParentID)
	if len(p.Attributes) > 0 && !changed("attribute") {
		cfg.CustomAttributes = append([]CustomAttribute(nil), p.Attributes...)
	}
	setString("audit-log", &cfg.AuditLog, p.AuditLog)

	setBool("verbose", &cfg.Verbose, p.Log.Verbose)
	setBool("log-json", &cfg.LogJSON, p.Log.JSON)
	setString("log-file", &cfg.LogFile, p.Log.File)
}
