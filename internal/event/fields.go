package event

// Fields selects which parts of an event are populated.
type Fields struct {
	DiffEnv         bool `yaml:"diff_env"`
	ShowEnv         bool `yaml:"show_env"`
	ShowComm        bool `yaml:"show_comm"`
	ShowArgv        bool `yaml:"show_argv"`
	ShowFilename    bool `yaml:"show_filename"`
	ShowCwd         bool `yaml:"show_cwd"`
	ShowInterpreter bool `yaml:"show_interpreter"`
	ShowChildren    bool `yaml:"show_children"`
	SuccessfulOnly  bool `yaml:"successful_only"`
	DecodeErrno     bool `yaml:"decode_errno"`
}

// DefaultFields returns the toggles used when nothing is configured.
func DefaultFields() Fields {
	return Fields{
		DiffEnv:      true,
		ShowComm:     true,
		ShowArgv:     true,
		ShowFilename: true,
		DecodeErrno:  true,
	}
}

// Apply clears the fields of a concluded attempt that are not enabled.
// The envp is only needed to compute the diff, so it is dropped unless
// ShowEnv is set.
func (f Fields) Apply(a *ExecAttempt) {
	if !f.ShowFilename {
		a.Filename = ""
		a.FilenameRead = ReadStatus{}
	}
	if !f.ShowArgv {
		a.Argv = nil
		a.ArgvRead = ReadStatus{}
	}
	if !f.ShowEnv {
		a.Envp = nil
		a.EnvpRead = ReadStatus{}
	}
	if !f.DiffEnv {
		a.EnvDiff = nil
	}
	if !f.ShowComm {
		a.Comm = ""
	}
	if !f.ShowCwd {
		a.Cwd = ""
	}
	if !f.ShowInterpreter {
		a.Interpreters = nil
	}
	if !f.DecodeErrno {
		a.Outcome.ErrnoName = ""
	}
}
