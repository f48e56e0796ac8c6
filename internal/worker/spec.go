package worker

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Defaults reproduce the deployment this tool grew up around: a Python
// crawler relaunched from the supervisor's own directory with its output
// appended to weibo.log.
const (
	DefaultName        = "weibo-crawler"
	DefaultInterpreter = "python"
	DefaultScript      = "weibo.py"
	DefaultLogFile     = "weibo.log"
	DefaultGrace       = time.Second
)

// Spec describes one supervised worker process.
type Spec struct {
	Name        string        `json:"name" mapstructure:"name"`
	Interpreter string        `json:"interpreter" mapstructure:"interpreter"` // executable, may carry flags: "python3 -u"
	Script      string        `json:"script" mapstructure:"script"`           // script path handed to the interpreter
	Args        []string      `json:"args,omitempty" mapstructure:"args"`     // extra arguments after the script
	WorkDir     string        `json:"work_dir,omitempty" mapstructure:"work_dir"` // empty: the supervisor's pinned directory
	Env         []string      `json:"env,omitempty" mapstructure:"env"`       // extra KEY=VALUE entries for the worker
	Match       string        `json:"match,omitempty" mapstructure:"match"`   // command-line signature; empty: Signature()
	LogPath     string        `json:"log_path,omitempty" mapstructure:"log_path"` // worker log, opened append-only
	PIDFile     string        `json:"pid_file,omitempty" mapstructure:"pid_file"` // optional, enables exact re-identification
	GracePeriod time.Duration `json:"grace_period,omitempty" mapstructure:"grace_period"` // pause between kill and relaunch; 0 means 1s
	Label       string        `json:"label,omitempty" mapstructure:"label"`   // printed as "<label>, pid: <pid>" after launch
	Schedule    string        `json:"schedule,omitempty" mapstructure:"schedule"` // optional "@every 1h" for daemon mode
	Notify      bool          `json:"notify,omitempty" mapstructure:"notify"` // push a webhook notice after each restart
}

// DefaultSpec is the zero-configuration worker: restart the crawler script
// sitting next to the supervisor binary.
func DefaultSpec() Spec {
	s := Spec{
		Name:        DefaultName,
		Interpreter: DefaultInterpreter,
		Script:      DefaultScript,
		LogPath:     DefaultLogFile,
		GracePeriod: DefaultGrace,
	}
	s.Normalize()
	return s
}

// Normalize fills derived fields that configuration may omit.
func (s *Spec) Normalize() {
	if s.Interpreter == "" {
		s.Interpreter = DefaultInterpreter
	}
	if s.Name == "" {
		base := filepath.Base(s.Script)
		s.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if s.Match == "" {
		s.Match = s.Signature()
	}
	if s.LogPath == "" {
		s.LogPath = s.Name + ".log"
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = DefaultGrace
	}
	if s.Label == "" {
		s.Label = s.Name + " started"
	}
}

// Validate reports an error for specs that cannot be launched.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("worker name required")
	}
	if strings.TrimSpace(s.Interpreter) == "" {
		return errors.New("worker interpreter required")
	}
	if strings.TrimSpace(s.Script) == "" {
		return fmt.Errorf("worker %s: script required", s.Name)
	}
	if s.GracePeriod < 0 {
		return fmt.Errorf("worker %s: negative grace period %v", s.Name, s.GracePeriod)
	}
	return nil
}

// Signature is the portion of the command line used to find earlier
// instances: interpreter and script, without arguments. Arguments are left
// out so instances launched with different flags still match.
func (s *Spec) Signature() string {
	return strings.Join(append(strings.Fields(s.Interpreter), s.Script), " ")
}

// Command renders the full launch command line for display.
func (s *Spec) Command() string {
	parts := append(strings.Fields(s.Interpreter), s.Script)
	return strings.Join(append(parts, s.Args...), " ")
}

// BuildCommand constructs the exec.Cmd for the worker. The interpreter is
// split on whitespace so it may carry flags, but nothing is run through a
// shell: the worker's command line stays exactly what Signature reports.
func (s *Spec) BuildCommand() *exec.Cmd {
	fields := strings.Fields(s.Interpreter)
	if len(fields) == 0 {
		fields = []string{DefaultInterpreter}
	}
	args := make([]string, 0, len(fields)+len(s.Args))
	args = append(args, fields[1:]...)
	args = append(args, s.Script)
	args = append(args, s.Args...)
	// #nosec G204 -- the command comes from operator configuration
	return exec.Command(fields[0], args...)
}

// Clone returns a copy that shares no slices with s.
func (s Spec) Clone() Spec {
	c := s
	if s.Args != nil {
		c.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		c.Env = append([]string(nil), s.Env...)
	}
	return c
}
