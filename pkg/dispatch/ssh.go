package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
)

// Node is the remote host an SSH dispatcher stages evaluators on.
// *ssh.SSHClient from pkg/transports/ssh implements it.
type Node interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error
	WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error
}

// DefaultLaunchCommand starts the evaluator in the background and prints its PID.
const DefaultLaunchCommand = `cd {{.Dir}} && nohup launchpad-evaluator --config {{.ConfigPath}} --memory {{.MemoryMB}}m > evaluator.log 2>&1 & echo $!`

// SSHConfig configures an SSH dispatcher.
type SSHConfig struct {
	// WorkDir is the remote directory under which each evaluator gets its
	// own directory.
	WorkDir string

	// LaunchCommand is a text/template rendered with LaunchParams.
	LaunchCommand string

	Logger zerolog.Logger
}

// LaunchParams are the values available to the launch command template.
// Every string value is shell-quoted.
type LaunchParams struct {
	EvaluatorID string
	Dir         string
	ConfigPath  string
	ProcessType string
	MemoryMB    int
}

// SSH stages every file and library of a descriptor on a node, writes
// evaluator.json next to them and runs the launch command.
type SSH struct {
	node    Node
	workDir string
	command *template.Template
	logger  zerolog.Logger
}

// NewSSH creates an SSH dispatcher.
func NewSSH(node Node, cfg SSHConfig) (*SSH, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/var/lib/launchpad/evaluators"
	}
	if cfg.LaunchCommand == "" {
		cfg.LaunchCommand = DefaultLaunchCommand
	}

	tmpl, err := template.New("launch").Option("missingkey=error").Parse(cfg.LaunchCommand)
	if err != nil {
		return nil, engine.NewPermanentError("invalid launch command template", err).
			WithCode(engine.ErrCodeConfiguration)
	}

	return &SSH{
		node:    node,
		workDir: cfg.WorkDir,
		command: tmpl,
		logger:  cfg.Logger.With().Str("component", "ssh-dispatcher").Logger(),
	}, nil
}

// Name returns "ssh".
func (s *SSH) Name() string { return "ssh" }

// Dispatch stages d on the node and starts the evaluator.
func (s *SSH) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if err := requireDescriptor(d); err != nil {
		return err
	}
	id := d.Identifier
	logger := s.logger.With().Str("evaluator_id", id).Logger()

	if err := launch.ValidateIdentifier(id); err != nil {
		return stagingError(id, "invalid evaluator identifier", err)
	}

	dir := path.Join(s.workDir, id)
	filesDir := path.Join(dir, "files")
	libsDir := path.Join(dir, "libs")

	remotes, err := remotePaths(d.Files, filesDir, libsDir)
	if err != nil {
		return stagingError(id, "resources collide on the node", err)
	}

	if !s.node.IsConnected() {
		if err := s.node.Connect(ctx); err != nil {
			return transportError(id, "connect", err)
		}
	}

	if _, stderr, err := s.node.ExecuteCommand(ctx, "mkdir -p "+shellQuote(filesDir)+" "+shellQuote(libsDir)); err != nil {
		return transportError(id, "prepare", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr)))
	}

	staged := *d
	staged.Files = make([]launch.FileResource, 0, len(d.Files))
	for i, f := range d.Files {
		remote := remotes[i]

		if err := s.node.UploadFile(ctx, f.Path, remote, 0o644); err != nil {
			return transportError(id, "stage", fmt.Errorf("%s: %w", f.Path, err))
		}
		logger.Debug().Str("local", f.Path).Str("remote", remote).Msg("Resource staged")

		f.Path = remote
		staged.Files = append(staged.Files, f)
	}

	data, err := json.MarshalIndent(&staged, "", "  ")
	if err != nil {
		return dispatchError(id, "stage", "failed to encode descriptor", err, false)
	}
	configPath := path.Join(dir, "evaluator.json")
	if err := s.node.WriteFile(ctx, configPath, data, 0o600); err != nil {
		return transportError(id, "stage", err)
	}

	cmd, err := s.render(LaunchParams{
		EvaluatorID: id,
		Dir:         dir,
		ConfigPath:  configPath,
		ProcessType: string(d.Process.Type),
		MemoryMB:    d.Process.MemoryMB,
	})
	if err != nil {
		return dispatchError(id, "launch", "failed to render launch command", err, false)
	}

	stdout, stderr, err := s.node.ExecuteCommand(ctx, cmd)
	if err != nil {
		return transportError(id, "launch", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr)))
	}

	logger.Info().
		Str("dir", dir).
		Int("files", len(staged.Files)).
		Str("pid", strings.TrimSpace(stdout)).
		Msg("Evaluator started on node")
	return nil
}

// remotePaths returns the staging path of every file. Files are staged by
// base name, so two entries of one kind with the same name would overwrite
// each other and are rejected.
func remotePaths(files []launch.FileResource, filesDir, libsDir string) ([]string, error) {
	out := make([]string, len(files))
	seen := make(map[string]string, len(files))
	for i, f := range files {
		target := filesDir
		if f.Type == launch.FileTypeLib {
			target = libsDir
		}
		remote := path.Join(target, f.Name)
		if prev, ok := seen[remote]; ok {
			return nil, fmt.Errorf("%s and %s both stage to %s", prev, f.Path, remote)
		}
		seen[remote] = f.Path
		out[i] = remote
	}
	return out, nil
}

func stagingError(evaluatorID, message string, err error) error {
	return engine.NewPermanentError(message, err).
		WithCode(engine.ErrCodeValidation).
		WithResource(evaluatorID).
		WithOperation("stage")
}

func (s *SSH) render(p LaunchParams) (string, error) {
	p.EvaluatorID = shellQuote(p.EvaluatorID)
	p.Dir = shellQuote(p.Dir)
	p.ConfigPath = shellQuote(p.ConfigPath)
	p.ProcessType = shellQuote(p.ProcessType)

	var buf bytes.Buffer
	if err := s.command.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// transportError classifies a node failure. Errors that report themselves
// as temporary are transient.
func transportError(evaluatorID, operation string, err error) error {
	var t interface{ Temporary() bool }
	retryable := errors.As(err, &t) && t.Temporary()
	return dispatchError(evaluatorID, operation, "node "+operation+" failed", err, retryable)
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
