package xray

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"xrayclient/internal/core/types"
	pkgerrors "xrayclient/pkg/errors"
)

// Engine runs Xray-core subcommands against one installed binary.
type Engine struct {
	path string
	log  *zap.Logger
}

// New creates an engine bound to the binary at path.
func New(path string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{path: path, log: log}
}

// Path returns the engine binary path.
func (e *Engine) Path() string {
	return e.path
}

// Launch spawns `xray run -c=<configPath>`. The process is not tied to any
// context: only Terminate or Kill end it.
func (e *Engine) Launch(configPath string) (types.Process, error) {
	if _, err := os.Stat(e.path); err != nil {
		return nil, &pkgerrors.CoreError{CoreType: "xray", Err: fmt.Errorf("%w: %v", pkgerrors.ErrCoreNotFound, err)}
	}

	cmd := exec.Command(e.path, "run", "-c="+configPath)

	// geoip.dat and geosite.dat live next to the binary.
	cmd.Env = append(os.Environ(), "XRAY_LOCATION_ASSET="+filepath.Dir(e.path))
	cmd.SysProcAttr = sysProcAttr()

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		return nil, &pkgerrors.CoreError{CoreType: "xray", Err: fmt.Errorf("%w: %v", pkgerrors.ErrCoreStartFailed, err)}
	}

	e.log.Debug("engine spawned", zap.Int("pid", cmd.Process.Pid), zap.String("config", configPath))

	return &process{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		outW:   outW,
		errW:   errW,
	}, nil
}

type process struct {
	cmd        *exec.Cmd
	stdout     *io.PipeReader
	stderr     *io.PipeReader
	outW       *io.PipeWriter
	errW       *io.PipeWriter
	terminated atomic.Bool
}

func (p *process) PID() int          { return p.cmd.Process.Pid }
func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }

func (p *process) Terminate() error {
	p.terminated.Store(true)
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *process) Wait() types.ExitStatus {
	p.cmd.Wait()
	p.outW.Close()
	p.errW.Close()
	return exitStatus(p.cmd.ProcessState, p.terminated.Load())
}

// Version returns the first line of `xray version`.
func (e *Engine) Version(ctx context.Context) (string, error) {
	return VersionOf(ctx, e.path)
}

// VersionOf runs `version` against an arbitrary engine binary, such as a
// temporary copy of the bundled one.
func VersionOf(ctx context.Context, path string) (string, error) {
	output, err := run(ctx, path, "version")
	if err != nil {
		return "", fmt.Errorf("failed to get xray version: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return strings.TrimSpace(string(output)), nil
}

// UUID runs `xray uuid`, passing `-i seed` when seed is non-empty.
func (e *Engine) UUID(ctx context.Context, seed string) (string, error) {
	args := []string{"uuid"}
	if seed != "" {
		args = append(args, "-i", seed)
	}
	output, err := run(ctx, e.path, args...)
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// QueryStats runs `xray api statsquery --server=<addr> --reset`. Counters
// are reset server-side by every successful call.
func (e *Engine) QueryStats(ctx context.Context, addr string) ([]byte, error) {
	output, err := run(ctx, e.path, "api", "statsquery", "--server="+addr, "--reset")
	if err != nil {
		return nil, fmt.Errorf("failed to query xray stats: %w", err)
	}
	return output, nil
}

func run(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return output, nil
}
