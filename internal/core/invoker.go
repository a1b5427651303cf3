package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"slicer-backend/pkg/api"
)

const (
	ExportGcode = "gcode"
	Export3MF   = "3mf"

	DefaultPlate = "1"
)

// CommandResult is the raw outcome of one engine invocation.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// CommandRunner abstracts the process boundary so the orchestration logic can
// be tested without spawning real processes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (CommandResult, error)
}

type execRunner struct{}

func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args []string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("error running %s: %w", name, err)
	}

	return result, nil
}

// Invoker builds and executes engine invocations. Profile files are resolved
// against the job-specific upload directory first, then the shared default
// profile directory.
type Invoker struct {
	enginePath string
	uploadDir  string
	profileDir string
	timeout    time.Duration
	runner     CommandRunner
}

func NewInvoker(enginePath, uploadDir, profileDir string, timeout time.Duration, runner CommandRunner) *Invoker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Invoker{
		enginePath: enginePath,
		uploadDir:  uploadDir,
		profileDir: profileDir,
		timeout:    timeout,
		runner:     runner,
	}
}

func normalizeSettings(settings *api.SliceSettings) api.SliceSettings {
	var s api.SliceSettings
	if settings != nil {
		s = *settings
	}
	if s.Plate == "" {
		s.Plate = DefaultPlate
	}
	if s.ExportType == "" {
		s.ExportType = ExportGcode
	}
	return s
}

func (inv *Invoker) resolveProfile(name string) (string, *SliceError) {
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}

	for _, dir := range []string{inv.uploadDir, inv.profileDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", Errf(ErrNotFound, "profile %q not found", name)
}

// BuildArgs constructs the fixed-order engine argument list. The order is a
// stable external contract: export flag, plate, arrange/orient, settings
// pair, filament, bed type, multicolor, compatibility flag, output dir,
// input file.
func (inv *Invoker) BuildArgs(inputPath, outputDir string, settings *api.SliceSettings) ([]string, *SliceError) {
	s := normalizeSettings(settings)

	if s.ExportType != ExportGcode && s.ExportType != Export3MF {
		return nil, Errf(ErrInvalidRequest, "unsupported export type %q", s.ExportType)
	}

	var args []string
	if s.ExportType == Export3MF {
		args = append(args, "--export-3mf")
	}

	args = append(args, "--slice", s.Plate)

	if s.Arrange != nil {
		args = append(args, "--arrange", boolFlag(*s.Arrange))
	}
	if s.Orient != nil {
		args = append(args, "--orient", boolFlag(*s.Orient))
	}

	if s.Printer != "" || s.Preset != "" {
		if s.Printer == "" || s.Preset == "" {
			return nil, Errf(ErrInvalidRequest, "printer and preset profiles must be provided together")
		}
		printerPath, serr := inv.resolveProfile(s.Printer)
		if serr != nil {
			return nil, serr
		}
		presetPath, serr := inv.resolveProfile(s.Preset)
		if serr != nil {
			return nil, serr
		}
		args = append(args, "--load-settings", printerPath+";"+presetPath)
	}

	if s.Filament != "" {
		filamentPath, serr := inv.resolveProfile(s.Filament)
		if serr != nil {
			return nil, serr
		}
		args = append(args, "--load-filaments", filamentPath)
	}

	if s.BedType != "" {
		args = append(args, "--curr-bed-type", s.BedType)
	}
	if s.MulticolorOnePlate {
		args = append(args, "--allow-multicolor-oneplate")
	}

	args = append(args, "--allow-newer-file", "--outputdir", outputDir, inputPath)

	return args, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Invoke runs the engine synchronously with a bounded timeout and classifies
// the outcome. The working directory is never cleaned up here; it is surfaced
// on every path so the caller owns cleanup.
func (inv *Invoker) Invoke(ctx context.Context, inputPath, outputDir string, settings *api.SliceSettings) SliceResult {
	if inv.enginePath == "" {
		return SliceResult{Err: Errf(ErrMisconfigured, "slicer engine path is not configured")}
	}

	args, serr := inv.BuildArgs(inputPath, outputDir, settings)
	if serr != nil {
		return SliceResult{Err: serr}
	}

	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return SliceResult{Err: Errf(ErrMisconfigured, "unable to create engine output directory").WithDetail(err.Error())}
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	slog.Info("invoking slicer engine", "engine", inv.enginePath, "input", inputPath, "output_dir", outputDir)

	result, err := inv.runner.Run(runCtx, inv.enginePath, args)
	if err != nil {
		return SliceResult{
			WorkDir: outputDir,
			Err:     Errf(ErrEngineExecution, "unable to run slicer engine").WithDetail(err.Error()),
		}
	}

	if result.TimedOut {
		return SliceResult{
			WorkDir: outputDir,
			Err:     Errf(ErrEngineExecution, "slicer engine timed out after %s", inv.timeout).WithDetail(engineDetail(result)),
		}
	}

	if result.ExitCode != 0 {
		return SliceResult{
			WorkDir: outputDir,
			Err:     Errf(ErrEngineExecution, "slicer engine exited with code %d", result.ExitCode).WithDetail(engineDetail(result)),
		}
	}

	outputs, err := findOutputs(outputDir, normalizeSettings(settings).ExportType)
	if err != nil {
		return SliceResult{
			WorkDir: outputDir,
			Err:     Errf(ErrMisconfigured, "unable to scan engine output directory").WithDetail(err.Error()),
		}
	}

	// A clean exit with no usable output is still a failure.
	if len(outputs) == 0 {
		return SliceResult{
			WorkDir: outputDir,
			Err:     Errf(ErrNoOutputProduced, "engine produced no %s output", normalizeSettings(settings).ExportType).WithDetail(engineDetail(result)),
		}
	}

	return SliceResult{Outputs: outputs, WorkDir: outputDir}
}

func engineDetail(result CommandResult) string {
	detail := strings.TrimSpace(result.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(result.Stdout)
	}
	return detail
}

func findOutputs(dir, exportType string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading output directory %s: %w", dir, err)
	}

	ext := "." + exportType
	var outputs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			outputs = append(outputs, filepath.Join(dir, entry.Name()))
		}
	}

	return outputs, nil
}
