package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/config"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec in the server's working
// directory. env is appended to the parent environment.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, env []string, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// paramFile is the JSON document a notebook reads from $PARAM_FILE.
type paramFile struct {
	AnalysisID string         `json:"analysis_id"`
	Parameters map[string]any `json:"parameters"`
	InputFiles []string       `json:"input_files"`
	OutputDir  string         `json:"output_dir"`
	Timestamp  string         `json:"timestamp"`
}

// notebookDoc is the subset of the .ipynb format needed to pull results.
type notebookDoc struct {
	Cells []struct {
		CellType string `json:"cell_type"`
		Outputs  []struct {
			OutputType string                     `json:"output_type"`
			Data       map[string]json.RawMessage `json:"data"`
		} `json:"outputs"`
	} `json:"cells"`
}

// NotebookExecutor runs one Jupyter notebook per request through
// `jupyter nbconvert --execute` and collects the JSON values the notebook
// displays as its result.
type NotebookExecutor struct {
	notebook   string
	jupyterBin string
	workDir    string
	outputDir  string

	runner     commandRunner
	createTemp func(dir, pattern string) (*os.File, error)
	readFile   func(name string) ([]byte, error)
	removeFile func(name string) error
	now        func() time.Time
}

// NewNotebookExecutor constructs an executor for the notebook at path.
// Relative notebook paths are resolved against the server's working
// directory, not cfg.WorkDir.
func NewNotebookExecutor(notebook string, cfg config.ExecutorConfig) *NotebookExecutor {
	bin := cfg.JupyterBin
	if bin == "" {
		bin = "jupyter"
	}
	return &NotebookExecutor{
		notebook:   notebook,
		jupyterBin: bin,
		workDir:    cfg.WorkDir,
		outputDir:  cfg.OutputDir,
		runner:     execRunner{},
		createTemp: os.CreateTemp,
		readFile:   os.ReadFile,
		removeFile: os.Remove,
		now:        time.Now,
	}
}

// Execute writes the parameter file, runs the notebook and parses its output.
// Temporary files are removed on every path.
func (n *NotebookExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	paramPath, err := n.writeParams(req)
	if err != nil {
		return Result{}, &ExecError{Stage: "prepare", Message: "write parameter file", Err: errors.Join(ErrProcessFailed, err)}
	}
	defer n.cleanup(paramPath)

	outName := fmt.Sprintf("output_%s_%d.ipynb", fileSafe(req.JobID), n.now().Unix())
	outPath := filepath.Join(n.workDir, outName)
	defer n.cleanup(outPath)

	args := []string{
		"nbconvert", "--to", "notebook", "--execute",
		"--output-dir", n.workDir,
		"--output", outName,
		"--ExecutePreprocessor.timeout=" + kernelTimeout(req.Timeout),
		n.notebook,
	}
	env := []string{"ANALYSIS_ID=" + req.JobID, "PARAM_FILE=" + paramPath}

	slog.Debug("running notebook", "job_id", req.JobID, "kind", req.Kind, "notebook", n.notebook)

	res, runErr := n.runner.Run(ctx, env, n.jupyterBin, args...)
	cmdLog := CommandLog{
		Command:  n.jupyterBin,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, &ExecError{Stage: "run", Message: "notebook timed out", CommandLog: cmdLog, Err: errors.Join(ErrTimeout, runErr)}
		}
		if ctx.Err() != nil {
			return Result{}, &ExecError{Stage: "run", Message: "notebook interrupted", CommandLog: cmdLog, Err: errors.Join(ErrProcessFailed, ctx.Err())}
		}
		return Result{}, &ExecError{Stage: "run", Message: "notebook execution failed", CommandLog: cmdLog, Err: errors.Join(ErrProcessFailed, runErr)}
	}

	payload, err := n.parseResults(outPath)
	if err != nil {
		return Result{}, &ExecError{Stage: "parse", Message: err.Error(), CommandLog: cmdLog, Err: errors.Join(ErrMalformedOutput, err)}
	}
	return Result{Payload: payload}, nil
}

func (n *NotebookExecutor) writeParams(req Request) (string, error) {
	f, err := n.createTemp(n.workDir, "params-*.json")
	if err != nil {
		return "", err
	}
	path := f.Name()

	doc := paramFile{
		AnalysisID: req.JobID,
		Parameters: req.Parameters,
		InputFiles: req.InputReferences,
		OutputDir:  n.outputDir,
		Timestamp:  n.now().UTC().Format(time.RFC3339),
	}
	if doc.Parameters == nil {
		doc.Parameters = map[string]any{}
	}
	if doc.InputFiles == nil {
		doc.InputFiles = []string{}
	}

	encErr := json.NewEncoder(f).Encode(doc)
	closeErr := f.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		n.cleanup(path)
		return "", err
	}
	return path, nil
}

// parseResults merges the application/json data of every execute_result
// output of every code cell. Later keys win.
func (n *NotebookExecutor) parseResults(path string) (map[string]any, error) {
	data, err := n.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read output notebook: %w", err)
	}

	var doc notebookDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode output notebook: %w", err)
	}

	payload := make(map[string]any)
	found := false
	for _, cell := range doc.Cells {
		if cell.CellType != "code" {
			continue
		}
		for _, out := range cell.Outputs {
			if out.OutputType != "execute_result" {
				continue
			}
			raw, ok := out.Data["application/json"]
			if !ok {
				continue
			}
			var values map[string]any
			if err := json.Unmarshal(raw, &values); err != nil {
				return nil, fmt.Errorf("decode cell result: %w", err)
			}
			for k, v := range values {
				payload[k] = v
			}
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("notebook produced no JSON results")
	}
	return payload, nil
}

func (n *NotebookExecutor) cleanup(path string) {
	if err := n.removeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove temp file", "path", path, "error", err)
	}
}

// fileSafe maps id onto [A-Za-z0-9_-] so it stays a single path element.
func fileSafe(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if safe == "" {
		return "job"
	}
	return safe
}

// kernelTimeout renders the per-cell kernel timeout in seconds; -1 disables it.
func kernelTimeout(d time.Duration) string {
	if d <= 0 {
		return "-1"
	}
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

var _ Executor = (*NotebookExecutor)(nil)
