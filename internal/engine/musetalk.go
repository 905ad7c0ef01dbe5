// Package engine adapts the external MuseTalk lip-sync model behind a narrow
// load/synthesize boundary so the orchestrator never touches the model's
// process details.
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// MuseTalk v1.5 artifact locations, relative to the checkout directory.
const (
	unetModelPath  = "models/musetalkV15/unet.pth"
	unetConfigPath = "models/musetalkV15/musetalk.json"
	sdVAEBin       = "models/sd-vae/diffusion_pytorch_model.bin"
	sdVAETensors   = "models/sd-vae/diffusion_pytorch_model.safetensors"
	modelVersion   = "v15"
)

const loadCheckTimeout = 5 * time.Minute

// Config locates the model checkout and its runtime.
type Config struct {
	RepoDir   string
	PythonBin string
	FFmpegDir string
}

// MuseTalk runs the model as a subprocess of its Python checkout. The struct
// holds no per-request state, so one instance serves concurrent calls; the
// orchestrator's admission gate bounds how many run at once.
type MuseTalk struct {
	cfg    Config
	python string
	log    infra.Logger
	ready  atomic.Bool
}

// NewMuseTalk builds an adapter for the checkout at cfg.RepoDir.
func NewMuseTalk(cfg Config, log infra.Logger) *MuseTalk {
	return &MuseTalk{cfg: cfg, log: log}
}

// CheckInstall verifies the checkout, the pretrained weights, and the Python
// runtime. Any failure is fatal: the process must exit instead of serving.
func (m *MuseTalk) CheckInstall() error {
	info, err := os.Stat(m.cfg.RepoDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("model checkout not found at %q", m.cfg.RepoDir)
	}

	if !m.fileExists(sdVAEBin) && !m.fileExists(sdVAETensors) {
		return fmt.Errorf("missing required weight file: %s", filepath.Join(m.cfg.RepoDir, sdVAEBin))
	}
	for _, rel := range []string{unetModelPath, unetConfigPath} {
		if !m.fileExists(rel) {
			return fmt.Errorf("missing required weight file: %s", filepath.Join(m.cfg.RepoDir, rel))
		}
	}

	python, err := exec.LookPath(m.cfg.PythonBin)
	if err != nil {
		return fmt.Errorf("python runtime %q not found: %w", m.cfg.PythonBin, err)
	}
	m.python = python

	return nil
}

// Load warms the model runtime by importing the inference entry point once.
// The first real request would otherwise pay the full import cost. Readiness
// flips only after the import succeeds; a failure means the process cannot
// serve and the caller must exit.
func (m *MuseTalk) Load(ctx context.Context) error {
	if m.python == "" {
		if err := m.CheckInstall(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, loadCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.python, "-c", "import scripts.inference")
	cmd.Dir = m.cfg.RepoDir
	cmd.Env = m.env()

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("model import check failed: %w - output: %s", err, tail(string(output), 2000))
	}

	m.ready.Store(true)
	m.log.Info().Str("repo", m.cfg.RepoDir).Msg("lip-sync model loaded")
	return nil
}

// Ready reports whether Load has completed.
func (m *MuseTalk) Ready() bool { return m.ready.Load() }

// Synthesize runs one inference pass and returns the path of the video the
// model produced inside workDir. Failures are per-request: the same adapter
// keeps serving afterwards. Cancellation kills the subprocess via the
// context and is surfaced as the context's error.
func (m *MuseTalk) Synthesize(ctx context.Context, avatarPath, audioPath, workDir string) (string, error) {
	if !m.Ready() {
		return "", domain.E(domain.KindResource, "model is not loaded")
	}

	resultDir := filepath.Join(workDir, "results")
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return "", domain.WrapE(domain.KindResource, err, "failed to create result directory")
	}

	taskPath := filepath.Join(workDir, "task.yaml")
	if err := writeTaskConfig(taskPath, avatarPath, audioPath); err != nil {
		return "", domain.WrapE(domain.KindResource, err, "failed to write inference config")
	}

	args := []string{
		"-m", "scripts.inference",
		"--inference_config", taskPath,
		"--result_dir", resultDir,
		"--unet_model_path", unetModelPath,
		"--unet_config", unetConfigPath,
		"--version", modelVersion,
		"--use_float16",
	}
	if m.cfg.FFmpegDir != "" {
		args = append(args, "--ffmpeg_path", m.cfg.FFmpegDir)
	}

	cmd := exec.CommandContext(ctx, m.python, args...)
	cmd.Dir = m.cfg.RepoDir
	cmd.Env = m.env()

	stdout, stderr, closeLogs, err := openRunLogs(workDir)
	if err != nil {
		return "", domain.WrapE(domain.KindResource, err, "failed to open inference logs")
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	closeLogs()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if runErr != nil {
		detail := tail(readFileQuiet(filepath.Join(workDir, "stderr.log")), 4000)
		m.log.Error().Err(runErr).Str("stderr", detail).Msg("inference subprocess failed")
		if strings.Contains(detail, "out of memory") || strings.Contains(detail, "CUDA error") {
			return "", domain.WrapE(domain.KindInference, runErr, "compute device out of memory")
		}
		return "", domain.WrapE(domain.KindInference, runErr, "model inference failed")
	}

	video, err := findNewestVideo(resultDir)
	if err != nil {
		return "", domain.WrapE(domain.KindInference, err, "model produced no video")
	}
	return video, nil
}

func (m *MuseTalk) fileExists(rel string) bool {
	info, err := os.Stat(filepath.Join(m.cfg.RepoDir, rel))
	return err == nil && !info.IsDir()
}

// env forces UTF-8 output and, when configured, puts the ffmpeg directory on
// PATH for the model's own frame extraction.
func (m *MuseTalk) env() []string {
	env := append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	if m.cfg.FFmpegDir != "" {
		env = append(env, "PATH="+m.cfg.FFmpegDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return env
}

// writeTaskConfig emits the single-task inference YAML the model expects.
func writeTaskConfig(path, videoPath, audioPath string) error {
	cfg := fmt.Sprintf(
		"task_0:\n  video_path: %q\n  audio_path: %q\n  bbox_shift: 0\n",
		filepath.ToSlash(videoPath),
		filepath.ToSlash(audioPath),
	)
	return os.WriteFile(path, []byte(cfg), 0o644)
}

// openRunLogs creates stdout/stderr capture files inside the workspace so a
// failed run can be inspected after the fact.
func openRunLogs(workDir string) (stdout, stderr *os.File, closeLogs func(), err error) {
	stdout, err = os.Create(filepath.Join(workDir, "stdout.log"))
	if err != nil {
		return nil, nil, nil, err
	}
	stderr, err = os.Create(filepath.Join(workDir, "stderr.log"))
	if err != nil {
		stdout.Close()
		return nil, nil, nil, err
	}
	return stdout, stderr, func() {
		stdout.Close()
		stderr.Close()
	}, nil
}

// findNewestVideo picks the largest, most recent MP4 below root. The model
// chooses its own output names, so the result directory is scanned instead of
// assuming a path.
func findNewestVideo(root string) (string, error) {
	var (
		best     string
		bestSize int64
		bestMod  time.Time
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > bestSize || (info.Size() == bestSize && info.ModTime().After(bestMod)) {
			best, bestSize, bestMod = path, info.Size(), info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no mp4 found under %s", root)
	}
	return best, nil
}

func readFileQuiet(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
