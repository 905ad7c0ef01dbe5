package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// fakeCheckout lays down the directory skeleton CheckInstall expects.
func fakeCheckout(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	for _, rel := range []string{sdVAEBin, unetModelPath, unetConfigPath} {
		path := filepath.Join(repo, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return repo
}

// fakePython writes a script standing in for the model runtime. The import
// warm-up ("-c ...") always succeeds; the body handles the inference call and
// receives its arguments as "$@".
func fakePython(t *testing.T, body string) string {
	t.Helper()
	script := "#!/bin/sh\nif [ \"$1\" = \"-c\" ]; then exit 0; fi\n" + body
	path := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// inferenceStub parses --result_dir from the arguments and writes an mp4
// there, mimicking a successful model run.
const inferenceStub = `dir=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--result_dir" ]; then dir="$2"; fi
  shift
done
if [ -z "$dir" ]; then exit 2; fi
mkdir -p "$dir/task_0"
printf 'synthesized-frames' > "$dir/task_0/result.mp4"
`

func loadedEngine(t *testing.T, pythonBody string) *MuseTalk {
	t.Helper()
	m := NewMuseTalk(Config{
		RepoDir:   fakeCheckout(t),
		PythonBin: fakePython(t, pythonBody),
	}, zerolog.Nop())
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestCheckInstallMissingWeights(t *testing.T) {
	repo := fakeCheckout(t)
	if err := os.Remove(filepath.Join(repo, unetModelPath)); err != nil {
		t.Fatal(err)
	}

	m := NewMuseTalk(Config{RepoDir: repo, PythonBin: fakePython(t, "exit 0\n")}, zerolog.Nop())
	err := m.CheckInstall()
	if err == nil || !strings.Contains(err.Error(), "unet.pth") {
		t.Fatalf("err = %v, want missing unet.pth", err)
	}
}

func TestCheckInstallAcceptsSafetensors(t *testing.T) {
	repo := fakeCheckout(t)
	// Swap the .bin VAE for the safetensors variant.
	if err := os.Remove(filepath.Join(repo, sdVAEBin)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, sdVAETensors), []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMuseTalk(Config{RepoDir: repo, PythonBin: fakePython(t, "exit 0\n")}, zerolog.Nop())
	if err := m.CheckInstall(); err != nil {
		t.Fatalf("CheckInstall: %v", err)
	}
}

func TestCheckInstallMissingCheckout(t *testing.T) {
	m := NewMuseTalk(Config{RepoDir: "/nonexistent/musetalk", PythonBin: "true"}, zerolog.Nop())
	if err := m.CheckInstall(); err == nil {
		t.Fatal("expected error for missing checkout")
	}
}

func TestLoadFlipsReadiness(t *testing.T) {
	m := NewMuseTalk(Config{
		RepoDir:   fakeCheckout(t),
		PythonBin: fakePython(t, "exit 0\n"),
	}, zerolog.Nop())

	if m.Ready() {
		t.Fatal("engine ready before Load")
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !m.Ready() {
		t.Fatal("engine not ready after Load")
	}
}

func TestLoadFailureStaysNotReady(t *testing.T) {
	// Raw script without the import-check shortcut: the warm-up itself fails.
	broken := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(broken, []byte("#!/bin/sh\necho 'ModuleNotFoundError' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	m := NewMuseTalk(Config{
		RepoDir:   fakeCheckout(t),
		PythonBin: broken,
	}, zerolog.Nop())

	if err := m.Load(context.Background()); err == nil {
		t.Fatal("expected Load to fail")
	}
	if m.Ready() {
		t.Fatal("engine ready after failed Load")
	}
}

func TestSynthesizeRequiresLoad(t *testing.T) {
	m := NewMuseTalk(Config{RepoDir: fakeCheckout(t), PythonBin: "true"}, zerolog.Nop())
	_, err := m.Synthesize(context.Background(), "avatar.mp4", "audio.wav", t.TempDir())
	if err == nil || domain.KindOf(err) != domain.KindResource {
		t.Fatalf("err = %v, want resource error", err)
	}
}

func TestSynthesizeHappyPath(t *testing.T) {
	m := loadedEngine(t, inferenceStub)
	work := t.TempDir()

	video, err := m.Synthesize(context.Background(), "avatar.mp4", "audio.wav", work)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	data, err := os.ReadFile(video)
	if err != nil || string(data) != "synthesized-frames" {
		t.Fatalf("video = %q, err = %v", data, err)
	}

	// The generated task config binds this job's exact inputs.
	cfg, err := os.ReadFile(filepath.Join(work, "task.yaml"))
	if err != nil {
		t.Fatalf("task config missing: %v", err)
	}
	for _, want := range []string{"task_0:", `video_path: "avatar.mp4"`, `audio_path: "audio.wav"`, "bbox_shift: 0"} {
		if !strings.Contains(string(cfg), want) {
			t.Fatalf("task config missing %q:\n%s", want, cfg)
		}
	}
}

func TestSynthesizeSubprocessFailure(t *testing.T) {
	m := loadedEngine(t, "echo 'RuntimeError: bad audio features' >&2\nexit 1\n")
	work := t.TempDir()

	_, err := m.Synthesize(context.Background(), "avatar.mp4", "audio.wav", work)
	if domain.KindOf(err) != domain.KindInference {
		t.Fatalf("err = %v, want inference error", err)
	}

	// stderr is captured for inspection.
	logged, readErr := os.ReadFile(filepath.Join(work, "stderr.log"))
	if readErr != nil || !strings.Contains(string(logged), "bad audio features") {
		t.Fatalf("stderr log = %q, err = %v", logged, readErr)
	}
}

func TestSynthesizeClassifiesOOM(t *testing.T) {
	m := loadedEngine(t, "echo 'torch.cuda.OutOfMemoryError: CUDA out of memory' >&2\nexit 1\n")

	_, err := m.Synthesize(context.Background(), "avatar.mp4", "audio.wav", t.TempDir())
	if domain.KindOf(err) != domain.KindInference {
		t.Fatalf("err = %v, want inference error", err)
	}
	if !strings.Contains(domain.MessageOf(err), "out of memory") {
		t.Fatalf("message = %q, want out of memory detail", domain.MessageOf(err))
	}
}

func TestSynthesizeNoOutput(t *testing.T) {
	m := loadedEngine(t, "exit 0\n")

	_, err := m.Synthesize(context.Background(), "avatar.mp4", "audio.wav", t.TempDir())
	if domain.KindOf(err) != domain.KindInference {
		t.Fatalf("err = %v, want inference error for missing output", err)
	}
}

func TestSynthesizeCancellation(t *testing.T) {
	m := loadedEngine(t, "sleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Synthesize(ctx, "avatar.mp4", "audio.wav", t.TempDir())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not kill the subprocess promptly")
	}
}
