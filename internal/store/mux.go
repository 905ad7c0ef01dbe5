package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/media"
)

// Muxer drives the external ffmpeg/ffprobe binaries. The synthesized frames
// video carries no sound, so the final artifact is produced by muxing it with
// the caller's original audio track.
type Muxer struct {
	ffmpeg  string
	ffprobe string
	log     infra.Logger
}

// NewMuxer resolves both tool binaries. A missing tool is a fatal startup
// condition: the server cannot produce output without it.
func NewMuxer(ffmpegPath, ffprobePath string, log infra.Logger) (*Muxer, error) {
	ffmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found at %q: %w", ffmpegPath, err)
	}
	ffprobe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found at %q: %w", ffprobePath, err)
	}
	return &Muxer{ffmpeg: ffmpeg, ffprobe: ffprobe, log: log}, nil
}

// FFmpegDir returns the directory of the resolved ffmpeg binary, for callers
// that need the tool on a subprocess PATH.
func (m *Muxer) FFmpegDir() string {
	return filepath.Dir(m.ffmpeg)
}

// FinalizeOutput combines the synthesized frames video with the original
// audio track into the job's final MP4. The video stream is copied untouched,
// so the source frame rate is preserved; MP3 audio is copied bit-for-bit
// while other inputs are transcoded to AAC for MP4 compatibility.
func (m *Muxer) FinalizeOutput(ctx context.Context, ws *Workspace, framesVideo, audioPath string) (string, error) {
	out := ws.Path("output.mp4")

	audioCodec := "aac"
	if strings.HasSuffix(audioPath, media.FormatMP3.Ext()) {
		audioCodec = "copy"
	}

	args := []string{
		"-y", "-loglevel", "error",
		"-i", framesVideo,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", audioCodec,
		"-shortest",
		out,
	}

	cmd := exec.CommandContext(ctx, m.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		m.log.Error().Err(err).Str("job_id", ws.JobID).Str("output", tail(string(output), 2000)).Msg("ffmpeg mux failed")
		return "", domain.WrapE(domain.KindEncoding, err, "video encoding failed")
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", domain.E(domain.KindEncoding, "encoder produced no output")
	}

	return out, nil
}

// VideoInfo is the probed metadata of an encoded video.
type VideoInfo struct {
	Duration   time.Duration
	Width      int
	Height     int
	FrameCount int
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the video with ffprobe. Callers treat failures as missing
// metadata rather than a failed job.
func (m *Muxer) Probe(ctx context.Context, path string) (VideoInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,avg_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, m.ffprobe, args...)
	raw, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe: no video stream in %s", path)
	}

	var vi VideoInfo
	stream := parsed.Streams[0]
	vi.Width = stream.Width
	vi.Height = stream.Height

	if seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		vi.Duration = time.Duration(seconds * float64(time.Second))
	}
	if frames, err := strconv.Atoi(stream.NbFrames); err == nil {
		vi.FrameCount = frames
	} else if fps := parseRate(stream.AvgFrameRate); fps > 0 && vi.Duration > 0 {
		vi.FrameCount = int(vi.Duration.Seconds()*fps + 0.5)
	}

	return vi, nil
}

// parseRate converts an ffprobe rational like "25/1" to a float.
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
