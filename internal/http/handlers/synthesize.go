package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

type synthesizeJSONRequest struct {
	AudioB64 string `json:"audio_b64"`
	Avatar   string `json:"avatar"`
}

// Synthesize accepts an audio payload, runs it through the generation
// pipeline, and streams the resulting MP4 back. Three request shapes are
// supported: multipart form (file field "audio", optional "avatar"), JSON
// with base64 audio, and a raw binary body with an optional ?avatar= query.
func (a *App) Synthesize(w http.ResponseWriter, r *http.Request) {
	if !a.Engine.Ready() {
		a.error(w, http.StatusServiceUnavailable, domain.KindResource, "model is still loading")
		return
	}

	audio, avatar, err := a.readAudio(w, r)
	if err != nil {
		a.fail(w, err)
		return
	}

	req := &domain.GenerationRequest{
		ID:         uuid.NewString(),
		Audio:      audio,
		AvatarName: avatar,
		CreatedAt:  time.Now().UTC(),
	}

	res, err := a.Generator.Synthesize(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	defer res.Release()

	f, err := os.Open(res.VideoPath)
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", res.JobID).Msg("result video missing")
		a.error(w, http.StatusInternalServerError, domain.KindInternal, "result video unavailable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="lipsync_result.mp4"`)
	w.Header().Set("X-Job-ID", res.JobID)
	if res.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		// Response already committed; nothing to send but the disconnect.
		a.Log.Warn().Err(err).Str("job_id", res.JobID).Msg("result stream interrupted")
	}
}

// readAudio extracts the audio payload and the optional avatar override from
// any of the supported request shapes.
func (a *App) readAudio(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxAudioBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return a.readMultipartAudio(r)
	case "application/json":
		var req synthesizeJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, "", domain.WrapE(domain.KindValidation, err, "invalid JSON payload")
		}
		if req.AudioB64 == "" {
			return nil, "", domain.E(domain.KindValidation, "audio_b64 is required")
		}
		audio, err := base64.StdEncoding.DecodeString(req.AudioB64)
		if err != nil {
			return nil, "", domain.WrapE(domain.KindValidation, err, "audio_b64 is not valid base64")
		}
		return audio, req.Avatar, nil
	}

	audio, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", domain.E(domain.KindValidation, "audio payload exceeds %d bytes", maxErr.Limit)
		}
		return nil, "", domain.WrapE(domain.KindValidation, err, "failed to read request body")
	}
	return audio, r.URL.Query().Get("avatar"), nil
}

func (a *App) readMultipartAudio(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(a.MaxAudioBytes); err != nil {
		return nil, "", domain.WrapE(domain.KindValidation, err, "invalid multipart payload")
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, "", domain.E(domain.KindValidation, "no audio file provided")
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		return nil, "", domain.WrapE(domain.KindValidation, err, "failed to read audio file")
	}
	return audio, r.FormValue("avatar"), nil
}
