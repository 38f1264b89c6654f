// Package api exposes the mission workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aerie/mission-core/ingestion"
	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/ranking"
	"github.com/aerie/mission-core/report"
	"github.com/aerie/mission-core/service"
)

const maxUploadSize = 32 << 20

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

type apiError struct {
	Message string `json:"message"`
}

type Handler struct {
	svc       *service.MissionService
	uploadDir string
	logger    *slog.Logger
}

func NewHandler(svc *service.MissionService, uploadDir string) *Handler {
	return &Handler{
		svc:       svc,
		uploadDir: uploadDir,
		logger:    logging.GetLogger().With("component", "api"),
	}
}

// Routes builds the router. socket, when non-nil, is mounted at /socket.io/.
func (h *Handler) Routes(socket http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /api/missions", h.createMission)
	mux.HandleFunc("GET /api/missions", h.listMissions)
	mux.HandleFunc("GET /api/missions/{id}", h.getMission)
	mux.HandleFunc("DELETE /api/missions/{id}", h.deleteMission)
	mux.HandleFunc("POST /api/missions/{id}/image", h.uploadImage)
	mux.HandleFunc("POST /api/missions/{id}/scan", h.scan)
	mux.HandleFunc("POST /api/missions/{id}/detect", h.detect)
	mux.HandleFunc("POST /api/missions/{id}/analyze", h.analyze)
	mux.HandleFunc("POST /api/missions/{id}/deploy", h.deploy)
	mux.HandleFunc("POST /api/missions/{id}/deliver", h.deliver)
	mux.HandleFunc("POST /api/missions/{id}/reset", h.reset)
	mux.HandleFunc("GET /api/missions/{id}/report", h.report)
	if socket != nil {
		mux.Handle("/socket.io/", socket)
	}
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/socket.io/") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.GetLogger().Error("failed to encode JSON response", logging.Err(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// writeServiceError maps workflow errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mission.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "mission not found")
	case errors.Is(err, service.ErrDetectionFailed):
		writeJSONError(w, http.StatusBadGateway, "detection failed")
	case errors.Is(err, ingestion.ErrInvalidInputShape):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, mission.ErrInvalidTransition),
		errors.Is(err, mission.ErrNoImage),
		errors.Is(err, mission.ErrNoTargets):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", logging.Err(err), "path", r.URL.Path)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"missions": len(h.svc.List()),
		"time":     time.Now().UTC(),
	})
}

func (h *Handler) createMission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.svc.Create(r.Context()))
}

func (h *Handler) listMissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"missions": h.svc.List()})
}

func (h *Handler) getMission(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) deleteMission(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadImage accepts a multipart "file" (jpg, jpeg or png) or a JSON body
// {"image_url": "..."} pointing at a remote image.
func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.Status(id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		h.attachRemoteImage(w, r, id)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExts[ext] {
		writeJSONError(w, http.StatusBadRequest, "only jpg, jpeg and png images are accepted")
		return
	}

	path, err := h.saveUpload(id, ext, file)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to store upload", logging.Err(err), "mission_id", id)
		writeJSONError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	status, err := h.svc.AttachImage(r.Context(), id, path)
	if err != nil {
		_ = os.Remove(path)
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) attachRemoteImage(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ref := strings.TrimSpace(body.ImageURL)
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		writeJSONError(w, http.StatusBadRequest, "image_url must be an http(s) URL")
		return
	}

	status, err := h.svc.AttachImage(r.Context(), id, ref)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) saveUpload(missionID, ext string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(h.uploadDir, missionID+"-"+uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	h.writeStep(w, r, h.svc.Scan)
}

func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	detections, status, err := h.svc.Detect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"detections": detections,
		"summary":    ranking.Summarize(detections, h.svc.TopTargets()),
	})
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.svc.Analyze(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	m, err := h.svc.Get(id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"summary": ranking.Summarize(m.Detections(), h.svc.TopTargets()),
	})
}

func (h *Handler) deploy(w http.ResponseWriter, r *http.Request) {
	targets, status, err := h.svc.Deploy(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"targets": ranking.Annotate(targets),
	})
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	h.writeStep(w, r, h.svc.Deliver)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.writeStep(w, r, h.svc.Reset)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Report(r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if !strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	data, err := report.Marshal(rep)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="mission-`+rep.MissionID+`.yaml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) writeStep(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, id string) (mission.Status, error)) {
	status, err := step(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
