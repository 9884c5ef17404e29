package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"go.uber.org/zap"
)

const (
	maxHistoryLimit = 100
	resetTimeout    = 10 * time.Second
)

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

type App struct {
	Service          *analysis.Service
	DB               *database.DB
	MaxUploadSize    int64
	OracleConfigured bool
	Logger           *zap.Logger
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (app *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "oracle": "configured"}

	if !app.OracleConfigured {
		body["oracle"] = "not_configured"
	}

	if app.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.DB.Conn().PingContext(ctx); err != nil {
			app.Logger.Warn("health check database ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	writeJSON(w, status, body)
}

// detectContentType accepts video/* and octet-stream uploads, falling back to
// the file extension for anything else.
func detectContentType(header, filename string) (string, bool) {
	if strings.HasPrefix(header, "video/") {
		return header, true
	}
	if ct, ok := videoExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct, true
	}
	if header == "application/octet-stream" {
		return header, true
	}
	return "", false
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !app.OracleConfigured {
		writeError(w, http.StatusServiceUnavailable, "Analysis service is not configured. Set OPENAI_API_KEY.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing video file")
		return
	}
	defer file.Close()

	contentType, ok := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	if !ok {
		writeError(w, http.StatusBadRequest, "Only video files are allowed")
		return
	}

	session, err := app.Service.Start(r.Context(), header.Filename, file, storage.FileInfo{
		ContentType: contentType,
		Size:        header.Size,
	})
	if err != nil {
		app.Logger.Error("failed to start analysis", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save video")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     session.ID,
		"status": string(analysis.StatusRunning),
	})
}

func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := app.Service.Lookup(r.Context(), id)
	if errors.Is(err, analysis.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		app.Logger.Error("failed to look up analysis", zap.String("analysis_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load analysis")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (app *App) ResetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), resetTimeout)
	defer cancel()

	err := app.Service.Reset(ctx, id)
	switch {
	case errors.Is(err, analysis.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Analysis not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to reset analysis")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (app *App) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := app.Service.History(r.Context(), limit)
	if err != nil {
		app.Logger.Error("failed to list analyses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}
