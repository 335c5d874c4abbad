package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const recentLimit = 10

type processResponse struct {
	Success        bool    `json:"success"`
	Dirname        string  `json:"dirname"`
	FilePath       string  `json:"file_path"`
	ProcessingTime float64 `json:"processing_time_seconds,omitempty"`
	Cached         bool    `json:"cached,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type statusResponse struct {
	Status           string         `json:"status"`
	Uptime           string         `json:"uptime"`
	ProcessedCount   int            `json:"processed_count"`
	RecentProcessing []HistoryEntry `json:"recent_processing"`
}

type cleanupRequest struct {
	OlderThanDays *float64 `json:"older_than_days"`
}

type cleanupResponse struct {
	Success               bool     `json:"success"`
	DeletedCount          int      `json:"deleted_count"`
	Deleted               []string `json:"deleted"`
	RemovedHistoryEntries int      `json:"removed_history_entries"`
	Message               string   `json:"message"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body domain.ProcessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "No JSON data provided"})
		return
	}
	if strings.TrimSpace(body.Date) == "" || strings.TrimSpace(body.Lake) == "" {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required parameters: date or lake"})
		return
	}
	req, err := body.Parse()
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	key := req.Key()
	logger := s.logger.With("key", key)
	logger.Info("process request received", "date", body.Date, "lake", req.Lake)

	if hit, ok := s.cached(key); ok {
		logger.Info("using cached result")
		sharedobs.WriteJSON(w, http.StatusOK, processResponse{
			Success: true, Dirname: key, FilePath: hit.FilePath, Cached: true,
		})
		return
	}

	res, err := s.processor.Process(r.Context(), req.Time, req.Lake, 0)
	if err != nil {
		status, details := errorStatus(err)
		logger.Error("process request failed", "status", status, "error", err)
		sharedobs.WriteJSON(w, status, errorResponse{Error: err.Error(), Details: details})
		return
	}

	s.history.Add(HistoryEntry{
		Dirname:     key,
		Date:        req.Hour(),
		Lake:        req.Lake,
		ProcessedAt: time.Now().UTC(),
		FilePath:    res.Path,
	})
	elapsed := time.Since(start).Seconds()
	logger.Info("process request completed", "duration_seconds", elapsed)
	sharedobs.WriteJSON(w, http.StatusOK, processResponse{
		Success:        true,
		Dirname:        key,
		FilePath:       res.Path,
		ProcessingTime: elapsed,
	})
}

// cached reports a history hit whose output file is still on disk. Stale
// entries are dropped.
func (s *Server) cached(key string) (HistoryEntry, bool) {
	hit, ok := s.history.Get(key)
	if ok {
		if _, err := os.Stat(hit.FilePath); err != nil {
			s.history.Remove(key)
			ok = false
		}
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	s.metrics.HistoryLookups.WithLabelValues(result).Inc()
	return hit, ok
}

func errorStatus(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindConflict:
		return http.StatusConflict, "request is already in progress or its output already exists; download it instead"
	case domain.KindInvalidRequest:
		return http.StatusBadRequest, ""
	default:
		return http.StatusInternalServerError, "Error occurred during data processing"
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dirname := filepath.Base(filepath.Clean("/" + r.PathValue("dirname")))
	if !pipeline.ValidKey(dirname) {
		sharedobs.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}
	path := s.layout.OutputPath(dirname)
	s.logger.Info("download request", "path", path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("file not found", "path", path)
			sharedobs.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
			return
		}
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	name := dirname + "_in.nc"
	w.Header().Set("Content-Type", "application/x-netcdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, statusResponse{
		Status:           "running",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		ProcessedCount:   s.history.Len(),
		RecentProcessing: s.history.Recent(recentLimit),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}
	olderThan := s.retention
	if body.OlderThanDays != nil {
		if *body.OlderThanDays < 0 {
			sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "older_than_days must not be negative"})
			return
		}
		olderThan = time.Duration(*body.OlderThanDays * float64(24*time.Hour))
	}

	deleted, removed, err := s.Cleanup(olderThan)
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	days := olderThan.Hours() / 24
	sharedobs.WriteJSON(w, http.StatusOK, cleanupResponse{
		Success:               true,
		DeletedCount:          len(deleted),
		Deleted:               deleted,
		RemovedHistoryEntries: removed,
		Message: fmt.Sprintf("Deleted %d directories older than %g days and removed %d stale history entries",
			len(deleted), days, removed),
	})
}
