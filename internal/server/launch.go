package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"outreach/internal/app"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/source"
)

const maxUploadBytes = 32 << 20

type launchHandler struct {
	launcher  *app.Launcher
	base      *config.Config
	uploadDir string
	runCtx    context.Context
	log       *zap.Logger
	load      func(path string, opts source.Options) ([]domain.TargetRecord, error)
}

// registerLaunch mounts POST {base}/campaigns directly on chi since the
// body is multipart/form-data.
func registerLaunch(r chi.Router, basePath string, h launchHandler) {
	r.Post(path.Join(basePath, "campaigns"), h.ServeHTTP)
}

func (h launchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart form", map[string]any{"error": err.Error()}))
		return
	}
	defer r.MultipartForm.RemoveAll()

	cfg, warnings, err := h.configFrom(r)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}

	file, hdr, err := r.FormFile("targets")
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "targets file is required", nil))
		return
	}
	defer file.Close()
	uploadPath, err := h.save(file)
	if err != nil {
		h.log.Error("saving uploaded list", zap.Error(err))
		respondStatusError(w, handleError(err))
		return
	}
	keep := false
	defer func() {
		if !keep {
			os.Remove(uploadPath)
		}
	}()

	targets, err := h.load(uploadPath, source.Options{
		Type:     cfg.Campaign.CSVType,
		Keywords: cfg.Campaign.FilterKeywords,
		Logger:   h.log,
	})
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	if len(targets) == 0 {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "no_targets", "the list has no usable targets", nil))
		return
	}

	run, err := h.launcher.Start(h.runCtx, app.Request{
		Config:     cfg,
		Targets:    targets,
		InputName:  hdr.Filename,
		UploadPath: uploadPath,
	})
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	keep = true
	fields := []zap.Field{zap.String("run_id", run.ID), zap.Int("targets", len(targets))}
	if p, ok := principalFromContext(r.Context()); ok {
		fields = append(fields, zap.String("launched_by", p.Subject))
	}
	h.log.Info("campaign launched", fields...)
	respondJSON(w, http.StatusAccepted, LaunchResponse{Run: run, Targets: len(targets), Warnings: warnings})
}

// configFrom overlays form fields on a copy of the base config.
func (h launchHandler) configFrom(r *http.Request) (*config.Config, []string, error) {
	cfg := h.base.Clone()
	form := func(key string) string { return strings.TrimSpace(r.FormValue(key)) }
	if v := form("context"); v != "" {
		cfg.Campaign.Context = v
	}
	if v := form("session_id"); v != "" {
		cfg.Messaging.SessionID = v
	}
	if v := form("proxy"); v != "" {
		cfg.Messaging.Proxy = v
	}
	if v := form("csv_type"); v != "" {
		cfg.Campaign.CSVType = v
	}
	if v := form("filter_keywords"); v != "" {
		cfg.Campaign.FilterKeywords = v
	}
	if v := form("max_messages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("invalid max_messages %q", v)
		}
		cfg.Campaign.MaxMessages = n
	}
	if v := form("base_delay"); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			return nil, nil, err
		}
		cfg.Campaign.BaseDelay = config.Duration(d)
	}
	warnings := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, nil, err
	}
	return cfg, warnings, nil
}

// parseDelay accepts integer seconds or a duration string.
func parseDelay(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid base_delay %q", v)
	}
	return d, nil
}

func (h launchHandler) save(src io.Reader) (string, error) {
	dir := h.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, uuid.NewString()+".csv")
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return dst, nil
}
