package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"codeberg.org/lexicore/cohortsync/pkg/report"
	"go.uber.org/zap"
)

const prefix = "/api/v1"

// Manager is the part of controller.Manager the HTTP API drives.
type Manager interface {
	TriggerReconciliation(opts controller.Options) error
	NotifyLogin(username string) error
	Statuses() []controller.Status
	LastResult() *controller.PassResult
}

func SetupRoutes(mux *http.ServeMux, mgr Manager, healthCheck bool, logger *zap.Logger) {
	if healthCheck {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
	}

	mux.HandleFunc(prefix+"/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, mgr.Statuses(), logger)
	})

	mux.HandleFunc(prefix+"/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		force, _ := strconv.ParseBool(r.URL.Query().Get("forceUnsubscribe"))
		logger.Info("Manual reconciliation triggered",
			zap.Bool("force_unsubscribe", force),
			zap.String("remote_addr", r.RemoteAddr))

		err := mgr.TriggerReconciliation(controller.Options{ForceUnsubscribe: force})
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"}, logger)
		case errors.Is(err, controller.ErrAlreadyQueued):
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already queued"}, logger)
		default:
			logger.Error("Failed to trigger reconciliation", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  err.Error(),
			}, logger)
		}
	})

	mux.HandleFunc(prefix+"/users/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, prefix+"/users/")
		parts := strings.Split(path, "/")

		if len(parts) != 2 || parts[1] != "sync" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		username := strings.ToLower(strings.TrimSpace(parts[0]))
		if username == "" {
			http.Error(w, "Username required", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := mgr.NotifyLogin(username); err != nil {
			logger.Warn("Failed to queue login sync", zap.String("user", username), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  err.Error(),
			}, logger)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "user": username}, logger)
	})

	mux.HandleFunc(prefix+"/passes/last", func(w http.ResponseWriter, r *http.Request) {
		result := mgr.LastResult()
		if result == nil {
			http.Error(w, "No pass has run yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, result, logger)
	})

	mux.HandleFunc(prefix+"/passes/last/report.xlsx", func(w http.ResponseWriter, r *http.Request) {
		result := mgr.LastResult()
		if result == nil {
			http.Error(w, "No pass has run yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="cohortsync-`+result.ID+`.xlsx"`)
		if err := report.ExportExcel(w, result); err != nil {
			logger.Error("Failed to export report", zap.Error(err))
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
