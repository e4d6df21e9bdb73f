package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
	"github.com/SimplyPrint/card-gateway/internal/service"
	"github.com/SimplyPrint/card-gateway/internal/settings"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, VersionInfo())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.health(r.Context()))
}

// health lists readers as a basic liveness check of the driver.
func (s *Server) health(ctx context.Context) map[string]any {
	res := s.dispatcher.Execute(ctx, driver.ListReaders())
	readerCount := 0
	if n, ok := res.Payload["count"]; ok {
		readerCount = gateway.IntOrDefault(n, 0)
	} else if list, ok := res.Payload["readers"].([]any); ok {
		readerCount = len(list)
	}

	out := map[string]any{
		"status":        "ok",
		"version":       Version,
		"readerCount":   readerCount,
		"driverOk":      res.Success,
		"historyCount":  s.dispatcher.History().Len(),
		"clients":       s.hub.ClientCount(),
		"sentryEnabled": logging.SentryEnabled(),
	}
	if !res.Success {
		out["driverError"] = res.Message
	}
	return out
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.shutdown == nil {
		unavailable(w, "shutdown")
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "shutting down",
	})

	time.AfterFunc(shutdownDelay, s.shutdown)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// Limit (default 100, max 1000)
	limit := 100
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, 1000)
		}
	}

	var minLevel *logging.Level
	if levelStr := query.Get("level"); levelStr != "" {
		if l, ok := logging.ParseLevel(levelStr); ok {
			minLevel = &l
		}
	}

	var category *logging.Category
	if catStr := query.Get("category"); catStr != "" {
		c := logging.Category(catStr)
		category = &c
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries": logging.Get().GetEntries(limit, minLevel, category),
		"stats":   logging.Get().Stats(),
	})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	logging.Get().Clear()
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "logs cleared",
	})
}

func (s *Server) handleCrashes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, 100)
		}
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

func settingsView(st settings.Settings) map[string]any {
	var reader any
	if st.OperationalReader != nil {
		reader = *st.OperationalReader
	}
	return map[string]any{
		"crashReporting":    st.CrashReporting,
		"operationalReader": reader,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		unavailable(w, "settings")
		return
	}
	respondJSON(w, http.StatusOK, settingsView(s.settings.Get()))
}

// handleUpdateSettings applies the fields present in the body. An explicit
// null operationalReader unpins the reader.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		unavailable(w, "settings")
		return
	}

	var req struct {
		CrashReporting    *bool           `json:"crashReporting"`
		OperationalReader json.RawMessage `json:"operationalReader"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	if req.CrashReporting != nil {
		if err := s.settings.SetCrashReporting(*req.CrashReporting); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save settings: " + err.Error(),
			})
			return
		}
	}

	if len(req.OperationalReader) > 0 {
		var idx *int
		if !bytes.Equal(bytes.TrimSpace(req.OperationalReader), []byte("null")) {
			var n int
			if err := json.Unmarshal(req.OperationalReader, &n); err != nil {
				respondJSON(w, http.StatusBadRequest, map[string]string{
					"error": "operationalReader must be an integer or null",
				})
				return
			}
			idx = &n
		}
		if err := s.settings.SetOperationalReader(idx); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, settings.ErrInvalidReader) {
				status = http.StatusBadRequest
			}
			respondJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		logging.Info(logging.CatSystem, "Operational reader updated", map[string]any{
			"reader": s.settings.ReaderIndex(),
		})
	}

	out := settingsView(s.settings.Get())
	out["message"] = "Settings updated. Crash reporting changes take effect after a restart."
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAutostartStatus(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		unavailable(w, "auto-start")
		return
	}
	status, _ := s.service.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled": s.service.IsInstalled(),
		"status":  status,
	})
}

func (s *Server) handleEnableAutostart(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		unavailable(w, "auto-start")
		return
	}

	err := s.service.Install()
	switch {
	case errors.Is(err, service.ErrAlreadyInstalled):
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "auto-start already enabled"})
	case err != nil:
		logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
			"error": err.Error(),
		})
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		logging.Info(logging.CatSystem, "Auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "auto-start enabled"})
	}
}

func (s *Server) handleDisableAutostart(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		unavailable(w, "auto-start")
		return
	}

	err := s.service.Uninstall()
	switch {
	case errors.Is(err, service.ErrNotInstalled):
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "auto-start already disabled"})
	case err != nil:
		logging.Error(logging.CatSystem, "Failed to disable auto-start", map[string]any{
			"error": err.Error(),
		})
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		logging.Info(logging.CatSystem, "Auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "auto-start disabled"})
	}
}
