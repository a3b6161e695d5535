package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/store"
)

// QueueStatsResponse is the response for GET /api/v1/queue
type QueueStatsResponse struct {
	Stats *queue.QueueStats `json:"stats"`
}

// PartnerPayload is the wire form of a partner record. Multi-valued fields
// stay serialized JSON strings, exactly as stored.
type PartnerPayload struct {
	ID                        string    `json:"id"`
	Name                      string    `json:"name"`
	Notes                     string    `json:"notes,omitempty"`
	TargetDomain              string    `json:"target_domain"`
	ClickIDKeys               string    `json:"clickid_keys"`
	SumKeys                   string    `json:"sum_keys"`
	SumMapping                string    `json:"sum_mapping"`
	LoggingEnabled            bool      `json:"logging_enabled"`
	TelegramEnabled           bool      `json:"telegram_enabled"`
	TelegramWhitelistEnabled  bool      `json:"telegram_whitelist_enabled"`
	TelegramWhitelistKeywords string    `json:"telegram_whitelist_keywords"`
	IPWhitelistEnabled        bool      `json:"ip_whitelist_enabled"`
	AllowedIPs                string    `json:"allowed_ips"`
	PartnerTelegramEnabled    bool      `json:"partner_telegram_enabled"`
	PartnerTelegramBotToken   string    `json:"partner_telegram_bot_token,omitempty"`
	PartnerTelegramChannelID  string    `json:"partner_telegram_channel_id,omitempty"`
	GoogleSpreadsheetID       string    `json:"google_spreadsheet_id,omitempty"`
	GoogleSheetName           string    `json:"google_sheet_name,omitempty"`
	GoogleServiceAccountJSON  string    `json:"google_service_account_json,omitempty"`
	CreatedAt                 time.Time `json:"created_at,omitempty"`
}

func toPayload(p *store.Partner) *PartnerPayload {
	return &PartnerPayload{
		ID:                        p.ID,
		Name:                      p.Name,
		Notes:                     p.Notes,
		TargetDomain:              p.TargetDomain,
		ClickIDKeys:               p.ClickIDKeys,
		SumKeys:                   p.SumKeys,
		SumMapping:                p.SumMapping,
		LoggingEnabled:            p.LoggingEnabled,
		TelegramEnabled:           p.TelegramEnabled,
		TelegramWhitelistEnabled:  p.TelegramWhitelistEnabled,
		TelegramWhitelistKeywords: p.TelegramWhitelistKeywords,
		IPWhitelistEnabled:        p.IPWhitelistEnabled,
		AllowedIPs:                p.AllowedIPs,
		PartnerTelegramEnabled:    p.PartnerTelegramEnabled,
		PartnerTelegramBotToken:   p.PartnerTelegramBotToken,
		PartnerTelegramChannelID:  p.PartnerTelegramChannelID,
		GoogleSpreadsheetID:       p.GoogleSpreadsheetID,
		GoogleSheetName:           p.GoogleSheetName,
		GoogleServiceAccountJSON:  p.GoogleServiceAccountJSON,
		CreatedAt:                 p.CreatedAt,
	}
}

func (pp *PartnerPayload) toPartner(id string) *store.Partner {
	return &store.Partner{
		ID:                        id,
		Name:                      pp.Name,
		Notes:                     pp.Notes,
		TargetDomain:              pp.TargetDomain,
		ClickIDKeys:               pp.ClickIDKeys,
		SumKeys:                   pp.SumKeys,
		SumMapping:                pp.SumMapping,
		LoggingEnabled:            pp.LoggingEnabled,
		TelegramEnabled:           pp.TelegramEnabled,
		TelegramWhitelistEnabled:  pp.TelegramWhitelistEnabled,
		TelegramWhitelistKeywords: pp.TelegramWhitelistKeywords,
		IPWhitelistEnabled:        pp.IPWhitelistEnabled,
		AllowedIPs:                pp.AllowedIPs,
		PartnerTelegramEnabled:    pp.PartnerTelegramEnabled,
		PartnerTelegramBotToken:   pp.PartnerTelegramBotToken,
		PartnerTelegramChannelID:  pp.PartnerTelegramChannelID,
		GoogleSpreadsheetID:       pp.GoogleSpreadsheetID,
		GoogleSheetName:           pp.GoogleSheetName,
		GoogleServiceAccountJSON:  pp.GoogleServiceAccountJSON,
	}
}

// Queue handlers

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.exports.Stats()
	if err != nil {
		s.logger.Error("failed to read queue stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	s.sendJSON(w, http.StatusOK, QueueStatsResponse{Stats: stats})
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaging(r, 50)

	jobs, err := s.exports.List(limit, offset)
	if err != nil {
		s.logger.Error("failed to list queue jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*queue.ExportJob{}
	}
	s.sendJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaging(r, 50)

	jobs, err := s.exports.ListQuarantine(limit, offset)
	if err != nil {
		s.logger.Error("failed to list quarantine", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list quarantine")
		return
	}
	if jobs == nil {
		jobs = []*queue.QuarantinedJob{}
	}
	s.sendJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleQuarantineRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.exports.RetryFromQuarantine(id); err != nil {
		s.logger.Warn("quarantine retry failed", "job_id", id, "error", err)
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": id})
}

func (s *Server) handleQuarantineDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.exports.DeleteFromQuarantine(id); err != nil {
		s.logger.Error("quarantine delete failed", "job_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// Stats handlers

func (s *Server) handleStatsSummaryAll(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.stats.SummaryAll()
	if err != nil {
		s.logger.Error("failed to read summaries", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	if summaries == nil {
		summaries = []store.SummaryStat{}
	}
	s.sendJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")

	summary, err := s.stats.Summary(partnerID)
	if err != nil {
		s.logger.Error("failed to read summary", "partner_id", partnerID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatsDetails(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	query := r.URL.Query()

	filter := store.DetailFilter{Search: query.Get("search")}
	if v := query.Get("status"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	if v := query.Get("start_date"); v != "" {
		start, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid start_date, want YYYY-MM-DD")
			return
		}
		filter.StartDate = start
	}
	if v := query.Get("end_date"); v != "" {
		end, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid end_date, want YYYY-MM-DD")
			return
		}
		// Inclusive day bound
		filter.EndDate = end.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, filter.Offset = parsePaging(r, 100)

	details, err := s.stats.ListDetail(partnerID, filter)
	if err != nil {
		s.logger.Error("failed to list details", "partner_id", partnerID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	if details == nil {
		details = []store.DetailStat{}
	}
	s.sendJSON(w, http.StatusOK, details)
}

func (s *Server) handleStatsClear(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")

	if err := s.stats.ClearPartner(partnerID); err != nil {
		s.logger.Error("failed to clear stats", "partner_id", partnerID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clear stats")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "cleared", "partner_id": partnerID})
}

// Partner handlers

func (s *Server) handlePartnerList(w http.ResponseWriter, r *http.Request) {
	partners, err := s.partners.List()
	if err != nil {
		s.logger.Error("failed to list partners", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list partners")
		return
	}

	payloads := make([]*PartnerPayload, 0, len(partners))
	for _, p := range partners {
		payloads = append(payloads, toPayload(p))
	}
	s.sendJSON(w, http.StatusOK, payloads)
}

func (s *Server) handlePartnerGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	partner, err := s.partners.Get(id)
	if err != nil {
		s.logger.Error("failed to read partner", "partner_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read partner")
		return
	}
	if partner == nil {
		s.sendError(w, http.StatusNotFound, "Partner not found")
		return
	}
	s.sendJSON(w, http.StatusOK, toPayload(partner))
}

func (s *Server) handlePartnerSave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var payload PartnerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.Name == "" || payload.TargetDomain == "" {
		s.sendError(w, http.StatusBadRequest, "name and target_domain are required")
		return
	}

	if err := s.partners.Save(payload.toPartner(id)); err != nil {
		s.logger.Error("failed to save partner", "partner_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save partner")
		return
	}

	s.logger.Info("partner saved", "partner_id", id)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "saved", "id": id})
}

func (s *Server) handlePartnerDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.partners.Delete(id); err != nil {
		s.logger.Error("failed to delete partner", "partner_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete partner")
		return
	}

	s.logger.Info("partner deleted", "partner_id", id)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// Settings handlers

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.GetAll()
	if err != nil {
		s.logger.Error("failed to read settings", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	s.sendJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.settings.Set(key, body.Value); err != nil {
		s.logger.Error("failed to save setting", "key", key, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save setting")
		return
	}

	s.logger.Info("setting saved", "key", key)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "saved", "key": key})
}

func parsePaging(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
