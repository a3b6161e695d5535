// Package pipeline orchestrates one tracked event end to end: rate limit,
// partner resolution, access guard, attribution, forwarding, and the
// best-effort tail of stats, notifications, and export enqueueing.
package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/trackgate/internal/attribution"
	"github.com/foxzi/trackgate/internal/forward"
	"github.com/foxzi/trackgate/internal/ipfilter"
	"github.com/foxzi/trackgate/internal/metrics"
	"github.com/foxzi/trackgate/internal/notify"
	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/ratelimit"
	"github.com/foxzi/trackgate/internal/store"
	"github.com/foxzi/trackgate/internal/tenant"
)

const (
	detailSnippetLen = 150
	exportSnippetLen = 50
)

// Outcome is a successfully forwarded event. Status and Body mirror the
// destination response verbatim.
type Outcome struct {
	EventID string
	Status  int
	Body    string
}

// Pipeline wires the stages together. Everything after the forward call is
// best effort: a stats, notification, or export failure is logged and the
// caller still gets the destination response.
type Pipeline struct {
	logger    *slog.Logger
	limiter   *ratelimit.Limiter
	resolver  *tenant.Resolver
	forwarder *forward.Forwarder
	notifier  *notify.Notifier
	stats     *store.StatsRepository
	exports   *queue.BoltStorage
}

func New(
	logger *slog.Logger,
	limiter *ratelimit.Limiter,
	resolver *tenant.Resolver,
	forwarder *forward.Forwarder,
	notifier *notify.Notifier,
	stats *store.StatsRepository,
	exports *queue.BoltStorage,
) *Pipeline {
	return &Pipeline{
		logger:    logger.With("component", "pipeline"),
		limiter:   limiter,
		resolver:  resolver,
		forwarder: forwarder,
		notifier:  notifier,
		stats:     stats,
		exports:   exports,
	}
}

// Handle processes one inbound event. params is the full query parameter
// set including the partner id key, which is stripped before attribution.
func (p *Pipeline) Handle(r *http.Request, partnerID string, params map[string]string) (*Outcome, *Error) {
	clientIP := ipfilter.ClientIP(r)

	// A nil limiter means rate limiting is switched off
	if p.limiter != nil {
		if res := p.limiter.Allow(clientIP); !res.Allowed {
			p.logger.Warn("rate limit exceeded", "ip", clientIP)
			metrics.IncRateLimitExceeded()
			return nil, rateLimited(res.RetryAfter)
		}
	}

	cfg, err := p.resolver.Resolve(partnerID)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidPartnerID):
			return nil, invalidInput("invalid partner id")
		case errors.Is(err, tenant.ErrPartnerNotFound):
			return nil, notFound("unknown partner")
		default:
			p.logger.Error("partner resolution failed", "partner_id", partnerID, "error", err)
			return nil, internalError("configuration unavailable")
		}
	}

	eventID := uuid.NewString()
	inboundURL := requestURL(r)
	logger := p.logger.With("partner_id", cfg.PartnerID, "event_id", eventID)

	inbound := make(map[string]string, len(params))
	for k, v := range params {
		if k == "pid" {
			continue
		}
		inbound[k] = v
	}

	guard := ipfilter.NewGuard(cfg.IPWhitelistEnabled, cfg.AllowedIPs.Values)
	if !guard.Allowed(clientIP) {
		logger.Warn("caller not on allow-list", "ip", clientIP)
		p.recordFailure(logger, cfg, eventID, inboundURL, "", "", "", nil, forbidden("access denied"))
		return nil, forbidden("access denied")
	}

	event, err := attribution.Extract(cfg, inbound)
	if err != nil {
		logger.Warn("attribution failed", "error", err)
		perr := invalidInput("missing click id")
		p.recordFailure(logger, cfg, eventID, inboundURL, "", "", "", nil, perr)
		return nil, perr
	}

	forwarded, mappedSum := attribution.ApplySumMapping(cfg, inbound, event.Sum)
	targetURL := forward.BuildTargetURL(cfg, forwarded)

	start := time.Now()
	result, err := p.forwarder.Forward(r, cfg, forwarded)
	metrics.ObserveForwardDuration(time.Since(start).Seconds())
	if err != nil {
		logger.Error("forward failed", "target", targetURL, "error", err)
		perr := upstreamUnavailable("destination unavailable")
		p.recordFailure(logger, cfg, eventID, inboundURL, event.ClickID, event.Sum, mappedSum, event.Extras, perr)
		metrics.IncEvent(cfg.PartnerID, "error")
		return nil, perr
	}

	logger.Info("event forwarded",
		"click_id", event.ClickID,
		"status", result.Status,
		"duration_ms", time.Since(start).Milliseconds())

	detail := &store.DetailStat{
		PartnerID:   cfg.PartnerID,
		Timestamp:   time.Now(),
		URL:         inboundURL,
		Status:      result.Status,
		ClickID:     event.ClickID,
		Response:    forward.Snippet(result.Body, detailSnippetLen),
		Sum:         event.Sum,
		SumMapping:  mappedSum,
		ExtraParams: encodeExtras(event.Extras),
		EventID:     eventID,
	}
	if err := p.stats.RecordResult(detail, true); err != nil {
		logger.Error("failed to record stats", "error", err)
	}

	p.notifier.Notify(cfg, &notify.Event{
		Params:   forwarded,
		ClickID:  event.ClickID,
		ClientIP: clientIP,
		Status:   result.Status,
		Response: forward.Snippet(result.Body, detailSnippetLen),
	})

	p.enqueueExport(logger, cfg, eventID, detail, clientIP)
	metrics.IncEvent(cfg.PartnerID, "success")

	return &Outcome{EventID: eventID, Status: result.Status, Body: result.Body}, nil
}

// recordFailure writes the error row for a terminal failure that happened
// after the partner was resolved. Stats problems are logged, never
// propagated.
func (p *Pipeline) recordFailure(logger *slog.Logger, cfg *tenant.Config, eventID, inboundURL, clickID, sum, mappedSum string, extras map[string]string, perr *Error) {
	detail := &store.DetailStat{
		PartnerID:   cfg.PartnerID,
		Timestamp:   time.Now(),
		URL:         inboundURL,
		Status:      perr.HTTPStatus,
		ClickID:     clickID,
		Response:    "Error: " + perr.Message,
		Sum:         sum,
		SumMapping:  mappedSum,
		ExtraParams: encodeExtras(extras),
		EventID:     eventID,
	}
	if err := p.stats.RecordResult(detail, false); err != nil {
		logger.Error("failed to record failure stats", "error", err)
	}
}

// enqueueExport hands the event to the durable export queue when the
// partner has spreadsheet logging set up. Never fails the response path.
func (p *Pipeline) enqueueExport(logger *slog.Logger, cfg *tenant.Config, eventID string, detail *store.DetailStat, clientIP string) {
	if !cfg.LoggingEnabled || !cfg.ExportConfigured() {
		return
	}

	columns := []string{"Date", "Partner", "ClickID", "Sum", "SumMapping", "Status", "Response", "IP", "EventID"}
	row := map[string]string{
		"Date":       detail.Timestamp.Format("2006-01-02 15:04:05"),
		"Partner":    cfg.Name,
		"ClickID":    detail.ClickID,
		"Sum":        detail.Sum,
		"SumMapping": detail.SumMapping,
		"Status":     strconv.Itoa(detail.Status),
		"Response":   forward.Snippet(detail.Response, exportSnippetLen),
		"IP":         clientIP,
		"EventID":    eventID,
	}

	job := &queue.ExportJob{
		PartnerID:       cfg.PartnerID,
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		Columns:         columns,
		Row:             row,
	}
	if err := p.exports.Enqueue(job); err != nil {
		logger.Error("failed to enqueue export", "error", err)
		return
	}
	metrics.IncExportEnqueued()
	logger.Debug("export enqueued", "job_id", job.ID)
}

// requestURL reconstructs the address the caller hit. Detail rows record
// the inbound URL, not the forwarded one, so admin search runs against
// what the partner actually sent.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func encodeExtras(extras map[string]string) string {
	if len(extras) == 0 {
		return "{}"
	}
	data, err := json.Marshal(extras)
	if err != nil {
		return "{}"
	}
	return string(data)
}
