// Package notify delivers per-event Telegram notifications to the global
// and partner channels.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/foxzi/trackgate/internal/metrics"
	"github.com/foxzi/trackgate/internal/tenant"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	sendTimeout    = 10 * time.Second
)

// Notifier sends event notifications through the Telegram Bot API. A
// circuit breaker keeps a dead Telegram endpoint from adding latency to
// every tracked event.
type Notifier struct {
	logger  *slog.Logger
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	apiBase string
}

func New(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger.With("component", "notify"),
		client: &http.Client{Timeout: sendTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "telegram",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		apiBase: defaultAPIBase,
	}
}

// SetAPIBase overrides the Telegram endpoint, used in tests
func (n *Notifier) SetAPIBase(base string) {
	n.apiBase = base
}

// Event carries everything a notification message needs
type Event struct {
	Params   map[string]string
	ClickID  string
	ClientIP string
	Status   int
	Response string
}

// BuildMessage renders the notification text. Parameter lines are sorted
// by key so two identical events produce identical messages.
func BuildMessage(cfg *tenant.Config, ev *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PARTNER: %s\n", cfg.Name)

	keys := make([]string, 0, len(ev.Params))
	for k := range ev.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, ev.Params[k])
	}

	fmt.Fprintf(&b, "CLICKID: %s\n", ev.ClickID)
	fmt.Fprintf(&b, "IP: %s\n", ev.ClientIP)
	fmt.Fprintf(&b, "STATUS: %d\n", ev.Status)
	fmt.Fprintf(&b, "RESPONSE: %s", ev.Response)
	return b.String()
}

// PassesWhitelist reports whether a message may be sent under the
// partner's keyword whitelist. Matching is a case-insensitive substring
// test. A whitelist that is enabled but empty suppresses everything.
func PassesWhitelist(cfg *tenant.Config, message string) bool {
	if !cfg.TelegramWhitelistEnabled {
		return true
	}
	lower := strings.ToLower(message)
	for _, keyword := range cfg.TelegramWhitelistKeywords.Values {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// Notify fans an event out to every enabled channel. The keyword whitelist
// filters the global channel only; the partner channel always receives its
// own events. Delivery is best effort: failures are logged and swallowed,
// the caller never waits on a retry.
func (n *Notifier) Notify(cfg *tenant.Config, ev *Event) {
	message := BuildMessage(cfg, ev)

	if cfg.TelegramGloballyEnabled && cfg.TelegramEnabled &&
		cfg.TelegramBotToken != "" && cfg.TelegramChannelID != "" {
		if PassesWhitelist(cfg, message) {
			n.send(cfg.PartnerID, "global", cfg.TelegramBotToken, cfg.TelegramChannelID, message)
		} else {
			n.logger.Debug("global notification suppressed by keyword whitelist", "partner_id", cfg.PartnerID)
		}
	}

	if cfg.PartnerTelegramEnabled &&
		cfg.PartnerTelegramBotToken != "" && cfg.PartnerTelegramChannelID != "" {
		n.send(cfg.PartnerID, "partner", cfg.PartnerTelegramBotToken, cfg.PartnerTelegramChannelID, message)
	}
}

func (n *Notifier) send(partnerID, channel, botToken, chatID, message string) {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.sendMessage(botToken, chatID, message)
	})
	if err != nil {
		n.logger.Warn("telegram notification failed",
			"partner_id", partnerID,
			"channel", channel,
			"error", err)
		metrics.IncNotification(channel, "failed")
		return
	}
	metrics.IncNotification(channel, "ok")
	n.logger.Debug("telegram notification sent", "partner_id", partnerID, "channel", channel)
}

func (n *Notifier) sendMessage(botToken, chatID, message string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, botToken)

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", message)
	form.Set("parse_mode", "HTML")

	resp, err := n.client.PostForm(endpoint, form)
	if err != nil {
		return fmt.Errorf("failed to call telegram api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
