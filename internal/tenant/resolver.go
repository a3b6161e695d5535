// Package tenant resolves the effective per-partner configuration: global
// settings overlaid by the partner record, with serialized multi-valued
// fields decoded at the boundary.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/foxzi/trackgate/internal/store"
)

var (
	ErrInvalidPartnerID = errors.New("invalid partner id")
	ErrPartnerNotFound  = errors.New("partner not found")
)

var partnerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// Hard fallbacks when neither the partner record nor global settings
// provide a value.
const (
	DefaultForwardTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Config is the effective configuration for one partner: the merge of
// GlobalSettings and the partner record, partner values winning.
type Config struct {
	PartnerID    string
	Name         string
	TargetDomain string

	ClickIDKeys StringList
	SumKeys     StringList
	SumMapping  StringTable

	LoggingEnabled bool

	// Notification settings. Global channel creds come from global
	// settings; the partner channel carries its own.
	TelegramGloballyEnabled   bool
	TelegramEnabled           bool
	TelegramBotToken          string
	TelegramChannelID         string
	TelegramWhitelistEnabled  bool
	TelegramWhitelistKeywords StringList
	PartnerTelegramEnabled    bool
	PartnerTelegramBotToken   string
	PartnerTelegramChannelID  string

	IPWhitelistEnabled bool
	AllowedIPs         StringList

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string

	ForwardTimeout  time.Duration
	ConnectTimeout  time.Duration
	SSLVerify       bool
	FollowRedirects bool
}

// ExportConfigured reports whether the partner has a spreadsheet export
// destination set up.
func (c *Config) ExportConfigured() bool {
	return c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountJSON != ""
}

// Resolver builds effective configurations from the store
type Resolver struct {
	settings *store.SettingsRepository
	partners *store.PartnerRepository
}

func NewResolver(settings *store.SettingsRepository, partners *store.PartnerRepository) *Resolver {
	return &Resolver{settings: settings, partners: partners}
}

// Resolve validates the partner id, reads global settings and the partner
// record, and merges them. Pure read, no side effects.
func (r *Resolver) Resolve(partnerID string) (*Config, error) {
	if !partnerIDPattern.MatchString(partnerID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPartnerID, partnerID)
	}

	settings, err := r.settings.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read global settings: %w", err)
	}

	partner, err := r.partners.Get(partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read partner record: %w", err)
	}
	if partner == nil {
		return nil, fmt.Errorf("%w: %q", ErrPartnerNotFound, partnerID)
	}

	return Merge(settings, partner), nil
}

// Merge overlays a partner record onto global settings. Pure function.
func Merge(settings map[string]string, p *store.Partner) *Config {
	cfg := &Config{
		PartnerID:    p.ID,
		Name:         p.Name,
		TargetDomain: p.TargetDomain,

		ClickIDKeys: DecodeList(p.ClickIDKeys),
		SumKeys:     DecodeList(p.SumKeys),
		SumMapping:  DecodeTable(p.SumMapping),

		LoggingEnabled: p.LoggingEnabled,

		TelegramGloballyEnabled:   parseBool(settings["telegram_globally_enabled"], false),
		TelegramEnabled:           p.TelegramEnabled,
		TelegramBotToken:          settings["telegram_bot_token"],
		TelegramChannelID:         settings["telegram_channel_id"],
		TelegramWhitelistEnabled:  p.TelegramWhitelistEnabled,
		TelegramWhitelistKeywords: DecodeList(p.TelegramWhitelistKeywords),
		PartnerTelegramEnabled:    p.PartnerTelegramEnabled,
		PartnerTelegramBotToken:   p.PartnerTelegramBotToken,
		PartnerTelegramChannelID:  p.PartnerTelegramChannelID,

		IPWhitelistEnabled: p.IPWhitelistEnabled,
		AllowedIPs:         DecodeList(p.AllowedIPs),

		GoogleSpreadsheetID:      p.GoogleSpreadsheetID,
		GoogleSheetName:          p.GoogleSheetName,
		GoogleServiceAccountJSON: p.GoogleServiceAccountJSON,

		ForwardTimeout:  time.Duration(parseSeconds(settings["curl_timeout"], int(DefaultForwardTimeout/time.Second))) * time.Second,
		ConnectTimeout:  time.Duration(parseSeconds(settings["curl_connect_timeout"], int(DefaultConnectTimeout/time.Second))) * time.Second,
		SSLVerify:       parseBool(settings["curl_ssl_verify"], true),
		FollowRedirects: parseBool(settings["curl_followlocation"], true),
	}

	return cfg
}
