package store

import "time"

// Partner is a raw partner record as stored. Multi-valued columns
// (clickid_keys, sum_keys, sum_mapping, telegram_whitelist_keywords,
// allowed_ips) hold serialized JSON and are decoded by the tenant resolver.
type Partner struct {
	ID                        string
	Name                      string
	Notes                     string
	TargetDomain              string
	ClickIDKeys               string
	SumKeys                   string
	SumMapping                string
	LoggingEnabled            bool
	TelegramEnabled           bool
	TelegramWhitelistEnabled  bool
	TelegramWhitelistKeywords string
	IPWhitelistEnabled        bool
	AllowedIPs                string
	PartnerTelegramEnabled    bool
	PartnerTelegramBotToken   string
	PartnerTelegramChannelID  string
	GoogleSpreadsheetID       string
	GoogleSheetName           string
	GoogleServiceAccountJSON  string
	CreatedAt                 time.Time
}

// SummaryStat holds per-partner aggregate counters.
// total_requests == successful_redirects + errors at all times.
type SummaryStat struct {
	PartnerID           string `json:"partner_id"`
	TotalRequests       int64  `json:"total_requests"`
	SuccessfulRedirects int64  `json:"successful_redirects"`
	Errors              int64  `json:"errors"`
}

// DetailStat is one append-only per-event record
type DetailStat struct {
	StatID      int64     `json:"stat_id"`
	PartnerID   string    `json:"partner_id"`
	Timestamp   time.Time `json:"timestamp"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ClickID     string    `json:"click_id"`
	Response    string    `json:"response"`
	Sum         string    `json:"sum"`
	SumMapping  string    `json:"sum_mapping"`
	ExtraParams string    `json:"extra_params"` // JSON object
	EventID     string    `json:"event_id"`
}

// DetailFilter holds filter options for listing detail rows.
//
// Search supports three forms: the literal "EMPTY" matches rows with an
// empty click id, URL, or extra params; "key:value" restricts the match to
// one column (click_id, url, or extra); anything else is free text across
// all three columns.
type DetailFilter struct {
	Search    string
	Status    int // 0 = any
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}
