package store

import "database/sql"

// PartnerRepository reads and writes partner records. The pipeline only
// reads; Save and Delete exist for the external administrative surface and
// for tests.
type PartnerRepository struct {
	db *sql.DB
}

func NewPartnerRepository(db *DB) *PartnerRepository {
	return &PartnerRepository{db: db.DB}
}

const partnerColumns = `
	id, name, COALESCE(notes, '') as notes, target_domain,
	COALESCE(clickid_keys, '') as clickid_keys,
	COALESCE(sum_keys, '') as sum_keys,
	COALESCE(sum_mapping, '') as sum_mapping,
	logging_enabled, telegram_enabled, telegram_whitelist_enabled,
	COALESCE(telegram_whitelist_keywords, '') as telegram_whitelist_keywords,
	ip_whitelist_enabled,
	COALESCE(allowed_ips, '') as allowed_ips,
	partner_telegram_enabled,
	COALESCE(partner_telegram_bot_token, '') as partner_telegram_bot_token,
	COALESCE(partner_telegram_channel_id, '') as partner_telegram_channel_id,
	COALESCE(google_spreadsheet_id, '') as google_spreadsheet_id,
	COALESCE(google_sheet_name, '') as google_sheet_name,
	COALESCE(google_service_account_json, '') as google_service_account_json,
	created_at`

func scanPartner(row interface{ Scan(...any) error }) (*Partner, error) {
	p := &Partner{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Notes, &p.TargetDomain,
		&p.ClickIDKeys, &p.SumKeys, &p.SumMapping,
		&p.LoggingEnabled, &p.TelegramEnabled, &p.TelegramWhitelistEnabled,
		&p.TelegramWhitelistKeywords,
		&p.IPWhitelistEnabled, &p.AllowedIPs,
		&p.PartnerTelegramEnabled, &p.PartnerTelegramBotToken, &p.PartnerTelegramChannelID,
		&p.GoogleSpreadsheetID, &p.GoogleSheetName, &p.GoogleServiceAccountJSON,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a partner by id, nil if not found
func (r *PartnerRepository) Get(id string) (*Partner, error) {
	row := r.db.QueryRow("SELECT "+partnerColumns+" FROM partners WHERE id = ?", id)
	p, err := scanPartner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns all partners ordered by id
func (r *PartnerRepository) List() ([]*Partner, error) {
	rows, err := r.db.Query("SELECT " + partnerColumns + " FROM partners ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	partners := []*Partner{}
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

// Save inserts or replaces a partner record
func (r *PartnerRepository) Save(p *Partner) error {
	_, err := r.db.Exec(`
		INSERT INTO partners (
			id, name, notes, target_domain, clickid_keys, sum_keys, sum_mapping,
			logging_enabled, telegram_enabled, telegram_whitelist_enabled,
			telegram_whitelist_keywords, ip_whitelist_enabled, allowed_ips,
			partner_telegram_enabled, partner_telegram_bot_token, partner_telegram_channel_id,
			google_spreadsheet_id, google_sheet_name, google_service_account_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			target_domain = excluded.target_domain,
			clickid_keys = excluded.clickid_keys,
			sum_keys = excluded.sum_keys,
			sum_mapping = excluded.sum_mapping,
			logging_enabled = excluded.logging_enabled,
			telegram_enabled = excluded.telegram_enabled,
			telegram_whitelist_enabled = excluded.telegram_whitelist_enabled,
			telegram_whitelist_keywords = excluded.telegram_whitelist_keywords,
			ip_whitelist_enabled = excluded.ip_whitelist_enabled,
			allowed_ips = excluded.allowed_ips,
			partner_telegram_enabled = excluded.partner_telegram_enabled,
			partner_telegram_bot_token = excluded.partner_telegram_bot_token,
			partner_telegram_channel_id = excluded.partner_telegram_channel_id,
			google_spreadsheet_id = excluded.google_spreadsheet_id,
			google_sheet_name = excluded.google_sheet_name,
			google_service_account_json = excluded.google_service_account_json`,
		p.ID, p.Name, p.Notes, p.TargetDomain, p.ClickIDKeys, p.SumKeys, p.SumMapping,
		p.LoggingEnabled, p.TelegramEnabled, p.TelegramWhitelistEnabled,
		p.TelegramWhitelistKeywords, p.IPWhitelistEnabled, p.AllowedIPs,
		p.PartnerTelegramEnabled, p.PartnerTelegramBotToken, p.PartnerTelegramChannelID,
		p.GoogleSpreadsheetID, p.GoogleSheetName, p.GoogleServiceAccountJSON,
	)
	return err
}

// Delete removes a partner; statistics rows cascade
func (r *PartnerRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM partners WHERE id = ?", id)
	return err
}
