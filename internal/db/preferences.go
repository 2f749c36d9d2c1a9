package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/bidpilot/internal/types"
)

const preferenceColumns = `id, tenant_id, user_id, enabled, auto_scan, min_match_percentage,
	categories, target_skills, channels, push_subscription, phone_country_code,
	phone_number_enc, chat_instance_id, chat_token_enc, chat_phone_enc, created_at, updated_at`

// -----------------------------------------------------------------------------
// Alert Preference Methods
// -----------------------------------------------------------------------------

// UpsertPreference inserts or replaces the preference of (tenant, user).
// Encrypted fields are stored exactly as given.
func (db *DB) UpsertPreference(ctx context.Context, p *types.AlertPreference) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()

	categoriesJSON, err := json.Marshal(nonNil(p.Categories))
	if err != nil {
		return errors.Wrap(err, "failed to marshal categories")
	}
	skillsJSON, err := json.Marshal(nonNil(p.TargetSkills))
	if err != nil {
		return errors.Wrap(err, "failed to marshal target skills")
	}
	channels := p.Channels
	if channels == nil {
		channels = []types.Channel{}
	}
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return errors.Wrap(err, "failed to marshal channels")
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO alert_preferences (id, tenant_id, user_id, enabled, auto_scan, min_match_percentage,
		        categories, target_skills, channels, push_subscription, phone_country_code,
		        phone_number_enc, chat_instance_id, chat_token_enc, chat_phone_enc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		 ON CONFLICT (tenant_id, user_id) DO UPDATE SET
		        enabled = EXCLUDED.enabled,
		        auto_scan = EXCLUDED.auto_scan,
		        min_match_percentage = EXCLUDED.min_match_percentage,
		        categories = EXCLUDED.categories,
		        target_skills = EXCLUDED.target_skills,
		        channels = EXCLUDED.channels,
		        push_subscription = EXCLUDED.push_subscription,
		        phone_country_code = EXCLUDED.phone_country_code,
		        phone_number_enc = EXCLUDED.phone_number_enc,
		        chat_instance_id = EXCLUDED.chat_instance_id,
		        chat_token_enc = EXCLUDED.chat_token_enc,
		        chat_phone_enc = EXCLUDED.chat_phone_enc,
		        updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		p.ID, p.TenantID, p.UserID, p.Enabled, p.AutoScan, p.MinMatchPercentage,
		categoriesJSON, skillsJSON, channelsJSON, p.PushSubscription, p.PhoneCountryCode,
		p.PhoneNumberEnc, p.ChatInstanceID, p.ChatTokenEnc, p.ChatPhoneEnc, now,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to upsert preference")
	}
	return nil
}

// GetPreference returns the preference of (tenant, user), or nil when none exists
func (db *DB) GetPreference(ctx context.Context, tenantID, userID uuid.UUID) (*types.AlertPreference, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM alert_preferences WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	)
	p, err := scanPreference(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get preference")
	}
	return p, nil
}

// FindActivePreferencesForTenant returns every enabled preference of a tenant
func (db *DB) FindActivePreferencesForTenant(ctx context.Context, tenantID uuid.UUID) ([]types.AlertPreference, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+preferenceColumns+` FROM alert_preferences
		 WHERE tenant_id = $1 AND enabled = TRUE
		 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active preferences")
	}
	defer rows.Close()

	prefs := make([]types.AlertPreference, 0)
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan preference")
		}
		prefs = append(prefs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate preferences")
	}
	return prefs, nil
}

// ListAutoScanTenants returns tenants with at least one enabled auto-scan preference
func (db *DB) ListAutoScanTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT tenant_id FROM alert_preferences WHERE enabled = TRUE AND auto_scan = TRUE`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auto-scan tenants")
	}
	defer rows.Close()

	tenants := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan tenant id")
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func scanPreference(row pgx.Row) (*types.AlertPreference, error) {
	var p types.AlertPreference
	var categoriesJSON, skillsJSON, channelsJSON []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.UserID, &p.Enabled, &p.AutoScan, &p.MinMatchPercentage,
		&categoriesJSON, &skillsJSON, &channelsJSON, &p.PushSubscription, &p.PhoneCountryCode,
		&p.PhoneNumberEnc, &p.ChatInstanceID, &p.ChatTokenEnc, &p.ChatPhoneEnc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if categoriesJSON != nil {
		_ = json.Unmarshal(categoriesJSON, &p.Categories)
	}
	if skillsJSON != nil {
		_ = json.Unmarshal(skillsJSON, &p.TargetSkills)
	}
	if channelsJSON != nil {
		_ = json.Unmarshal(channelsJSON, &p.Channels)
	}
	return &p, nil
}
