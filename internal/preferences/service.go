// Package preferences manages users' alert preferences. Phone numbers and
// chat credentials are encrypted before they reach the store and are only
// decrypted on explicit request.
package preferences

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/types"
)

var (
	// ErrInvalid marks a rejected preference update
	ErrInvalid = errors.New("invalid alert preference")
	// ErrSecretsUnavailable is returned when a secret must be stored or
	// revealed but no secrets key is configured
	ErrSecretsUnavailable = errors.New("secrets key not configured")
)

// Store is the persistence the service needs
type Store interface {
	UpsertPreference(ctx context.Context, p *types.AlertPreference) error
	GetPreference(ctx context.Context, tenantID, userID uuid.UUID) (*types.AlertPreference, error)
}

// Sealer encrypts and decrypts secrets. *secrets.Box implements it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Service validates and stores alert preferences
type Service struct {
	store  Store
	sealer Sealer
	log    *zap.SugaredLogger
}

// NewService creates a Service. sealer may be nil, in which case updates
// that carry secrets are rejected.
func NewService(store Store, sealer Sealer, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, sealer: sealer, log: log.Named("preferences")}
}

// Upsert validates req and replaces the user's preference
func (s *Service) Upsert(ctx context.Context, tenantID, userID uuid.UUID, req types.UpdatePreferenceRequest) (*types.AlertPreference, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "validation failed"), ErrInvalid)
	}

	existing, err := s.store.GetPreference(ctx, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load preference")
	}

	pref := &types.AlertPreference{
		TenantID:           tenantID,
		UserID:             userID,
		Enabled:            req.Enabled,
		AutoScan:           req.AutoScan,
		MinMatchPercentage: req.MinMatchPercentage,
		Categories:         trimAll(req.Categories),
		TargetSkills:       trimAll(req.TargetSkills),
		Channels:           uniqueChannels(req.Channels),
		PushSubscription:   strings.TrimSpace(req.PushSubscription),
		PhoneCountryCode:   strings.TrimSpace(req.PhoneCountryCode),
		ChatInstanceID:     strings.TrimSpace(req.ChatInstanceID),
	}
	if existing != nil {
		pref.PhoneNumberEnc = existing.PhoneNumberEnc
		pref.ChatTokenEnc = existing.ChatTokenEnc
		pref.ChatPhoneEnc = existing.ChatPhoneEnc
	}

	if pref.PushSubscription != "" {
		if _, err := channels.ParsePushSubscription(pref.PushSubscription); err != nil {
			return nil, errors.Mark(err, ErrInvalid)
		}
	}

	if req.PhoneNumber != nil {
		if pref.PhoneNumberEnc, err = s.sealPhone(pref.PhoneCountryCode, *req.PhoneNumber); err != nil {
			return nil, errors.Wrap(err, "phone_number")
		}
	}
	if req.ChatPhone != nil {
		if pref.ChatPhoneEnc, err = s.sealPhone(pref.PhoneCountryCode, *req.ChatPhone); err != nil {
			return nil, errors.Wrap(err, "chat_phone")
		}
	}
	if req.ChatToken != nil {
		if pref.ChatTokenEnc, err = s.seal(strings.TrimSpace(*req.ChatToken)); err != nil {
			return nil, errors.Wrap(err, "chat_token")
		}
	}

	if err := s.store.UpsertPreference(ctx, pref); err != nil {
		return nil, errors.Wrap(err, "failed to save preference")
	}

	s.log.Infow("Alert preference updated",
		"tenant_id", tenantID,
		"user_id", userID,
		"enabled", pref.Enabled,
		"channels", pref.Channels,
		"min_match_percentage", pref.MinMatchPercentage)
	return pref, nil
}

// Get returns the stored preference with secrets still encrypted, or nil
func (s *Service) Get(ctx context.Context, tenantID, userID uuid.UUID) (*types.AlertPreference, error) {
	return s.store.GetPreference(ctx, tenantID, userID)
}

// View returns the preference with masked phone numbers, or nil
func (s *Service) View(ctx context.Context, tenantID, userID uuid.UUID) (*types.PreferenceView, error) {
	pref, err := s.store.GetPreference(ctx, tenantID, userID)
	if err != nil || pref == nil {
		return nil, err
	}

	view := &types.PreferenceView{AlertPreference: *pref, ChatTokenSet: pref.ChatTokenEnc != ""}
	if s.sealer == nil {
		return view, nil
	}
	if phone, err := s.sealer.Decrypt(pref.PhoneNumberEnc); err == nil {
		view.PhoneNumberMasked = Mask(phone)
	} else {
		s.log.Warnw("Failed to decrypt phone number", "user_id", userID, "error", err)
	}
	if phone, err := s.sealer.Decrypt(pref.ChatPhoneEnc); err == nil {
		view.ChatPhoneMasked = Mask(phone)
	} else {
		s.log.Warnw("Failed to decrypt chat phone", "user_id", userID, "error", err)
	}
	return view, nil
}

// Reveal decrypts the user's stored credentials
func (s *Service) Reveal(ctx context.Context, tenantID, userID uuid.UUID) (*types.PreferenceSecrets, error) {
	pref, err := s.store.GetPreference(ctx, tenantID, userID)
	if err != nil || pref == nil {
		return nil, err
	}
	if s.sealer == nil {
		return nil, ErrSecretsUnavailable
	}

	var out types.PreferenceSecrets
	if out.PhoneNumber, err = s.sealer.Decrypt(pref.PhoneNumberEnc); err != nil {
		return nil, errors.Wrap(err, "phone_number")
	}
	if out.ChatToken, err = s.sealer.Decrypt(pref.ChatTokenEnc); err != nil {
		return nil, errors.Wrap(err, "chat_token")
	}
	if out.ChatPhone, err = s.sealer.Decrypt(pref.ChatPhoneEnc); err != nil {
		return nil, errors.Wrap(err, "chat_phone")
	}
	return &out, nil
}

// sealPhone checks that number can be dialled before encrypting it as given
func (s *Service) sealPhone(countryCode, number string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", nil
	}
	if _, err := notify.FormatPhone(countryCode, number); err != nil {
		return "", errors.Mark(err, ErrInvalid)
	}
	return s.seal(number)
}

func (s *Service) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if s.sealer == nil {
		return "", ErrSecretsUnavailable
	}
	return s.sealer.Encrypt(plaintext)
}

// Mask keeps the last four digits of a phone number
func Mask(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// uniqueChannels removes duplicates and always includes IN_APP, which every
// match is delivered to
func uniqueChannels(chs []types.Channel) []types.Channel {
	out := []types.Channel{types.ChannelInApp}
	seen := map[types.Channel]bool{types.ChannelInApp: true}
	for _, ch := range chs {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
