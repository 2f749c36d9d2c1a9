// Package notify evaluates job match alerts against every active user
// preference of a tenant and fans each qualifying alert out to the user's
// notification channels.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/db"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/types"
)

const (
	DefaultConcurrency = 3
	DefaultSendTimeout = 15 * time.Second
)

// Store is the persistence the engine needs
type Store interface {
	FindActivePreferencesForTenant(ctx context.Context, tenantID uuid.UUID) ([]types.AlertPreference, error)
	CountSentNotifications(ctx context.Context, tenantID, userID, jobID uuid.UUID) (int, error)
	CreateNotificationLog(ctx context.Context, e *types.NotificationLogEntry) error
}

// Decrypter opens secrets stored on a preference. *secrets.Box implements it.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Options tunes the engine
type Options struct {
	// Concurrency bounds how many users are evaluated at once
	Concurrency int
	// SendTimeout bounds a single provider send
	SendTimeout time.Duration
}

// Outcome summarises what happened for one user
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeFailed           Outcome = "failed"
	OutcomeBelowThreshold   Outcome = "below_threshold"
	OutcomeCategoryMismatch Outcome = "category_mismatch"
	OutcomeAlreadyNotified  Outcome = "already_notified"
	OutcomeError            Outcome = "error"
)

// UserResult is the evaluation result for one preference
type UserResult struct {
	UserID  uuid.UUID
	Outcome Outcome
	Results []channels.Result
	// Duplicates lists channels whose successful send lost the race against
	// an earlier sent log row for the same user and job
	Duplicates []types.Channel
}

// Summary aggregates one ProcessJobMatchAlerts call
type Summary struct {
	CorrelationID string
	Evaluated     int
	Notified      int
	Skipped       int
	Errored       int
	SendsOK       int
	SendsFailed   int
	SendsDup      int
	Users         []UserResult
}

// Engine is the notification engine
type Engine struct {
	store    Store
	registry *channels.Registry
	secrets  Decrypter
	opts     Options
	log      *zap.SugaredLogger
}

// NewEngine creates an engine. secrets may be nil when no preference stores
// encrypted credentials; sends needing them then fail.
func NewEngine(store Store, registry *channels.Registry, secrets Decrypter, opts Options, log *zap.SugaredLogger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if registry == nil {
		registry = channels.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		store:    store,
		registry: registry,
		secrets:  secrets,
		opts:     opts,
		log:      log.Named("notify"),
	}
}

// ProcessJobMatchAlerts evaluates alert for every active preference of the
// tenant. Only a failure to load preferences is returned; per-user failures
// are recorded in the summary and never abort the other users.
func (e *Engine) ProcessJobMatchAlerts(ctx context.Context, tenantID uuid.UUID, alert types.JobMatchAlert) (*Summary, error) {
	prefs, err := e.store.FindActivePreferencesForTenant(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load alert preferences")
	}

	correlationID := events.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = events.WithCorrelationID(ctx, correlationID)

	results := make([]UserResult, len(prefs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range prefs {
		pref := prefs[i]
		g.Go(func() error {
			results[i] = e.evaluateSafely(ctx, tenantID, alert, pref)
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{CorrelationID: correlationID, Evaluated: len(prefs), Users: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDelivered:
			summary.Notified++
		case OutcomeError:
			summary.Errored++
		case OutcomeFailed:
		default:
			summary.Skipped++
		}
		for _, res := range r.Results {
			if res.Success {
				summary.SendsOK++
			} else {
				summary.SendsFailed++
			}
		}
		summary.SendsOK -= len(r.Duplicates)
		summary.SendsDup += len(r.Duplicates)
	}

	e.log.Infow("Processed job match alert",
		"tenant_id", tenantID,
		"job_id", alert.JobID,
		"fit_score", alert.FitScore,
		"correlation_id", correlationID,
		"evaluated", summary.Evaluated,
		"notified", summary.Notified,
		"skipped", summary.Skipped,
		"sends_failed", summary.SendsFailed)

	return summary, nil
}

func (e *Engine) evaluateSafely(ctx context.Context, tenantID uuid.UUID, alert types.JobMatchAlert, pref types.AlertPreference) (res UserResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Panic while evaluating preference", "user_id", pref.UserID, "job_id", alert.JobID, "panic", r)
			res = UserResult{UserID: pref.UserID, Outcome: OutcomeError}
		}
	}()
	return e.evaluateAndNotify(ctx, tenantID, alert, pref)
}

func (e *Engine) evaluateAndNotify(ctx context.Context, tenantID uuid.UUID, alert types.JobMatchAlert, pref types.AlertPreference) UserResult {
	res := UserResult{UserID: pref.UserID}
	log := e.log.With("user_id", pref.UserID, "job_id", alert.JobID)

	if alert.FitScore < pref.MinMatchPercentage {
		log.Debugw("Below threshold", "fit_score", alert.FitScore, "min", pref.MinMatchPercentage)
		res.Outcome = OutcomeBelowThreshold
		return res
	}

	if !MatchesCategory(pref.Categories, alert.Category) {
		log.Debugw("Category not in allow-list", "category", alert.Category)
		res.Outcome = OutcomeCategoryMismatch
		return res
	}

	if len(pref.TargetSkills) > 0 {
		matched, ratio := SkillOverlap(pref.TargetSkills, append(append([]string{}, alert.JobSkills...), alert.MatchedSkills...))
		log.Debugw("Skill overlap", "matched", matched, "ratio", ratio)
	}

	sent, err := e.store.CountSentNotifications(ctx, tenantID, pref.UserID, alert.JobID)
	if err != nil {
		log.Errorw("Failed to check notification history", "error", err)
		res.Outcome = OutcomeError
		return res
	}
	if sent > 0 {
		log.Debugw("Already notified", "sent", sent)
		res.Outcome = OutcomeAlreadyNotified
		return res
	}

	payload := BuildPayload(tenantID, pref.UserID, alert)
	targets := e.targetChannels(pref)

	res.Results = make([]channels.Result, len(targets))
	duplicate := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Results[i], duplicate[i] = e.sendToChannel(ctx, pref, ch, payload)
		}()
	}
	wg.Wait()

	delivered := false
	for i, r := range res.Results {
		switch {
		case duplicate[i]:
			res.Duplicates = append(res.Duplicates, r.Channel)
		case r.Success:
			delivered = true
		}
	}
	switch {
	case delivered:
		res.Outcome = OutcomeDelivered
	case len(res.Duplicates) > 0:
		log.Infow("Concurrent evaluation already notified user", "channels", res.Duplicates)
		res.Outcome = OutcomeAlreadyNotified
	default:
		res.Outcome = OutcomeFailed
	}
	return res
}

// targetChannels picks the channels to dispatch to. IN_APP is always
// included; the others need to be enabled and minimally configured.
func (e *Engine) targetChannels(pref types.AlertPreference) []types.Channel {
	out := []types.Channel{types.ChannelInApp}
	if pref.HasChannel(types.ChannelDesktop) && pref.PushSubscription != "" {
		out = append(out, types.ChannelDesktop)
	}
	if pref.HasChannel(types.ChannelSMS) && pref.PhoneNumberEnc != "" {
		out = append(out, types.ChannelSMS)
	}
	if pref.HasChannel(types.ChannelChat) && pref.ChatInstanceID != "" && pref.ChatTokenEnc != "" && pref.ChatPhoneEnc != "" {
		out = append(out, types.ChannelChat)
	}
	return out
}

// sendToChannel performs one send and always records it in the
// notification log, including when the provider panics. duplicate reports
// that the log already held a sent row for the user, job and channel.
func (e *Engine) sendToChannel(ctx context.Context, pref types.AlertPreference, ch types.Channel, payload channels.Payload) (res channels.Result, duplicate bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Channel provider panicked", "channel", ch, "user_id", pref.UserID, "panic", r)
			res = channels.Failed(ch, "provider panicked: %v", r)
		}
		duplicate = e.recordAttempt(ctx, payload, res)
	}()

	provider, ok := e.registry.Get(ch)
	if !ok {
		return channels.Failed(ch, "no provider registered for %s", ch), false
	}

	cfg, err := e.resolveConfig(pref, ch)
	if err != nil {
		return channels.Failed(ch, "%v", err), false
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	res = provider.Send(sendCtx, payload, cfg)
	res.Channel = ch
	if !res.Success && res.Error == "" {
		res.Error = "send failed"
		if sendCtx.Err() != nil {
			res.Error = sendCtx.Err().Error()
		}
	}
	return res, false
}

// resolveConfig decrypts the secrets ch needs. Decrypted values never
// leave the returned Config.
func (e *Engine) resolveConfig(pref types.AlertPreference, ch types.Channel) (channels.Config, error) {
	var cfg channels.Config
	switch ch {
	case types.ChannelInApp:
	case types.ChannelDesktop:
		cfg.PushSubscription = pref.PushSubscription
	case types.ChannelSMS:
		number, err := e.decrypt(pref.PhoneNumberEnc)
		if err != nil {
			return cfg, errors.Wrap(err, "phone number")
		}
		if cfg.Phone, err = FormatPhone(pref.PhoneCountryCode, number); err != nil {
			return cfg, err
		}
	case types.ChannelChat:
		token, err := e.decrypt(pref.ChatTokenEnc)
		if err != nil {
			return cfg, errors.Wrap(err, "chat token")
		}
		number, err := e.decrypt(pref.ChatPhoneEnc)
		if err != nil {
			return cfg, errors.Wrap(err, "chat phone number")
		}
		if cfg.ChatPhone, err = FormatPhone(pref.PhoneCountryCode, number); err != nil {
			return cfg, err
		}
		cfg.ChatInstanceID = pref.ChatInstanceID
		cfg.ChatToken = token
	default:
		return cfg, errors.Newf("unsupported channel %s", ch)
	}
	return cfg, nil
}

func (e *Engine) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if e.secrets == nil {
		return "", errors.New("secrets key not configured")
	}
	return e.secrets.Decrypt(ciphertext)
}

// recordAttempt writes the log row for one send and reports whether the
// store rejected it as a second sent row
func (e *Engine) recordAttempt(ctx context.Context, payload channels.Payload, res channels.Result) bool {
	now := time.Now().UTC()
	entry := &types.NotificationLogEntry{
		TenantID:        payload.TenantID,
		UserID:          payload.UserID,
		JobID:           payload.JobID,
		Channel:         res.Channel,
		Title:           payload.Title,
		Body:            payload.Body,
		MatchPercentage: payload.FitScore,
		Status:          types.NotificationFailed,
		CorrelationID:   events.CorrelationID(ctx),
	}
	if res.Success {
		entry.Status = types.NotificationSent
		entry.SentAt = &now
		if res.MessageID != "" {
			id := res.MessageID
			entry.MessageID = &id
		}
	} else {
		msg := res.Error
		entry.Error = &msg
	}

	err := e.store.CreateNotificationLog(ctx, entry)
	duplicate := false
	switch {
	case err == nil:
	case errors.Is(err, db.ErrDuplicateSend):
		duplicate = true
		e.log.Warnw("Concurrent duplicate send detected",
			"user_id", payload.UserID, "job_id", payload.JobID, "channel", res.Channel)
	default:
		e.log.Errorw("Failed to write notification log",
			"user_id", payload.UserID, "job_id", payload.JobID, "channel", res.Channel, "error", err)
	}

	if !res.Success {
		e.log.Warnw("Notification send failed",
			"user_id", payload.UserID, "job_id", payload.JobID, "channel", res.Channel, "error", res.Error)
	}
	return duplicate
}
