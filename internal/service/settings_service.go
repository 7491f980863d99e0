package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// Settings is an immutable snapshot of the engine configuration.
type Settings struct {
	ScorePrecision       float64
	DefaultPassThreshold float64
	MaxScore             float64
	RegradeSLADays       int
	DefaultReviewWindow  time.Duration
	LoadedAt             time.Time
}

// SettingsProvider hands out read-through configuration snapshots.
type SettingsProvider interface {
	Snapshot(ctx context.Context) (Settings, error)
}

// SettingsService exposes the config store to admins.
type SettingsService interface {
	SettingsProvider
	Bootstrap(ctx context.Context) error
	Get(ctx context.Context) (dto.SettingsResponse, error)
	Update(ctx context.Context, payload dto.SettingsUpdateRequest, actor Actor) (dto.SettingsResponse, error)
}

type settingsService struct {
	repo      repository.SettingRepository
	defaults  Settings
	refresh   time.Duration
	audit     AuditRecorder
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	current Settings
	loaded  bool
}

// NewSettingsService constructs the settings store. Snapshots older than refresh are reloaded.
func NewSettingsService(repo repository.SettingRepository, defaults Settings, refresh time.Duration, audit AuditRecorder, validate *validator.Validate, logger zerolog.Logger) SettingsService {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &settingsService{
		repo:      repo,
		defaults:  defaults,
		refresh:   refresh,
		audit:     audit,
		validator: validate,
		logger:    logger.With().Str("component", "settings_service").Logger(),
		now:       time.Now,
	}
}

// Bootstrap seeds keys that are missing from storage with the process defaults.
func (s *settingsService) Bootstrap(ctx context.Context) error {
	now := s.now().UTC()
	if err := s.repo.EnsureDefaults(ctx, encodeSettings(s.defaults, nil, now)); err != nil {
		return storageError("settings.bootstrap", err)
	}
	return nil
}

func (s *settingsService) Snapshot(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	current, loaded := s.current, s.loaded
	s.mu.RUnlock()

	if loaded && s.now().Sub(current.LoadedAt) < s.refresh {
		return current, nil
	}

	value, err, _ := s.group.Do("settings", func() (interface{}, error) {
		return s.load(ctx)
	})
	if err != nil {
		if loaded {
			s.logger.Warn().Err(err).Msg("settings refresh failed, serving stale snapshot")
			return current, nil
		}
		return Settings{}, storageError("settings.snapshot", err)
	}

	return value.(Settings), nil
}

func (s *settingsService) load(ctx context.Context) (Settings, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return Settings{}, err
	}

	snapshot := s.decode(stored)
	snapshot.LoadedAt = s.now()

	s.mu.Lock()
	s.current = snapshot
	s.loaded = true
	s.mu.Unlock()

	return snapshot, nil
}

func (s *settingsService) decode(stored []models.Setting) Settings {
	snapshot := s.defaults
	for _, item := range stored {
		switch item.Key {
		case models.SettingScorePrecision:
			if v, err := strconv.ParseFloat(item.Value, 64); err == nil && v > 0 {
				snapshot.ScorePrecision = v
				continue
			}
		case models.SettingPassThreshold:
			if v, err := strconv.ParseFloat(item.Value, 64); err == nil && v >= 0 {
				snapshot.DefaultPassThreshold = v
				continue
			}
		case models.SettingMaxScore:
			if v, err := strconv.ParseFloat(item.Value, 64); err == nil && v > 0 {
				snapshot.MaxScore = v
				continue
			}
		case models.SettingRegradeSLADays:
			if v, err := strconv.Atoi(item.Value); err == nil && v >= 0 {
				snapshot.RegradeSLADays = v
				continue
			}
		case models.SettingDefaultReviewWindow:
			if v, err := time.ParseDuration(item.Value); err == nil && v > 0 {
				snapshot.DefaultReviewWindow = v
				continue
			}
		default:
			continue
		}
		s.logger.Warn().Str("key", item.Key).Str("value", item.Value).Msg("ignoring malformed setting")
	}
	return snapshot
}

func (s *settingsService) Get(ctx context.Context) (dto.SettingsResponse, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return dto.SettingsResponse{}, err
	}
	stored, err := s.repo.List(ctx)
	if err != nil {
		return dto.SettingsResponse{}, storageError("settings.get", err)
	}
	return newSettingsResponse(snapshot, stored), nil
}

func (s *settingsService) Update(ctx context.Context, payload dto.SettingsUpdateRequest, actor Actor) (dto.SettingsResponse, error) {
	const op = "settings.update"
	if err := s.validator.Struct(payload); err != nil {
		return dto.SettingsResponse{}, validationError(op, "%s", err.Error())
	}

	current, err := s.Snapshot(ctx)
	if err != nil {
		return dto.SettingsResponse{}, err
	}

	next := current
	if payload.ScorePrecision != nil {
		next.ScorePrecision = *payload.ScorePrecision
	}
	if payload.PassThreshold != nil {
		next.DefaultPassThreshold = *payload.PassThreshold
	}
	if payload.MaxScore != nil {
		next.MaxScore = *payload.MaxScore
	}
	if payload.RegradeSLADays != nil {
		next.RegradeSLADays = *payload.RegradeSLADays
	}
	if payload.DefaultReviewWindowHours != nil {
		next.DefaultReviewWindow = time.Duration(*payload.DefaultReviewWindowHours) * time.Hour
	}

	if next.ScorePrecision > next.MaxScore {
		return dto.SettingsResponse{}, validationError(op, "score precision %v exceeds max score %v", next.ScorePrecision, next.MaxScore)
	}
	if next.DefaultPassThreshold > next.MaxScore {
		return dto.SettingsResponse{}, validationError(op, "pass threshold %v exceeds max score %v", next.DefaultPassThreshold, next.MaxScore)
	}

	actorID := actor.ID
	if err := s.repo.Upsert(ctx, encodeSettings(next, &actorID, s.now().UTC())); err != nil {
		return dto.SettingsResponse{}, storageError(op, err)
	}

	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()

	s.logger.Info().Uint("actor_id", actor.ID).Msg("settings updated")
	recordAudit(ctx, s.audit, actor, AuditSettingsUpdated, "settings", 0, settingsDiff(current, next))

	return s.Get(ctx)
}

func encodeSettings(settings Settings, updatedBy *uint, at time.Time) []models.Setting {
	return []models.Setting{
		{Key: models.SettingScorePrecision, Value: strconv.FormatFloat(settings.ScorePrecision, 'f', -1, 64), UpdatedBy: updatedBy, UpdatedAt: at},
		{Key: models.SettingPassThreshold, Value: strconv.FormatFloat(settings.DefaultPassThreshold, 'f', -1, 64), UpdatedBy: updatedBy, UpdatedAt: at},
		{Key: models.SettingMaxScore, Value: strconv.FormatFloat(settings.MaxScore, 'f', -1, 64), UpdatedBy: updatedBy, UpdatedAt: at},
		{Key: models.SettingRegradeSLADays, Value: strconv.Itoa(settings.RegradeSLADays), UpdatedBy: updatedBy, UpdatedAt: at},
		{Key: models.SettingDefaultReviewWindow, Value: settings.DefaultReviewWindow.String(), UpdatedBy: updatedBy, UpdatedAt: at},
	}
}

func newSettingsResponse(snapshot Settings, stored []models.Setting) dto.SettingsResponse {
	entries := make([]dto.SettingEntry, 0, len(stored))
	for _, item := range stored {
		entries = append(entries, dto.SettingEntry{
			Key:       item.Key,
			Value:     item.Value,
			UpdatedBy: item.UpdatedBy,
			UpdatedAt: item.UpdatedAt,
		})
	}
	return dto.SettingsResponse{
		ScorePrecision:           snapshot.ScorePrecision,
		PassThreshold:            snapshot.DefaultPassThreshold,
		MaxScore:                 snapshot.MaxScore,
		RegradeSLADays:           snapshot.RegradeSLADays,
		DefaultReviewWindowHours: snapshot.DefaultReviewWindow.Hours(),
		Entries:                  entries,
	}
}

// settingsDiff lists the changed values as {"key": {"from": old, "to": new}}.
func settingsDiff(before, after Settings) map[string]interface{} {
	diff := map[string]interface{}{}
	add := func(key string, from, to interface{}) {
		if from != to {
			diff[key] = map[string]interface{}{"from": from, "to": to}
		}
	}
	add(models.SettingScorePrecision, before.ScorePrecision, after.ScorePrecision)
	add(models.SettingPassThreshold, before.DefaultPassThreshold, after.DefaultPassThreshold)
	add(models.SettingMaxScore, before.MaxScore, after.MaxScore)
	add(models.SettingRegradeSLADays, before.RegradeSLADays, after.RegradeSLADays)
	add(models.SettingDefaultReviewWindow, before.DefaultReviewWindow.String(), after.DefaultReviewWindow.String())
	return diff
}
