package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

type flakySettingRepo struct {
	repository.SettingRepository
	fail bool
}

func (f *flakySettingRepo) List(ctx context.Context) ([]models.Setting, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.SettingRepository.List(ctx)
}

func newTestSettingsService(t *testing.T) (*settingsService, *flakySettingRepo) {
	t.Helper()
	db := newServiceTestDB(t)
	validate := validator.New(validator.WithRequiredStructEnabled())
	repo := &flakySettingRepo{SettingRepository: repository.NewSettingRepository(db)}
	audit := NewAuditService(repository.NewAuditRepository(db), validate, testLogger())
	svc := NewSettingsService(repo, defaultTestSettings(), time.Minute, audit, validate, testLogger())
	return svc.(*settingsService), repo
}

func TestSettingsBootstrapAndSnapshot(t *testing.T) {
	svc, _ := newTestSettingsService(t)
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx))
	require.NoError(t, svc.Bootstrap(ctx))

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.5, snapshot.ScorePrecision)
	require.Equal(t, 6.0, snapshot.DefaultPassThreshold)
	require.Equal(t, 72*time.Hour, snapshot.DefaultReviewWindow)

	response, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Len(t, response.Entries, 5)
}

func TestSettingsUpdateRecordsAuditAndRefreshes(t *testing.T) {
	svc, _ := newTestSettingsService(t)
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))

	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	response, err := svc.Update(ctx, dto.SettingsUpdateRequest{ScorePrecision: floatPtr(0.25), RegradeSLADays: intPtr(3)}, Actor{ID: 1, Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, 0.25, response.ScorePrecision)
	require.Equal(t, 3, response.RegradeSLADays)
	for _, entry := range response.Entries {
		require.NotNil(t, entry.UpdatedBy)
		require.Equal(t, uint(1), *entry.UpdatedBy)
	}

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.25, snapshot.ScorePrecision)

	trail, err := svc.audit.(AuditService).List(ctx, dto.AuditListRequest{Action: AuditSettingsUpdated})
	require.NoError(t, err)
	require.Len(t, trail.Items, 1)
	require.Equal(t, "admin", trail.Items[0].ActorRole)
	require.Contains(t, trail.Items[0].Metadata, "grading.precision")
	require.Contains(t, trail.Items[0].Metadata, "regrade.sla_days")
	require.NotContains(t, trail.Items[0].Metadata, "grading.max_score")
}

func TestSettingsUpdateValidation(t *testing.T) {
	svc, _ := newTestSettingsService(t)
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))

	_, err := svc.Update(ctx, dto.SettingsUpdateRequest{ScorePrecision: floatPtr(-1)}, Actor{ID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(ctx, dto.SettingsUpdateRequest{PassThreshold: floatPtr(11)}, Actor{ID: 1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSettingsSnapshotServesStaleValueWhenReloadFails(t *testing.T) {
	svc, repo := newTestSettingsService(t)
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))

	now := time.Now()
	svc.now = func() time.Time { return now }
	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	repo.fail = true
	now = now.Add(2 * time.Minute)
	stale, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, first, stale)
}

func TestSettingsSnapshotFailsWithoutAnyLoad(t *testing.T) {
	svc, repo := newTestSettingsService(t)
	repo.fail = true

	_, err := svc.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrStorage)
	require.NotContains(t, err.Error(), "connection refused")
}
