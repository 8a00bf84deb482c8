package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/ledger/cmd/ledger/middleware"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/config"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
)

// releaseRecorder satisfies service.AccountStore; only the release path is
// exercised by these tests.
type releaseRecorder struct {
	released []string
}

func (r *releaseRecorder) EnsureAccount(ctx context.Context, accountID string, tier models.Tier, storageLimit int64) error {
	return nil
}

func (r *releaseRecorder) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	return &models.Account{AccountID: accountID}, nil
}

func (r *releaseRecorder) ChargeStorage(ctx context.Context, accountID string, deltaBytes int64) (bool, int64, int64, error) {
	return true, 0, 0, nil
}

func (r *releaseRecorder) SettleStorage(ctx context.Context, accountID string, deltaBytes int64) (int64, int64, error) {
	return 0, 0, nil
}

func (r *releaseRecorder) EnsureFeatureCounter(ctx context.Context, accountID string, feature models.Feature, tier models.Tier, limit int64) error {
	return nil
}

func (r *releaseRecorder) ReserveFeature(ctx context.Context, accountID string, feature models.Feature) (bool, int64, int64, error) {
	return true, 1, 5, nil
}

func (r *releaseRecorder) ReleaseFeature(ctx context.Context, accountID string, feature models.Feature) error {
	r.released = append(r.released, accountID+"/"+string(feature))
	return nil
}

func (r *releaseRecorder) GetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) (*models.FeatureCounter, error) {
	return &models.FeatureCounter{AccountID: accountID, Feature: feature}, nil
}

func (r *releaseRecorder) ListFeatureCounters(ctx context.Context, accountID string) ([]models.FeatureCounter, error) {
	return nil, nil
}

func (r *releaseRecorder) ResetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) error {
	return nil
}

func (r *releaseRecorder) SetStorageLimit(ctx context.Context, accountID string, limitBytes int64) error {
	return nil
}

func (r *releaseRecorder) RecomputeStorageUsed(ctx context.Context, accountID string) (int64, int64, error) {
	return 0, 0, nil
}

func newQuotaTestServer() (*echo.Echo, *releaseRecorder) {
	components := &bootstrap.Components{
		Config: &config.Config{},
		Logger: logger.New("error", "text"),
	}
	recorder := &releaseRecorder{}
	quota := service.NewQuotaService(&service.QuotaServiceOpts{
		Accounts:   recorder,
		Components: components,
	})
	h := NewQuotaHandler(components, quota)

	e := echo.New()
	e.POST("/v1/quota/release", h.Release, middleware.ExtractIdentity())
	return e, recorder
}

func postRelease(e *echo.Echo, accountID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/quota/release", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestReleaseDecrementsAndAcceptsReservationID(t *testing.T) {
	e, recorder := newQuotaTestServer()

	rec := postRelease(e, "acct-1", `{"feature":"resize","reservation_id":"4f2c9a6e-8f6b-4f4e-9a6e-2d1b3c4d5e6f"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, recorder.released, 1)
	assert.Equal(t, "acct-1/resize", recorder.released[0])
}

func TestReleaseWithoutReservationIDStillWorks(t *testing.T) {
	e, recorder := newQuotaTestServer()

	rec := postRelease(e, "acct-1", `{"feature":"ocr"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, recorder.released, 1)
	assert.Equal(t, "acct-1/ocr", recorder.released[0])
}

func TestReleaseUnknownFeatureRejected(t *testing.T) {
	e, recorder := newQuotaTestServer()

	rec := postRelease(e, "acct-1", `{"feature":"teleport"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown feature")
	assert.Empty(t, recorder.released)
}

func TestReleaseRequiresIdentity(t *testing.T) {
	e, recorder := newQuotaTestServer()

	rec := postRelease(e, "", `{"feature":"resize"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, recorder.released)
}
