package batch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/ml"
	"github.com/franckalain/chocobrew/internal/models"
	"github.com/franckalain/chocobrew/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubImages struct {
	urls []string
	err  error
}

func (g *stubImages) Generate(url string) ([]byte, error) {
	g.urls = append(g.urls, url)
	if g.err != nil {
		return nil, g.err
	}
	return []byte("qr:" + url), nil
}

// flakyStore overrides selected store calls on top of a real database.
type flakyStore struct {
	database.BatchStore
	codeExists func(ctx context.Context, code string) (bool, error)
	attach     func(ctx context.Context, id int64, payload []byte) error
	markFailed func(ctx context.Context, id int64) error
}

func (f *flakyStore) CodeExists(ctx context.Context, code string) (bool, error) {
	if f.codeExists != nil {
		return f.codeExists(ctx, code)
	}
	return f.BatchStore.CodeExists(ctx, code)
}

func (f *flakyStore) AttachLookupImage(ctx context.Context, id int64, payload []byte) error {
	if f.attach != nil {
		return f.attach(ctx, id, payload)
	}
	return f.BatchStore.AttachLookupImage(ctx, id, payload)
}

func (f *flakyStore) MarkLookupImageFailed(ctx context.Context, id int64) error {
	if f.markFailed != nil {
		return f.markFailed(ctx, id)
	}
	return f.BatchStore.MarkLookupImageFailed(ctx, id)
}

type countingRecorder struct {
	created, duplicates, payloadFailures int
}

func (r *countingRecorder) BatchCreated()  { r.created++ }
func (r *countingRecorder) DuplicateCode() { r.duplicates++ }
func (r *countingRecorder) PayloadFailed() { r.payloadFailures++ }

func setupDB(t *testing.T) *database.SQLiteDB {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(store database.BatchStore, images *stubImages, rec *countingRecorder) *Service {
	svc := NewService(Config{
		Store:     store,
		Estimator: ml.NewEstimator(ml.Absent{}, zap.NewNop()),
		Images:    images,
		BaseURL:   "https://chocobrew.example/",
		Log:       zap.NewNop(),
		Recorder:  rec,
	})
	svc.now = func() time.Time { return time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC) }
	return svc
}

func sampleSubmission(code string) Submission {
	return Submission{
		Code:            code,
		ElaborationDate: "2025-09-01",
		Measurements: map[string]string{
			"abv":               "6.5",
			"ibu":               "40",
			"srm":               "6",
			"og":                "1.060",
			"fg":                "1.012",
			"cacao_pct":         "8",
			"fermentation_days": "6",
			"maturation_days":   "10",
		},
	}
}

func TestCreateScoresAndStoresBatch(t *testing.T) {
	db := setupDB(t)
	images := &stubImages{}
	rec := &countingRecorder{}
	svc := newTestService(db, images, rec)
	ctx := context.Background()

	record, err := svc.Create(ctx, sampleSubmission("CB-2025-01"), 3)
	require.NoError(t, err)

	assert.NotZero(t, record.ID)
	assert.InDelta(t, 4.1, record.Score, 1e-9)
	assert.Equal(t, "fallback", record.ScoreSource)
	assert.Equal(t, "Excellent", record.Category)
	assert.Equal(t, int64(3), record.OwnerID)
	assert.Equal(t, "2026-02-28", record.ExpirationDate.Format(dateLayout))
	assert.InDelta(t, 63.4, record.EnergyKcal, 0.001)
	assert.Equal(t, models.PayloadAttached, record.PayloadStatus)
	assert.Equal(t, []string{svc.LookupURL(record.ID)}, images.urls)
	assert.Equal(t, "https://chocobrew.example/batches/1", svc.LookupURL(1))

	stored, err := svc.GetByCode(ctx, "CB-2025-01")
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
	assert.Equal(t, []byte("qr:"+svc.LookupURL(record.ID)), stored.LookupImage)
	assert.Equal(t, models.PayloadAttached, stored.PayloadStatus)

	byID, err := svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "CB-2025-01", byID.Code)

	assert.Equal(t, 1, rec.created)
	assert.Zero(t, rec.payloadFailures)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	db := setupDB(t)
	rec := &countingRecorder{}
	svc := newTestService(db, &stubImages{}, rec)
	ctx := context.Background()

	first, err := svc.Create(ctx, sampleSubmission("CB-DUP"), 1)
	require.NoError(t, err)

	second := sampleSubmission("CB-DUP")
	second.Measurements["abv"] = "9"
	_, err = svc.Create(ctx, second, 2)
	assert.ErrorIs(t, err, database.ErrDuplicateCode)

	stored, err := svc.GetByCode(ctx, "CB-DUP")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, 6.5, stored.ABV)
	assert.Equal(t, int64(1), stored.OwnerID)
	assert.Equal(t, 1, rec.duplicates)
}

func TestCreateSurfacesStorageLevelDuplicate(t *testing.T) {
	db := setupDB(t)
	rec := &countingRecorder{}
	_, err := newTestService(db, &stubImages{}, rec).Create(context.Background(), sampleSubmission("CB-RACE"), 1)
	require.NoError(t, err)

	// Simulate a concurrent writer that won between the check and the insert.
	racy := &flakyStore{BatchStore: db, codeExists: func(context.Context, string) (bool, error) { return false, nil }}
	_, err = newTestService(racy, &stubImages{}, rec).Create(context.Background(), sampleSubmission("CB-RACE"), 2)
	assert.ErrorIs(t, err, database.ErrDuplicateCode)
	assert.Equal(t, 1, rec.duplicates)
}

func TestCreateValidation(t *testing.T) {
	db := setupDB(t)
	svc := newTestService(db, &stubImages{}, &countingRecorder{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Submission)
		field  string
	}{
		{"gravity", func(s *Submission) { s.Measurements["fg"] = "1.065" }, "fg"},
		{"missing code", func(s *Submission) { s.Code = "  " }, FieldCode},
		{"bad code", func(s *Submission) { s.Code = "CB 01/x" }, FieldCode},
		{"bad date", func(s *Submission) { s.ElaborationDate = "01/09/2025" }, FieldElaborationDate},
		{"missing measurement", func(s *Submission) { delete(s.Measurements, "srm") }, "srm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := sampleSubmission("CB-VAL")
			tt.mutate(&sub)

			_, err := svc.Create(ctx, sub, 1)
			var verr *quality.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)

			exists, err := db.CodeExists(ctx, "CB-VAL")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestCreateKeepsRecordWhenImageGenerationFails(t *testing.T) {
	db := setupDB(t)
	rec := &countingRecorder{}
	svc := newTestService(db, &stubImages{err: errors.New("encoder down")}, rec)
	ctx := context.Background()

	record, err := svc.Create(ctx, sampleSubmission("CB-NOQR"), 1)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadFailed, record.PayloadStatus)

	stored, err := svc.GetByCode(ctx, "CB-NOQR")
	require.NoError(t, err)
	assert.Nil(t, stored.LookupImage)
	assert.Equal(t, models.PayloadFailed, stored.PayloadStatus)
	assert.InDelta(t, 4.1, stored.Score, 1e-9)
	assert.Equal(t, 1, rec.payloadFailures)
}

func TestCreateKeepsRecordWhenAttachFails(t *testing.T) {
	db := setupDB(t)
	store := &flakyStore{
		BatchStore: db,
		attach:     func(context.Context, int64, []byte) error { return database.ErrUnavailable },
		markFailed: func(context.Context, int64) error { return database.ErrUnavailable },
	}
	svc := newTestService(store, &stubImages{}, &countingRecorder{})
	ctx := context.Background()

	record, err := svc.Create(ctx, sampleSubmission("CB-PENDING"), 1)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadPending, record.PayloadStatus)

	stored, err := svc.GetByCode(ctx, "CB-PENDING")
	require.NoError(t, err)
	assert.False(t, stored.HasLookupImage())
	assert.Equal(t, models.PayloadPending, stored.PayloadStatus)
}

func TestCreateAbortsWhenStorageUnavailable(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "down.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	svc := newTestService(db, &stubImages{}, &countingRecorder{})
	_, err = svc.Create(context.Background(), sampleSubmission("CB-DOWN"), 1)
	assert.ErrorIs(t, err, database.ErrUnavailable)
	assert.NotErrorIs(t, err, database.ErrDuplicateCode)
}

func TestAttachLookupPayloadUnknownBatch(t *testing.T) {
	svc := newTestService(setupDB(t), &stubImages{}, &countingRecorder{})

	err := svc.AttachLookupPayload(context.Background(), 404, []byte("png"))
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestGetByCodeNotFound(t *testing.T) {
	svc := newTestService(setupDB(t), &stubImages{}, &countingRecorder{})

	_, err := svc.GetByCode(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	svc := newTestService(setupDB(t), &stubImages{}, &countingRecorder{})
	ctx := context.Background()

	for _, code := range []string{"M-1", "M-2"} {
		_, err := svc.Create(ctx, sampleSubmission(code), 5)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, sampleSubmission("O-1"), 6)
	require.NoError(t, err)

	mine, err := svc.ListByOwner(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestPreview(t *testing.T) {
	svc := newTestService(setupDB(t), &stubImages{}, &countingRecorder{})

	a, err := svc.Preview(sampleSubmission("x").Measurements)
	require.NoError(t, err)
	assert.InDelta(t, 4.1, a.Score, 1e-9)
	assert.Equal(t, quality.CategoryExcellent, a.Category)
	assert.Equal(t, ml.SourceFallback, a.Source)
	assert.InDelta(t, 3.9, a.Nutrition.CarbohydrateG, 0.001)
}
