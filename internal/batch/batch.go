// Package batch builds, stores and looks up production batch records.
//
// A batch is created in two steps. The record is inserted first, with its
// lookup image pending, because the QR code encodes a URL containing the
// storage-assigned id. The image is attached in a second, best-effort write.
// Readers may see a batch while its image is still pending.
package batch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/lookupimage"
	"github.com/franckalain/chocobrew/internal/ml"
	"github.com/franckalain/chocobrew/internal/models"
	"github.com/franckalain/chocobrew/internal/nutrition"
	"github.com/franckalain/chocobrew/internal/quality"
	"go.uber.org/zap"
)

const (
	FieldCode            = "code"
	FieldElaborationDate = "elaboration_date"

	dateLayout = "2006-01-02"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// Submission is one batch as entered by the producer.
type Submission struct {
	Code            string            `json:"code"`
	ElaborationDate string            `json:"elaboration_date"`
	Measurements    map[string]string `json:"measurements"`
}

// Assessment is everything derived from a set of measurements.
type Assessment struct {
	Measurements quality.Vector   `json:"-"`
	Score        float64          `json:"score"`
	Source       ml.Source        `json:"source"`
	Category     quality.Category `json:"category"`
	Nutrition    nutrition.Facts  `json:"nutrition"`
}

// Recorder receives batch lifecycle counts.
type Recorder interface {
	BatchCreated()
	DuplicateCode()
	PayloadFailed()
}

type nopRecorder struct{}

func (nopRecorder) BatchCreated()  {}
func (nopRecorder) DuplicateCode() {}
func (nopRecorder) PayloadFailed() {}

// Service implements batch creation and lookup.
type Service struct {
	store     database.BatchStore
	estimator *ml.Estimator
	images    lookupimage.Generator
	baseURL   string
	log       *zap.Logger
	recorder  Recorder
	now       func() time.Time
}

// Config wires a Service.
type Config struct {
	Store     database.BatchStore
	Estimator *ml.Estimator
	Images    lookupimage.Generator
	BaseURL   string // public origin used in lookup URLs, e.g. https://chocobrew.example
	Log       *zap.Logger
	Recorder  Recorder
}

// NewService creates a batch service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:     cfg.Store,
		estimator: cfg.Estimator,
		images:    cfg.Images,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		log:       cfg.Log,
		recorder:  cfg.Recorder,
		now:       time.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.estimator == nil {
		s.estimator = ml.NewEstimator(ml.Absent{Reason: "no estimator configured"}, s.log)
	}
	return s
}

// Assess scores a normalized vector.
func (s *Service) Assess(v quality.Vector) Assessment {
	est := s.estimator.Estimate(v)
	return Assessment{
		Measurements: v,
		Score:        est.Score,
		Source:       est.Source,
		Category:     quality.Classify(est.Score),
		Nutrition:    nutrition.Estimate(v.ABV(), v.CacaoPct(), v.OG()),
	}
}

// Preview validates and scores raw measurements without storing anything.
func (s *Service) Preview(raw map[string]string) (Assessment, error) {
	v, err := quality.Normalize(raw)
	if err != nil {
		return Assessment{}, err
	}
	return s.Assess(v), nil
}

// LookupURL is the public page a batch's QR code points at.
func (s *Service) LookupURL(id int64) string {
	return fmt.Sprintf("%s/batches/%d", s.baseURL, id)
}

// Create validates, scores and stores a submission for ownerID. Once the
// record is stored it is returned even if attaching its lookup image fails.
func (s *Service) Create(ctx context.Context, sub Submission, ownerID int64) (*models.BatchRecord, error) {
	code := strings.TrimSpace(sub.Code)
	if code == "" {
		return nil, quality.Invalid(FieldCode, "is required")
	}
	if !codePattern.MatchString(code) {
		return nil, quality.Invalid(FieldCode, "must be 1-50 letters, digits, '-' or '_'")
	}
	elaborated, err := time.Parse(dateLayout, strings.TrimSpace(sub.ElaborationDate))
	if err != nil {
		return nil, quality.Invalid(FieldElaborationDate, "must be a date (YYYY-MM-DD)")
	}

	assessment, err := s.Preview(sub.Measurements)
	if err != nil {
		return nil, err
	}

	// Advisory only; the UNIQUE constraint decides concurrent submissions.
	exists, err := s.store.CodeExists(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check batch code: %w", err)
	}
	if exists {
		s.recorder.DuplicateCode()
		return nil, database.ErrDuplicateCode
	}

	record := newRecord(code, ownerID, elaborated, assessment)
	record.CreatedAt = s.now().UTC()
	if _, err := s.store.InsertBatch(ctx, record); err != nil {
		if errors.Is(err, database.ErrDuplicateCode) {
			s.recorder.DuplicateCode()
			return nil, err
		}
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}
	s.recorder.BatchCreated()
	s.log.Info("Batch created",
		zap.Int64("id", record.ID),
		zap.String("code", record.Code),
		zap.Float64("score", record.Score),
		zap.String("source", record.ScoreSource),
	)

	if err := s.attachGeneratedPayload(ctx, record); err != nil {
		s.recorder.PayloadFailed()
		s.log.Warn("Batch stored without lookup image", zap.Int64("id", record.ID), zap.Error(err))
	}
	return record, nil
}

func newRecord(code string, ownerID int64, elaborated time.Time, a Assessment) *models.BatchRecord {
	v := a.Measurements
	return &models.BatchRecord{
		Code:             code,
		OwnerID:          ownerID,
		ElaborationDate:  elaborated,
		ExpirationDate:   elaborated.Add(models.ShelfLife),
		ABV:              v.ABV(),
		IBU:              v.IBU(),
		SRM:              v.SRM(),
		OG:               v.OG(),
		FG:               v.FG(),
		CacaoPct:         v.CacaoPct(),
		FermentationDays: v.FermentationDays(),
		MaturationDays:   v.MaturationDays(),
		Score:            a.Score,
		ScoreSource:      string(a.Source),
		Category:         string(a.Category),
		EnergyKcal:       a.Nutrition.EnergyKcal,
		CarbohydrateG:    a.Nutrition.CarbohydrateG,
		ProteinG:         a.Nutrition.ProteinG,
		FatG:             a.Nutrition.FatG,
		SugarG:           a.Nutrition.SugarG,
		PayloadStatus:    models.PayloadPending,
	}
}

// attachGeneratedPayload is the second creation step. On failure the record
// keeps no payload; marking it failed is itself best-effort.
func (s *Service) attachGeneratedPayload(ctx context.Context, record *models.BatchRecord) error {
	if s.images == nil {
		return errors.New("no lookup image generator configured")
	}

	payload, err := s.images.Generate(s.LookupURL(record.ID))
	if err == nil {
		err = s.AttachLookupPayload(ctx, record.ID, payload)
	}
	if err != nil {
		if markErr := s.store.MarkLookupImageFailed(ctx, record.ID); markErr == nil {
			record.PayloadStatus = models.PayloadFailed
		}
		return err
	}

	record.LookupImage = payload
	record.PayloadStatus = models.PayloadAttached
	return nil
}

// AttachLookupPayload stores payload on batch id. It returns
// database.ErrNotFound when the batch does not exist.
func (s *Service) AttachLookupPayload(ctx context.Context, id int64, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("empty lookup payload")
	}
	if err := s.store.AttachLookupImage(ctx, id, payload); err != nil {
		return fmt.Errorf("failed to attach lookup image to batch %d: %w", id, err)
	}
	return nil
}

// GetByID returns the batch with the given id.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.BatchRecord, error) {
	return s.store.GetBatch(ctx, id)
}

// GetByCode returns the batch with the given producer code.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.BatchRecord, error) {
	return s.store.GetBatchByCode(ctx, strings.TrimSpace(code))
}

// ListByOwner returns an owner's batches, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]*models.BatchRecord, error) {
	return s.store.ListBatchesByOwner(ctx, ownerID)
}
