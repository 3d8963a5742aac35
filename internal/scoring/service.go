package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/trustboard/internal/voters"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrScoreConflict signals that a concurrent recompute updated the same
	// company's aggregate first. The caller should retry the mutation.
	ErrScoreConflict = errors.New("scoring: concurrent aggregate update")
	// ErrPromiseNotFound indicates a resolution for an unknown promise.
	ErrPromiseNotFound = errors.New("scoring: promise not found")
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "scoring.service.new"
	opRecompute      = "scoring.recompute"
	opCastVote       = "scoring.cast_vote"
	opRetractVote    = "scoring.retract_vote"
	opRecordPromise  = "scoring.record_promise"
	opResolvePromise = "scoring.resolve_promise"
	opGetLatest      = "scoring.get_latest"
	opGetHistory     = "scoring.get_history"
	opInsightSummary = "scoring.insight_summary"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	// historyChangeThreshold gates the audit trail: smaller movements are
	// not worth a snapshot.
	historyChangeThreshold = 0.1
	// notifyChangeThreshold gates subscriber fan-out; deliberately coarser
	// than the history threshold so audit keeps more than users see.
	notifyChangeThreshold = 0.5
	// historyMinInterval rate-limits snapshots per company so rapid vote
	// churn cannot flood the history log.
	historyMinInterval = 24 * time.Hour
)

// ScoreChange describes a material aggregate movement handed to the notifier.
type ScoreChange struct {
	CompanyID       string
	PreviousOverall float64
	NewOverall      float64
	Delta           float64
}

// ChangeNotifier fans a material score change out to interested subscribers.
// Implementations receive the recompute transaction so notification rows join
// the same unit of work; failures are best-effort and never roll the pass back.
type ChangeNotifier interface {
	ScoreChanged(ctx context.Context, tx *gorm.DB, change ScoreChange) error
}

// IDProvider issues identifiers for history entries and promises.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the scoring engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   ChangeNotifier
	Logger     *zap.Logger
}

// Service is the reputation scoring engine. It is stateless between
// invocations: every recompute is a full re-derivation from the current vote
// and promise rows, which makes the pass idempotent at the cost of
// O(votes-for-company) work per mutation.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	notifier   ChangeNotifier
	logger     *zap.Logger
}

// NewService constructs the scoring engine. Composition weights are validated
// here so a bad constant fails loudly at startup instead of being clamped.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if err := validateCompositionWeights(); err != nil {
		return nil, newServiceError(opServiceNew, "invalid_composition_weights", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// Recompute runs a full scoring pass for one company and returns the freshly
// persisted aggregate. Safe to call redundantly.
func (s *Service) Recompute(ctx context.Context, companyID CompanyID) (CompanyScoreAggregate, error) {
	var aggregate CompanyScoreAggregate
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		computed, err := s.recomputeTx(ctx, tx, companyID)
		if err != nil {
			return err
		}
		aggregate = computed
		return nil
	})
	if txErr != nil {
		return CompanyScoreAggregate{}, txErr
	}
	return aggregate, nil
}

// VoteRequest is the input for casting or replacing a vote.
type VoteRequest struct {
	CompanyID CompanyID
	UserID    UserID
	Dimension Dimension
	Score     int
}

// CastVote stores the caller's vote (replacing any previous vote on the same
// dimension) and recomputes the company aggregate in the same transaction.
func (s *Service) CastVote(ctx context.Context, request VoteRequest) (CompanyScoreAggregate, error) {
	if err := ValidateVoteScore(request.Score); err != nil {
		s.logError(opCastVote, "invalid_score", err)
		return CompanyScoreAggregate{}, newServiceError(opCastVote, "invalid_score", err)
	}

	var aggregate CompanyScoreAggregate
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vote := Vote{
			CompanyID:        request.CompanyID.String(),
			UserID:           request.UserID.String(),
			Dimension:        request.Dimension,
			Score:            request.Score,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Save(&vote).Error; err != nil {
			s.logError(opCastVote, "vote_save_failed", err,
				zap.String("company_id", vote.CompanyID),
				zap.String("user_id", vote.UserID))
			return newServiceError(opCastVote, "vote_save_failed", err)
		}

		computed, err := s.recomputeTx(ctx, tx, request.CompanyID)
		if err != nil {
			return err
		}
		aggregate = computed
		return nil
	})
	if txErr != nil {
		return CompanyScoreAggregate{}, txErr
	}
	return aggregate, nil
}

// RetractVote deletes the caller's vote for one dimension and recomputes the
// company aggregate in the same transaction. Retracting a vote that does not
// exist still triggers an (idempotent) recompute.
func (s *Service) RetractVote(ctx context.Context, companyID CompanyID, userID UserID, dimension Dimension) (CompanyScoreAggregate, error) {
	var aggregate CompanyScoreAggregate
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("company_id = ? AND user_id = ? AND dimension = ?",
			companyID.String(), userID.String(), dimension).
			Delete(&Vote{}).Error
		if err != nil {
			s.logError(opRetractVote, "vote_delete_failed", err,
				zap.String("company_id", companyID.String()),
				zap.String("user_id", userID.String()))
			return newServiceError(opRetractVote, "vote_delete_failed", err)
		}

		computed, err := s.recomputeTx(ctx, tx, companyID)
		if err != nil {
			return err
		}
		aggregate = computed
		return nil
	})
	if txErr != nil {
		return CompanyScoreAggregate{}, txErr
	}
	return aggregate, nil
}

// PromiseRequest is the input for tracking a new company promise.
type PromiseRequest struct {
	CompanyID CompanyID
	Title     string
}

// RecordPromise starts tracking a promise in the pending state. Pending
// promises carry no scoring signal, so no recompute runs here.
func (s *Service) RecordPromise(ctx context.Context, request PromiseRequest) (Promise, error) {
	promiseID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordPromise, "id_generation_failed", err)
		return Promise{}, newServiceError(opRecordPromise, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	promise := Promise{
		PromiseID:        promiseID,
		CompanyID:        request.CompanyID.String(),
		Title:            request.Title,
		Status:           PromiseStatusPending,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&promise).Error; err != nil {
		s.logError(opRecordPromise, "promise_create_failed", err,
			zap.String("company_id", promise.CompanyID))
		return Promise{}, newServiceError(opRecordPromise, "promise_create_failed", err)
	}
	return promise, nil
}

// PromiseResolution describes a status transition for a tracked promise.
type PromiseResolution struct {
	Status           PromiseStatus
	CommunityVerdict *PromiseVerdict
}

// ResolvePromise applies the resolution and recomputes the owning company's
// aggregate in the same transaction.
func (s *Service) ResolvePromise(ctx context.Context, promiseID string, resolution PromiseResolution) (CompanyScoreAggregate, error) {
	var aggregate CompanyScoreAggregate
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var promise Promise
		err := tx.Where("promise_id = ?", promiseID).Take(&promise).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opResolvePromise, "promise_not_found", ErrPromiseNotFound)
		}
		if err != nil {
			s.logError(opResolvePromise, "promise_select_failed", err,
				zap.String("promise_id", promiseID))
			return newServiceError(opResolvePromise, "promise_select_failed", err)
		}

		updates := map[string]interface{}{
			"status":            resolution.Status,
			"community_verdict": resolution.CommunityVerdict,
			"updated_at_s":      s.clock().UTC().Unix(),
		}
		if err := tx.Model(&Promise{}).Where("promise_id = ?", promiseID).Updates(updates).Error; err != nil {
			s.logError(opResolvePromise, "promise_update_failed", err,
				zap.String("promise_id", promiseID))
			return newServiceError(opResolvePromise, "promise_update_failed", err)
		}

		companyID, err := NewCompanyID(promise.CompanyID)
		if err != nil {
			return newServiceError(opResolvePromise, "invalid_company_id", err)
		}
		computed, err := s.recomputeTx(ctx, tx, companyID)
		if err != nil {
			return err
		}
		aggregate = computed
		return nil
	})
	if txErr != nil {
		return CompanyScoreAggregate{}, txErr
	}
	return aggregate, nil
}

// GetLatest returns the current aggregate for a company, or nil when no
// recompute has ever run for it.
func (s *Service) GetLatest(ctx context.Context, companyID CompanyID) (*CompanyScoreAggregate, error) {
	var aggregate CompanyScoreAggregate
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID.String()).
		Take(&aggregate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGetLatest, "query_failed", err, zap.String("company_id", companyID.String()))
		return nil, newServiceError(opGetLatest, "query_failed", err)
	}
	return &aggregate, nil
}

// GetHistory returns the company's score snapshots, newest first.
func (s *Service) GetHistory(ctx context.Context, companyID CompanyID) ([]ScoreHistoryEntry, error) {
	var entries []ScoreHistoryEntry
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID.String()).
		Order("recorded_at_s DESC, entry_id DESC").
		Find(&entries).Error
	if err != nil {
		s.logError(opGetHistory, "query_failed", err, zap.String("company_id", companyID.String()))
		return nil, newServiceError(opGetHistory, "query_failed", err)
	}
	return entries, nil
}

// GetInsightSummary returns grouped counts of the qualitative insight records
// attached to a company.
func (s *Service) GetInsightSummary(ctx context.Context, companyID CompanyID) ([]InsightSummaryRow, error) {
	var rows []InsightSummaryRow
	err := s.db.WithContext(ctx).
		Model(&CompanyInsight{}).
		Select("category, sentiment, COUNT(*) AS count").
		Where("company_id = ?", companyID.String()).
		Group("category").
		Group("sentiment").
		Order("category ASC, sentiment ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opInsightSummary, "query_failed", err, zap.String("company_id", companyID.String()))
		return nil, newServiceError(opInsightSummary, "query_failed", err)
	}
	return rows, nil
}

// recomputeTx performs one full scoring pass inside the caller's transaction:
// aggregate votes, blend promises, classify confidence, upsert the aggregate,
// append rate-limited history, and fan out notifications past the threshold.
func (s *Service) recomputeTx(ctx context.Context, tx *gorm.DB, companyID CompanyID) (CompanyScoreAggregate, error) {
	now := s.clock().UTC()

	var votes []Vote
	if err := tx.Where("company_id = ?", companyID.String()).Find(&votes).Error; err != nil {
		s.logError(opRecompute, "votes_select_failed", err, zap.String("company_id", companyID.String()))
		return CompanyScoreAggregate{}, newServiceError(opRecompute, "votes_select_failed", err)
	}

	profiles, err := voters.ProfilesByUserID(tx, voterIDs(votes))
	if err != nil {
		s.logError(opRecompute, "profiles_select_failed", err, zap.String("company_id", companyID.String()))
		return CompanyScoreAggregate{}, newServiceError(opRecompute, "profiles_select_failed", err)
	}

	weighted := make(map[Dimension][]WeightedVote, len(Dimensions()))
	var expertVotes int64
	for _, vote := range votes {
		profile := profiles[vote.UserID]
		if profile.IsExpert {
			expertVotes++
		}
		weighted[vote.Dimension] = append(weighted[vote.Dimension], WeightedVote{
			Score: vote.Score,
			Weight: VoteWeight(VoteWeightInput{
				Reputation:    profile.Reputation,
				IsExpert:      profile.IsExpert,
				CastAtSeconds: vote.CreatedAtSeconds,
				EvaluatedAt:   now,
			}),
		})
	}

	var promises []Promise
	if err := tx.Where("company_id = ?", companyID.String()).Find(&promises).Error; err != nil {
		s.logError(opRecompute, "promises_select_failed", err, zap.String("company_id", companyID.String()))
		return CompanyScoreAggregate{}, newServiceError(opRecompute, "promises_select_failed", err)
	}
	promiseRatio := PromiseRatio(promises)

	dimensions := DimensionScores{
		Ethics:      AggregateDimension(weighted[DimensionEthics]),
		Credibility: AggregateDimension(weighted[DimensionCredibility]),
		Delivery:    AggregateDimension(weighted[DimensionDelivery]),
		Security:    AggregateDimension(weighted[DimensionSecurity]),
		Innovation:  AggregateDimension(weighted[DimensionInnovation]),
	}
	dimensions.Delivery = AdjustDelivery(dimensions.Delivery, promiseRatio)

	next := CompanyScoreAggregate{
		CompanyID:        companyID.String(),
		OverallScore:     OverallScore(dimensions),
		EthicsScore:      dimensions.Ethics,
		CredibilityScore: dimensions.Credibility,
		DeliveryScore:    dimensions.Delivery,
		SecurityScore:    dimensions.Security,
		InnovationScore:  dimensions.Innovation,
		PromiseScore:     round1(promiseRatio * 10),
		TotalVotes:       int64(len(votes)),
		ExpertVotes:      expertVotes,
		ConfidenceLevel:  ClassifyConfidence(int64(len(votes)), expertVotes),
		UpdatedAtSeconds: now.Unix(),
	}

	var previous CompanyScoreAggregate
	var previousPtr *CompanyScoreAggregate
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyID.String()).
		Take(&previous).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		previousPtr = nil
	} else if err != nil {
		s.logError(opRecompute, "aggregate_select_failed", err, zap.String("company_id", companyID.String()))
		return CompanyScoreAggregate{}, newServiceError(opRecompute, "aggregate_select_failed", err)
	} else {
		previousPtr = &previous
	}

	if err := upsertAggregate(tx, previousPtr, &next); err != nil {
		if errors.Is(err, ErrScoreConflict) {
			return CompanyScoreAggregate{}, newServiceError(opRecompute, "aggregate_conflict", err)
		}
		s.logError(opRecompute, "aggregate_write_failed", err, zap.String("company_id", companyID.String()))
		return CompanyScoreAggregate{}, newServiceError(opRecompute, "aggregate_write_failed", err)
	}

	// First write: nothing to diff, no history, no fan-out.
	if previousPtr == nil {
		return next, nil
	}

	signedDelta := round1(next.OverallScore - previous.OverallScore)
	changeAmount := math.Abs(signedDelta)

	if changeAmount >= historyChangeThreshold {
		if err := s.appendHistory(tx, &next, changeAmount, now); err != nil {
			return CompanyScoreAggregate{}, err
		}
	}

	if changeAmount >= notifyChangeThreshold && s.notifier != nil {
		change := ScoreChange{
			CompanyID:       next.CompanyID,
			PreviousOverall: previous.OverallScore,
			NewOverall:      next.OverallScore,
			Delta:           signedDelta,
		}
		// Best effort: a notification failure never fails the pass.
		if err := s.notifier.ScoreChanged(ctx, tx, change); err != nil {
			s.logError(opRecompute, "notify_failed", err, zap.String("company_id", next.CompanyID))
		}
	}

	return next, nil
}

// appendHistory writes a snapshot unless a recent one already covers this
// company, keeping the audit trail rate-limited.
func (s *Service) appendHistory(tx *gorm.DB, aggregate *CompanyScoreAggregate, changeAmount float64, now time.Time) error {
	var latest ScoreHistoryEntry
	err := tx.Where("company_id = ?", aggregate.CompanyID).
		Order("recorded_at_s DESC, entry_id DESC").
		Take(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRecompute, "history_select_failed", err, zap.String("company_id", aggregate.CompanyID))
		return newServiceError(opRecompute, "history_select_failed", err)
	}
	if err == nil && now.Unix()-latest.RecordedAtSeconds < int64(historyMinInterval/time.Second) {
		return nil
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecompute, "id_generation_failed", err, zap.String("company_id", aggregate.CompanyID))
		return newServiceError(opRecompute, "id_generation_failed", err)
	}

	entry := ScoreHistoryEntry{
		EntryID:           entryID,
		CompanyID:         aggregate.CompanyID,
		OverallScore:      aggregate.OverallScore,
		EthicsScore:       aggregate.EthicsScore,
		CredibilityScore:  aggregate.CredibilityScore,
		DeliveryScore:     aggregate.DeliveryScore,
		SecurityScore:     aggregate.SecurityScore,
		InnovationScore:   aggregate.InnovationScore,
		ChangeAmount:      changeAmount,
		RecordedAtSeconds: now.Unix(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.logError(opRecompute, "history_insert_failed", err, zap.String("company_id", aggregate.CompanyID))
		return newServiceError(opRecompute, "history_insert_failed", err)
	}
	return nil
}

// upsertAggregate performs the version-checked insert-or-replace of the
// company aggregate. A stale version means another recompute won the race.
func upsertAggregate(tx *gorm.DB, previous, next *CompanyScoreAggregate) error {
	if previous == nil {
		next.Version = 1
		return tx.Create(next).Error
	}

	next.Version = previous.Version + 1
	result := tx.Model(&CompanyScoreAggregate{}).
		Where("company_id = ? AND version = ?", next.CompanyID, previous.Version).
		Updates(map[string]interface{}{
			"overall_score":     next.OverallScore,
			"ethics_score":      next.EthicsScore,
			"credibility_score": next.CredibilityScore,
			"delivery_score":    next.DeliveryScore,
			"security_score":    next.SecurityScore,
			"innovation_score":  next.InnovationScore,
			"promise_score":     next.PromiseScore,
			"total_votes":       next.TotalVotes,
			"expert_votes":      next.ExpertVotes,
			"confidence_level":  next.ConfidenceLevel,
			"version":           next.Version,
			"updated_at_s":      next.UpdatedAtSeconds,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrScoreConflict
	}
	return nil
}

func voterIDs(votes []Vote) []string {
	seen := make(map[string]struct{}, len(votes))
	ids := make([]string, 0, len(votes))
	for _, vote := range votes {
		if _, ok := seen[vote.UserID]; ok {
			continue
		}
		seen[vote.UserID] = struct{}{}
		ids = append(ids, vote.UserID)
	}
	return ids
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("scoring service error", attrs...)
}
