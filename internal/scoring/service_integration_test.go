package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/trustboard/internal/voters"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type recordingNotifier struct {
	changes []ScoreChange
}

func (n *recordingNotifier) ScoreChanged(_ context.Context, _ *gorm.DB, change ScoreChange) error {
	n.changes = append(n.changes, change)
	return nil
}

func newTestEngine(t *testing.T) (*Service, *gorm.DB, *testClock, *recordingNotifier) {
	t.Helper()

	dsn := fmt.Sprintf("file:trustboard_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&Vote{}, &Promise{}, &CompanyScoreAggregate{}, &ScoreHistoryEntry{}, &CompanyInsight{},
		&voters.Profile{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	notifier := &recordingNotifier{}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to construct scoring service: %v", err)
	}

	return service, db, clock, notifier
}

func mustCompanyID(t *testing.T, value string) CompanyID {
	t.Helper()
	id, err := NewCompanyID(value)
	if err != nil {
		t.Fatalf("unexpected company id error: %v", err)
	}
	return id
}

func mustVoterID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func countHistory(t *testing.T, db *gorm.DB, companyID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&ScoreHistoryEntry{}).Where("company_id = ?", companyID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count history: %v", err)
	}
	return count
}

func TestRecomputeFirstWriteProducesNeutralAggregate(t *testing.T) {
	service, db, _, notifier := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")

	aggregate, err := service.Recompute(context.Background(), companyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if aggregate.OverallScore != 5.0 {
		t.Fatalf("overall: got %v, want 5.0", aggregate.OverallScore)
	}
	for name, score := range map[string]float64{
		"ethics":      aggregate.EthicsScore,
		"credibility": aggregate.CredibilityScore,
		"delivery":    aggregate.DeliveryScore,
		"security":    aggregate.SecurityScore,
		"innovation":  aggregate.InnovationScore,
		"promise":     aggregate.PromiseScore,
	} {
		if score != 5.0 {
			t.Fatalf("%s: got %v, want neutral 5.0", name, score)
		}
	}
	if aggregate.ConfidenceLevel != ConfidenceLow {
		t.Fatalf("confidence: got %s, want low", aggregate.ConfidenceLevel)
	}
	if aggregate.Version != 1 {
		t.Fatalf("version: got %d, want 1", aggregate.Version)
	}
	if got := countHistory(t, db, "acme"); got != 0 {
		t.Fatalf("first write must not produce history, got %d entries", got)
	}
	if len(notifier.changes) != 0 {
		t.Fatalf("first write must not notify, got %d changes", len(notifier.changes))
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	service, db, _, _ := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")

	first, err := service.CastVote(context.Background(), VoteRequest{
		CompanyID: companyID,
		UserID:    mustVoterID(t, "user-1"),
		Dimension: DimensionEthics,
		Score:     8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := service.Recompute(context.Background(), companyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.OverallScore != second.OverallScore ||
		first.EthicsScore != second.EthicsScore ||
		first.TotalVotes != second.TotalVotes ||
		first.ConfidenceLevel != second.ConfidenceLevel {
		t.Fatalf("redundant recompute changed the aggregate: %+v vs %+v", first, second)
	}
	if got := countHistory(t, db, "acme"); got != 0 {
		t.Fatalf("zero-delta recompute must not append history, got %d entries", got)
	}
}

func TestRecomputeWeightsVotesByProfileAndAge(t *testing.T) {
	service, db, clock, _ := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")
	now := clock.now

	seedProfiles := []voters.Profile{
		{UserID: "expert-1", Reputation: 1200, IsExpert: true},
		{UserID: "novice-1", Reputation: 50},
	}
	for _, profile := range seedProfiles {
		if err := db.Create(&profile).Error; err != nil {
			t.Fatalf("failed to seed profile: %v", err)
		}
	}
	seedVotes := []Vote{
		{CompanyID: "acme", UserID: "expert-1", Dimension: DimensionEthics, Score: 9, CreatedAtSeconds: now.AddDate(0, 0, -10).Unix()},
		{CompanyID: "acme", UserID: "novice-1", Dimension: DimensionEthics, Score: 3, CreatedAtSeconds: now.AddDate(0, 0, -200).Unix()},
	}
	for _, vote := range seedVotes {
		if err := db.Create(&vote).Error; err != nil {
			t.Fatalf("failed to seed vote: %v", err)
		}
	}

	aggregate, err := service.Recompute(context.Background(), companyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Weights 4.0 and 0.4: (9*4.0 + 3*0.4) / 4.4 -> 8.5.
	if aggregate.EthicsScore != 8.5 {
		t.Fatalf("ethics: got %v, want 8.5", aggregate.EthicsScore)
	}
	if aggregate.TotalVotes != 2 {
		t.Fatalf("total votes: got %d, want 2", aggregate.TotalVotes)
	}
	if aggregate.ExpertVotes != 1 {
		t.Fatalf("expert votes: got %d, want 1", aggregate.ExpertVotes)
	}
	if aggregate.ConfidenceLevel != ConfidenceMedium {
		t.Fatalf("confidence: got %s, want medium", aggregate.ConfidenceLevel)
	}
}

func TestHistoryRateLimitingWithinOneDay(t *testing.T) {
	service, db, clock, notifier := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")
	ctx := context.Background()

	// First write establishes overall 4.1 with no history.
	if _, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: mustVoterID(t, "user-1"),
		Dimension: DimensionEthics, Score: 2,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countHistory(t, db, "acme"); got != 0 {
		t.Fatalf("expected no history after first write, got %d", got)
	}

	// Ten minutes later: ethics moves to 6.0, overall 4.1 -> 5.3 (delta 1.2).
	clock.now = clock.now.Add(10 * time.Minute)
	if _, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: mustVoterID(t, "user-2"),
		Dimension: DimensionEthics, Score: 10,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countHistory(t, db, "acme"); got != 1 {
		t.Fatalf("expected one history entry, got %d", got)
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("delta 1.2 should notify once, got %d", len(notifier.changes))
	}

	// Thirty minutes after that: overall 5.3 -> 5.7 (delta 0.4) qualifies for
	// history but is rate-limited by the one-day interval.
	clock.now = clock.now.Add(30 * time.Minute)
	if _, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: mustVoterID(t, "user-3"),
		Dimension: DimensionEthics, Score: 10,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countHistory(t, db, "acme"); got != 1 {
		t.Fatalf("rate limit breached: expected one history entry, got %d", got)
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("delta 0.4 must not notify, got %d changes", len(notifier.changes))
	}

	// A day later the next qualifying change snapshots again.
	clock.now = clock.now.Add(25 * time.Hour)
	if _, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: mustVoterID(t, "user-4"),
		Dimension: DimensionEthics, Score: 10,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countHistory(t, db, "acme"); got != 2 {
		t.Fatalf("expected second history entry after interval, got %d", got)
	}
}

func TestChangeThresholdsSplitHistoryAndNotifications(t *testing.T) {
	tests := []struct {
		name                string
		previousOverall     float64
		expectHistory       int64
		expectNotifications int
	}{
		{name: "history-only", previousOverall: 4.6, expectHistory: 1, expectNotifications: 0},
		{name: "history-and-notification", previousOverall: 4.4, expectHistory: 1, expectNotifications: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, db, clock, notifier := newTestEngine(t)
			companyID := mustCompanyID(t, "acme")

			seed := CompanyScoreAggregate{
				CompanyID:        "acme",
				OverallScore:     tt.previousOverall,
				EthicsScore:      tt.previousOverall,
				CredibilityScore: tt.previousOverall,
				DeliveryScore:    tt.previousOverall,
				SecurityScore:    tt.previousOverall,
				InnovationScore:  tt.previousOverall,
				PromiseScore:     5.0,
				ConfidenceLevel:  ConfidenceLow,
				Version:          1,
				UpdatedAtSeconds: clock.now.Unix(),
			}
			if err := db.Create(&seed).Error; err != nil {
				t.Fatalf("failed to seed aggregate: %v", err)
			}

			// No votes: recompute lands on neutral 5.0.
			aggregate, err := service.Recompute(context.Background(), companyID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if aggregate.OverallScore != 5.0 {
				t.Fatalf("overall: got %v, want 5.0", aggregate.OverallScore)
			}

			if got := countHistory(t, db, "acme"); got != tt.expectHistory {
				t.Fatalf("history entries: got %d, want %d", got, tt.expectHistory)
			}
			if len(notifier.changes) != tt.expectNotifications {
				t.Fatalf("notifications: got %d, want %d", len(notifier.changes), tt.expectNotifications)
			}
			if tt.expectNotifications == 1 {
				change := notifier.changes[0]
				if change.PreviousOverall != tt.previousOverall || change.NewOverall != 5.0 {
					t.Fatalf("unexpected change payload: %+v", change)
				}
				if change.Delta != 0.6 {
					t.Fatalf("delta: got %v, want 0.6", change.Delta)
				}
			}
		})
	}
}

func TestUpsertAggregateDetectsStaleVersion(t *testing.T) {
	_, db, clock, _ := newTestEngine(t)

	current := CompanyScoreAggregate{
		CompanyID:        "acme",
		OverallScore:     5.0,
		ConfidenceLevel:  ConfidenceLow,
		Version:          3,
		UpdatedAtSeconds: clock.now.Unix(),
	}
	if err := db.Create(&current).Error; err != nil {
		t.Fatalf("failed to seed aggregate: %v", err)
	}

	stale := current
	stale.Version = 2
	next := current
	next.OverallScore = 6.0

	err := upsertAggregate(db, &stale, &next)
	if !errors.Is(err, ErrScoreConflict) {
		t.Fatalf("expected ErrScoreConflict, got %v", err)
	}
}

func TestCastVoteReplacesExistingVote(t *testing.T) {
	service, _, _, _ := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")
	userID := mustVoterID(t, "user-1")
	ctx := context.Background()

	if _, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: userID, Dimension: DimensionSecurity, Score: 2,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aggregate, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: userID, Dimension: DimensionSecurity, Score: 8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if aggregate.TotalVotes != 1 {
		t.Fatalf("revoting must not add votes: got %d, want 1", aggregate.TotalVotes)
	}
	if aggregate.SecurityScore != 8.0 {
		t.Fatalf("security: got %v, want 8.0", aggregate.SecurityScore)
	}
}

func TestCastVoteRejectsOutOfRangeScore(t *testing.T) {
	service, _, _, _ := newTestEngine(t)

	_, err := service.CastVote(context.Background(), VoteRequest{
		CompanyID: mustCompanyID(t, "acme"),
		UserID:    mustVoterID(t, "user-1"),
		Dimension: DimensionEthics,
		Score:     11,
	})
	if !errors.Is(err, ErrInvalidScore) {
		t.Fatalf("expected ErrInvalidScore, got %v", err)
	}
}

func TestRetractVoteLowersEvidence(t *testing.T) {
	service, db, _, _ := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")
	userID := mustVoterID(t, "expert-1")
	ctx := context.Background()

	if err := db.Create(&voters.Profile{UserID: "expert-1", Reputation: 800, IsExpert: true}).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	cast, err := service.CastVote(ctx, VoteRequest{
		CompanyID: companyID, UserID: userID, Dimension: DimensionEthics, Score: 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cast.ConfidenceLevel != ConfidenceMedium {
		t.Fatalf("confidence with expert vote: got %s, want medium", cast.ConfidenceLevel)
	}

	retracted, err := service.RetractVote(ctx, companyID, userID, DimensionEthics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retracted.TotalVotes != 0 {
		t.Fatalf("total votes after retract: got %d, want 0", retracted.TotalVotes)
	}
	if retracted.EthicsScore != 5.0 {
		t.Fatalf("ethics after retract: got %v, want neutral 5.0", retracted.EthicsScore)
	}
	if retracted.ConfidenceLevel != ConfidenceLow {
		t.Fatalf("confidence after retract: got %s, want low", retracted.ConfidenceLevel)
	}
}

func TestResolvePromiseAdjustsDelivery(t *testing.T) {
	service, _, _, _ := newTestEngine(t)
	companyID := mustCompanyID(t, "acme")
	ctx := context.Background()

	promise, err := service.RecordPromise(ctx, PromiseRequest{CompanyID: companyID, Title: "Ship v2 by Q3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if promise.Status != PromiseStatusPending {
		t.Fatalf("new promise status: got %s, want pending", promise.Status)
	}

	aggregate, err := service.ResolvePromise(ctx, promise.PromiseID, PromiseResolution{Status: PromiseStatusKept})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if aggregate.PromiseScore != 10.0 {
		t.Fatalf("promise score: got %v, want 10.0", aggregate.PromiseScore)
	}
	// Neutral delivery 5.0 blended with a perfect ratio: 5*0.7 + 10*0.3 = 6.5.
	if aggregate.DeliveryScore != 6.5 {
		t.Fatalf("delivery: got %v, want 6.5", aggregate.DeliveryScore)
	}
	if aggregate.OverallScore != 5.3 {
		t.Fatalf("overall: got %v, want 5.3", aggregate.OverallScore)
	}
}

func TestResolveUnknownPromise(t *testing.T) {
	service, _, _, _ := newTestEngine(t)

	_, err := service.ResolvePromise(context.Background(), "missing", PromiseResolution{Status: PromiseStatusKept})
	if !errors.Is(err, ErrPromiseNotFound) {
		t.Fatalf("expected ErrPromiseNotFound, got %v", err)
	}
}

func TestGetLatestReturnsNilBeforeFirstRecompute(t *testing.T) {
	service, _, _, _ := newTestEngine(t)

	aggregate, err := service.GetLatest(context.Background(), mustCompanyID(t, "acme"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aggregate != nil {
		t.Fatalf("expected nil aggregate, got %+v", aggregate)
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	service, db, _, _ := newTestEngine(t)

	entries := []ScoreHistoryEntry{
		{EntryID: "older", CompanyID: "acme", OverallScore: 4.0, ChangeAmount: 0.2, RecordedAtSeconds: 1700000000},
		{EntryID: "newer", CompanyID: "acme", OverallScore: 4.5, ChangeAmount: 0.5, RecordedAtSeconds: 1700090000},
	}
	for _, entry := range entries {
		if err := db.Create(&entry).Error; err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}
	}

	history, err := service.GetHistory(context.Background(), mustCompanyID(t, "acme"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].EntryID != "newer" || history[1].EntryID != "older" {
		t.Fatalf("history not newest-first: %s, %s", history[0].EntryID, history[1].EntryID)
	}
}

func TestGetInsightSummaryGroupsCounts(t *testing.T) {
	service, db, _, _ := newTestEngine(t)

	insights := []CompanyInsight{
		{InsightID: "i-1", CompanyID: "acme", Category: "pricing", Sentiment: "negative", CreatedAtSeconds: 1700000000},
		{InsightID: "i-2", CompanyID: "acme", Category: "pricing", Sentiment: "negative", CreatedAtSeconds: 1700000100},
		{InsightID: "i-3", CompanyID: "acme", Category: "support", Sentiment: "positive", CreatedAtSeconds: 1700000200},
		{InsightID: "i-4", CompanyID: "other", Category: "support", Sentiment: "positive", CreatedAtSeconds: 1700000300},
	}
	for _, insight := range insights {
		if err := db.Create(&insight).Error; err != nil {
			t.Fatalf("failed to seed insight: %v", err)
		}
	}

	rows, err := service.GetInsightSummary(context.Background(), mustCompanyID(t, "acme"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	if rows[0].Category != "pricing" || rows[0].Sentiment != "negative" || rows[0].Count != 2 {
		t.Fatalf("unexpected first group: %+v", rows[0])
	}
	if rows[1].Category != "support" || rows[1].Sentiment != "positive" || rows[1].Count != 1 {
		t.Fatalf("unexpected second group: %+v", rows[1])
	}
}
