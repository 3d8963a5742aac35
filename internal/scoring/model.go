package scoring

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCompanyID indicates that a company identifier is empty or exceeds storage bounds.
	ErrInvalidCompanyID = errors.New("scoring: invalid company id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("scoring: invalid user id")
	// ErrInvalidDimension indicates an unknown trust dimension name.
	ErrInvalidDimension = errors.New("scoring: invalid dimension")
	// ErrInvalidScore indicates a vote score outside the accepted 1..10 range.
	ErrInvalidScore = errors.New("scoring: invalid score")
	// ErrInvalidPromiseStatus indicates an unknown promise status.
	ErrInvalidPromiseStatus = errors.New("scoring: invalid promise status")
)

// CompanyID represents a validated company identifier.
type CompanyID string

// NewCompanyID validates raw input and returns a CompanyID.
func NewCompanyID(rawInput string) (CompanyID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCompanyID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCompanyID, maxIdentifierLength)
	}
	return CompanyID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CompanyID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Dimension names one of the five independently voted trust axes.
type Dimension string

const (
	DimensionEthics      Dimension = "ethics"
	DimensionCredibility Dimension = "credibility"
	DimensionDelivery    Dimension = "delivery"
	DimensionSecurity    Dimension = "security"
	DimensionInnovation  Dimension = "innovation"
)

// Dimensions lists every trust axis in composition order.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionEthics,
		DimensionCredibility,
		DimensionDelivery,
		DimensionSecurity,
		DimensionInnovation,
	}
}

// ParseDimension validates raw input and returns a Dimension.
func ParseDimension(rawInput string) (Dimension, error) {
	candidate := Dimension(strings.ToLower(strings.TrimSpace(rawInput)))
	for _, dimension := range Dimensions() {
		if candidate == dimension {
			return dimension, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDimension, rawInput)
}

const (
	minVoteScore = 1
	maxVoteScore = 10
)

// ValidateVoteScore checks a raw vote score against the accepted range.
func ValidateVoteScore(score int) error {
	if score < minVoteScore || score > maxVoteScore {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidScore, score, minVoteScore, maxVoteScore)
	}
	return nil
}

// PromiseStatus enumerates the lifecycle states of a tracked promise.
type PromiseStatus string

const (
	PromiseStatusPending    PromiseStatus = "pending"
	PromiseStatusKept       PromiseStatus = "kept"
	PromiseStatusBroken     PromiseStatus = "broken"
	PromiseStatusDelayed    PromiseStatus = "delayed"
	PromiseStatusInProgress PromiseStatus = "in_progress"
)

// ParsePromiseStatus validates raw input and returns a PromiseStatus.
func ParsePromiseStatus(rawInput string) (PromiseStatus, error) {
	candidate := PromiseStatus(strings.ToLower(strings.TrimSpace(rawInput)))
	switch candidate {
	case PromiseStatusPending, PromiseStatusKept, PromiseStatusBroken, PromiseStatusDelayed, PromiseStatusInProgress:
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPromiseStatus, rawInput)
}

// PromiseVerdict is the community's judgement on a resolved promise.
type PromiseVerdict string

const (
	PromiseVerdictKept    PromiseVerdict = "kept"
	PromiseVerdictBroken  PromiseVerdict = "broken"
	PromiseVerdictPartial PromiseVerdict = "partial"
)

// ConfidenceLevel labels how much evidence backs an aggregate score.
type ConfidenceLevel string

const (
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
)

// Vote is one user's score for a company on a single trust dimension.
// At most one vote exists per (company, user, dimension).
type Vote struct {
	CompanyID        string    `gorm:"column:company_id;primaryKey;size:190;not null;index:idx_votes_company,priority:1"`
	UserID           string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Dimension        Dimension `gorm:"column:dimension;primaryKey;size:32;not null;index:idx_votes_company,priority:2"`
	Score            int       `gorm:"column:score;not null"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "company_votes"
}

// Promise is a tracked public commitment made by a company. It counts toward
// the kept ratio once its status leaves pending.
type Promise struct {
	PromiseID        string          `gorm:"column:promise_id;primaryKey;size:190;not null"`
	CompanyID        string          `gorm:"column:company_id;size:190;not null;index"`
	Title            string          `gorm:"column:title;size:320;not null"`
	Status           PromiseStatus   `gorm:"column:status;size:32;not null;default:pending"`
	CommunityVerdict *PromiseVerdict `gorm:"column:community_verdict;size:32"`
	CreatedAtSeconds int64           `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64           `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Promise) TableName() string {
	return "company_promises"
}

// CompanyScoreAggregate is the engine's primary output, one row per company.
// Every score column is in [0,10] rounded to one decimal place.
type CompanyScoreAggregate struct {
	CompanyID        string          `gorm:"column:company_id;primaryKey;size:190;not null"`
	OverallScore     float64         `gorm:"column:overall_score;not null"`
	EthicsScore      float64         `gorm:"column:ethics_score;not null"`
	CredibilityScore float64         `gorm:"column:credibility_score;not null"`
	DeliveryScore    float64         `gorm:"column:delivery_score;not null"`
	SecurityScore    float64         `gorm:"column:security_score;not null"`
	InnovationScore  float64         `gorm:"column:innovation_score;not null"`
	PromiseScore     float64         `gorm:"column:promise_score;not null"`
	TotalVotes       int64           `gorm:"column:total_votes;not null;default:0"`
	ExpertVotes      int64           `gorm:"column:expert_votes;not null;default:0"`
	ConfidenceLevel  ConfidenceLevel `gorm:"column:confidence_level;size:32;not null"`
	Version          int64           `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64           `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CompanyScoreAggregate) TableName() string {
	return "company_score_aggregates"
}

// ScoreHistoryEntry is an append-only snapshot of a material score movement.
type ScoreHistoryEntry struct {
	EntryID           string  `gorm:"column:entry_id;primaryKey;size:190;not null"`
	CompanyID         string  `gorm:"column:company_id;size:190;not null;index:idx_history_company_time,priority:1"`
	OverallScore      float64 `gorm:"column:overall_score;not null"`
	EthicsScore       float64 `gorm:"column:ethics_score;not null"`
	CredibilityScore  float64 `gorm:"column:credibility_score;not null"`
	DeliveryScore     float64 `gorm:"column:delivery_score;not null"`
	SecurityScore     float64 `gorm:"column:security_score;not null"`
	InnovationScore   float64 `gorm:"column:innovation_score;not null"`
	ChangeAmount      float64 `gorm:"column:change_amount;not null"`
	RecordedAtSeconds int64   `gorm:"column:recorded_at_s;not null;index:idx_history_company_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ScoreHistoryEntry) TableName() string {
	return "company_score_history"
}

// CompanyInsight is a qualitative observation attached to a company by the
// review pipeline. The engine only reads these for grouped summaries.
type CompanyInsight struct {
	InsightID        string `gorm:"column:insight_id;primaryKey;size:190;not null"`
	CompanyID        string `gorm:"column:company_id;size:190;not null;index"`
	Category         string `gorm:"column:category;size:64;not null"`
	Sentiment        string `gorm:"column:sentiment;size:32;not null"`
	Content          string `gorm:"column:content;type:text;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CompanyInsight) TableName() string {
	return "company_insights"
}

// InsightSummaryRow is one grouped count from GetInsightSummary.
type InsightSummaryRow struct {
	Category  string `gorm:"column:category"`
	Sentiment string `gorm:"column:sentiment"`
	Count     int64  `gorm:"column:count"`
}
