package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/trustboard/internal/notify"
	"github.com/MarcoPoloResearchLab/trustboard/internal/scoring"
	"github.com/MarcoPoloResearchLab/trustboard/internal/voters"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingScoringService = errors.New("scoring service dependency required")
	errMissingNotifyService  = errors.New("notify service dependency required")
	errMissingVoterService   = errors.New("voter service dependency required")
)

// Dependencies collects the services backing the HTTP surface.
type Dependencies struct {
	ScoringService *scoring.Service
	NotifyService  *notify.Service
	VoterService   *voters.Service
	Logger         *zap.Logger
}

// NewHTTPHandler wires the trustboard API routes. The surface is an internal
// service API; authentication is handled upstream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ScoringService == nil {
		return nil, errMissingScoringService
	}
	if deps.NotifyService == nil {
		return nil, errMissingNotifyService
	}
	if deps.VoterService == nil {
		return nil, errMissingVoterService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		scoring: deps.ScoringService,
		notify:  deps.NotifyService,
		voters:  deps.VoterService,
		logger:  logger,
	}

	router.PUT("/companies/:companyID/votes", handler.handleCastVote)
	router.DELETE("/companies/:companyID/votes", handler.handleRetractVote)
	router.POST("/companies/:companyID/promises", handler.handleRecordPromise)
	router.POST("/promises/:promiseID/resolution", handler.handleResolvePromise)
	router.POST("/companies/:companyID/recompute", handler.handleRecompute)
	router.GET("/companies/:companyID/score", handler.handleGetScore)
	router.GET("/companies/:companyID/score/history", handler.handleGetHistory)
	router.GET("/companies/:companyID/insights/summary", handler.handleGetInsightSummary)
	router.PUT("/companies/:companyID/subscriptions/:userID", handler.handleSubscribe)
	router.DELETE("/companies/:companyID/subscriptions/:userID", handler.handleUnsubscribe)
	router.GET("/users/:userID/notifications", handler.handleListNotifications)
	router.PUT("/voters/:userID/profile", handler.handleUpsertProfile)

	return router, nil
}

type httpHandler struct {
	scoring *scoring.Service
	notify  *notify.Service
	voters  *voters.Service
	logger  *zap.Logger
}

type aggregatePayload struct {
	CompanyID        string  `json:"company_id"`
	OverallScore     float64 `json:"overall_score"`
	EthicsScore      float64 `json:"ethics_score"`
	CredibilityScore float64 `json:"credibility_score"`
	DeliveryScore    float64 `json:"delivery_score"`
	SecurityScore    float64 `json:"security_score"`
	InnovationScore  float64 `json:"innovation_score"`
	PromiseScore     float64 `json:"promise_score"`
	TotalVotes       int64   `json:"total_votes"`
	ExpertVotes      int64   `json:"expert_votes"`
	ConfidenceLevel  string  `json:"confidence_level"`
	UpdatedAtSeconds int64   `json:"updated_at_s"`
}

func toAggregatePayload(aggregate scoring.CompanyScoreAggregate) aggregatePayload {
	return aggregatePayload{
		CompanyID:        aggregate.CompanyID,
		OverallScore:     aggregate.OverallScore,
		EthicsScore:      aggregate.EthicsScore,
		CredibilityScore: aggregate.CredibilityScore,
		DeliveryScore:    aggregate.DeliveryScore,
		SecurityScore:    aggregate.SecurityScore,
		InnovationScore:  aggregate.InnovationScore,
		PromiseScore:     aggregate.PromiseScore,
		TotalVotes:       aggregate.TotalVotes,
		ExpertVotes:      aggregate.ExpertVotes,
		ConfidenceLevel:  string(aggregate.ConfidenceLevel),
		UpdatedAtSeconds: aggregate.UpdatedAtSeconds,
	}
}

type castVotePayload struct {
	UserID    string `json:"user_id"`
	Dimension string `json:"dimension"`
	Score     int    `json:"score"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}

	var request castVotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := scoring.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	dimension, err := scoring.ParseDimension(request.Dimension)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dimension"})
		return
	}

	aggregate, err := h.scoring.CastVote(c.Request.Context(), scoring.VoteRequest{
		CompanyID: companyID,
		UserID:    userID,
		Dimension: dimension,
		Score:     request.Score,
	})
	if err != nil {
		h.writeScoringError(c, "cast vote failed", err)
		return
	}
	c.JSON(http.StatusOK, toAggregatePayload(aggregate))
}

func (h *httpHandler) handleRetractVote(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}
	userID, err := scoring.NewUserID(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	dimension, err := scoring.ParseDimension(c.Query("dimension"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dimension"})
		return
	}

	aggregate, err := h.scoring.RetractVote(c.Request.Context(), companyID, userID, dimension)
	if err != nil {
		h.writeScoringError(c, "retract vote failed", err)
		return
	}
	c.JSON(http.StatusOK, toAggregatePayload(aggregate))
}

type recordPromisePayload struct {
	Title string `json:"title"`
}

type promisePayload struct {
	PromiseID        string  `json:"promise_id"`
	CompanyID        string  `json:"company_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	CommunityVerdict *string `json:"community_verdict,omitempty"`
}

func (h *httpHandler) handleRecordPromise(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}
	var request recordPromisePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	promise, err := h.scoring.RecordPromise(c.Request.Context(), scoring.PromiseRequest{
		CompanyID: companyID,
		Title:     request.Title,
	})
	if err != nil {
		h.writeScoringError(c, "record promise failed", err)
		return
	}

	response := promisePayload{
		PromiseID: promise.PromiseID,
		CompanyID: promise.CompanyID,
		Title:     promise.Title,
		Status:    string(promise.Status),
	}
	c.JSON(http.StatusCreated, response)
}

type resolvePromisePayload struct {
	Status           string  `json:"status"`
	CommunityVerdict *string `json:"community_verdict"`
}

func (h *httpHandler) handleResolvePromise(c *gin.Context) {
	var request resolvePromisePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := scoring.ParsePromiseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	var verdict *scoring.PromiseVerdict
	if request.CommunityVerdict != nil {
		switch candidate := scoring.PromiseVerdict(*request.CommunityVerdict); candidate {
		case scoring.PromiseVerdictKept, scoring.PromiseVerdictBroken, scoring.PromiseVerdictPartial:
			verdict = &candidate
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_community_verdict"})
			return
		}
	}

	aggregate, err := h.scoring.ResolvePromise(c.Request.Context(), c.Param("promiseID"), scoring.PromiseResolution{
		Status:           status,
		CommunityVerdict: verdict,
	})
	if err != nil {
		h.writeScoringError(c, "resolve promise failed", err)
		return
	}
	c.JSON(http.StatusOK, toAggregatePayload(aggregate))
}

func (h *httpHandler) handleRecompute(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}

	aggregate, err := h.scoring.Recompute(c.Request.Context(), companyID)
	if err != nil {
		h.writeScoringError(c, "recompute failed", err)
		return
	}
	c.JSON(http.StatusOK, toAggregatePayload(aggregate))
}

func (h *httpHandler) handleGetScore(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}

	aggregate, err := h.scoring.GetLatest(c.Request.Context(), companyID)
	if err != nil {
		h.writeScoringError(c, "get score failed", err)
		return
	}
	if aggregate == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "score_not_found"})
		return
	}
	c.JSON(http.StatusOK, toAggregatePayload(*aggregate))
}

type historyEntryPayload struct {
	CompanyID         string  `json:"company_id"`
	OverallScore      float64 `json:"overall_score"`
	EthicsScore       float64 `json:"ethics_score"`
	CredibilityScore  float64 `json:"credibility_score"`
	DeliveryScore     float64 `json:"delivery_score"`
	SecurityScore     float64 `json:"security_score"`
	InnovationScore   float64 `json:"innovation_score"`
	ChangeAmount      float64 `json:"change_amount"`
	RecordedAtSeconds int64   `json:"recorded_at_s"`
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}

	entries, err := h.scoring.GetHistory(c.Request.Context(), companyID)
	if err != nil {
		h.writeScoringError(c, "get history failed", err)
		return
	}

	payload := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, historyEntryPayload{
			CompanyID:         entry.CompanyID,
			OverallScore:      entry.OverallScore,
			EthicsScore:       entry.EthicsScore,
			CredibilityScore:  entry.CredibilityScore,
			DeliveryScore:     entry.DeliveryScore,
			SecurityScore:     entry.SecurityScore,
			InnovationScore:   entry.InnovationScore,
			ChangeAmount:      entry.ChangeAmount,
			RecordedAtSeconds: entry.RecordedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (h *httpHandler) handleGetInsightSummary(c *gin.Context) {
	companyID, err := scoring.NewCompanyID(c.Param("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_company_id"})
		return
	}

	rows, err := h.scoring.GetInsightSummary(c.Request.Context(), companyID)
	if err != nil {
		h.writeScoringError(c, "get insight summary failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": rows})
}

type subscribePayload struct {
	NotifyOnUpdates *bool `json:"notify_on_updates"`
}

func (h *httpHandler) handleSubscribe(c *gin.Context) {
	var request subscribePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	notifyOnUpdates := true
	if request.NotifyOnUpdates != nil {
		notifyOnUpdates = *request.NotifyOnUpdates
	}

	err := h.notify.Subscribe(c.Request.Context(), c.Param("userID"), c.Param("companyID"), notifyOnUpdates)
	if err != nil {
		h.logger.Error("subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnsubscribe(c *gin.Context) {
	err := h.notify.Unsubscribe(c.Request.Context(), c.Param("userID"), c.Param("companyID"))
	if err != nil {
		h.logger.Error("unsubscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type notificationPayload struct {
	NotificationID   string `json:"notification_id"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	Link             string `json:"link"`
	Payload          string `json:"payload"`
	Read             bool   `json:"read"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	notifications, err := h.notify.ListForUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.logger.Error("list notifications failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_notifications_failed"})
		return
	}

	payload := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payload = append(payload, notificationPayload{
			NotificationID:   notification.NotificationID,
			Type:             notification.Type,
			Title:            notification.Title,
			Message:          notification.Message,
			Link:             notification.Link,
			Payload:          notification.PayloadJSON,
			Read:             notification.Read,
			CreatedAtSeconds: notification.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}

type upsertProfilePayload struct {
	Reputation int64 `json:"reputation"`
	IsExpert   bool  `json:"is_expert"`
}

func (h *httpHandler) handleUpsertProfile(c *gin.Context) {
	var request upsertProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.voters.UpsertProfile(c.Request.Context(), voters.Profile{
		UserID:     c.Param("userID"),
		Reputation: request.Reputation,
		IsExpert:   request.IsExpert,
	})
	if errors.Is(err, voters.ErrInvalidProfile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_profile"})
		return
	}
	if err != nil {
		h.logger.Error("upsert profile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert_profile_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) writeScoringError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, scoring.ErrScoreConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "score_conflict"})
	case errors.Is(err, scoring.ErrPromiseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "promise_not_found"})
	case errors.Is(err, scoring.ErrInvalidScore),
		errors.Is(err, scoring.ErrInvalidDimension),
		errors.Is(err, scoring.ErrInvalidCompanyID),
		errors.Is(err, scoring.ErrInvalidUserID),
		errors.Is(err, scoring.ErrInvalidPromiseStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
