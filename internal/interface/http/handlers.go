package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/skillforge/internal/application/command"
	"github.com/alem-hub/skillforge/internal/application/eventhandler"
	"github.com/alem-hub/skillforge/internal/application/query"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type projectRequest struct {
	Name             string             `json:"name"`
	LevelDisplayName string             `json:"level_display_name"`
	Levels           catalog.LevelTable `json:"levels"`
}

type subjectRequest struct {
	Name   string             `json:"name"`
	Levels catalog.LevelTable `json:"levels"`
}

type levelsRequest struct {
	Levels catalog.LevelTable `json:"levels"`
}

type skillRequest struct {
	Name                               string                    `json:"name"`
	PointIncrement                     int                       `json:"point_increment"`
	NumPerformToCompletion             int                       `json:"num_perform_to_completion"`
	PointIncrementInterval             int                       `json:"point_increment_interval"`
	NumMaxOccurrencesIncrementInterval int                       `json:"num_max_occurrences_increment_interval"`
	SelfReportingType                  catalog.SelfReportingType `json:"self_reporting_type"`
}

type dependencyRequest struct {
	DependentSkillID    string `json:"dependent_skill_id"`
	PrerequisiteSkillID string `json:"prerequisite_skill_id"`
}

type badgeRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ProjectID defaults to the badge's own project for project badges.
type badgeSkillRequest struct {
	ProjectID string `json:"project_id"`
	SkillID   string `json:"skill_id"`
}

type badgeLevelRequest struct {
	ProjectID string `json:"project_id"`
	MinLevel  int    `json:"min_level"`
}

// eventRequest carries the performer and an optional instant. TimestampMS wins
// over Timestamp; neither means now.
type eventRequest struct {
	UserID      string     `json:"user_id"`
	Timestamp   *time.Time `json:"timestamp"`
	TimestampMS *int64     `json:"timestamp_ms"`
}

func (r eventRequest) instant() time.Time {
	switch {
	case r.TimestampMS != nil:
		return shared.FromUnixMillis(*r.TimestampMS)
	case r.Timestamp != nil:
		return *r.Timestamp
	default:
		return time.Time{}
	}
}

type resolveRequest struct {
	Decision selfreport.Decision `json:"decision"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

type catalogChangeResponse struct {
	CatalogVersion int64 `json:"catalog_version"`
}

type ingestionResponse struct {
	Accepted  bool   `json:"accepted"`
	Counted   bool   `json:"counted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Progress  any    `json:"progress,omitempty"`
}

func toIngestion(res *command.SubmitPointEventResult) *ingestionResponse {
	return &ingestionResponse{
		Accepted:  res.Accepted,
		Counted:   res.Counted,
		Duplicate: res.Duplicate,
		Outcome:   string(res.Outcome),
		Reason:    res.Reason,
		EventID:   res.EventID,
		Progress:  res.Progress,
	}
}

type selfReportResponse struct {
	RequestID string              `json:"request_id"`
	State     selfreport.State    `json:"state"`
	Request   *selfreport.Request `json:"request"`
}

type resolveResponse struct {
	Request   *selfreport.Request `json:"request"`
	Ingestion *ingestionResponse  `json:"ingestion,omitempty"`
	// IngestionError is set when an approved event was refused, e.g. SkillLocked.
	IngestionError string `json:"ingestion_error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.HealthChecker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "uptime": s.Uptime().String()})
		return
	}
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.HealthChecker != nil && !s.deps.HealthChecker.Check(c.Request.Context()).Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG HANDLERS (/admin, /supervisor)
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleDefineProject(c *gin.Context) {
	var req projectRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.DefineProject(ctx, command.DefineProjectCommand{
			ProjectID:        c.Param("projectID"),
			Name:             req.Name,
			LevelDisplayName: req.LevelDisplayName,
			Levels:           req.Levels,
		})
	})
}

func (s *Server) handleSetProjectLevels(c *gin.Context) {
	var req levelsRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.SetLevels(ctx, command.SetLevelsCommand{
			ProjectID: c.Param("projectID"),
			Levels:    req.Levels,
		})
	})
}

func (s *Server) handleDefineSubject(c *gin.Context) {
	var req subjectRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.DefineSubject(ctx, command.DefineSubjectCommand{
			ProjectID: c.Param("projectID"),
			SubjectID: c.Param("subjectID"),
			Name:      req.Name,
			Levels:    req.Levels,
		})
	})
}

func (s *Server) handleSetSubjectLevels(c *gin.Context) {
	var req levelsRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.SetLevels(ctx, command.SetLevelsCommand{
			ProjectID: c.Param("projectID"),
			SubjectID: c.Param("subjectID"),
			Levels:    req.Levels,
		})
	})
}

func (s *Server) handleDefineSkill(c *gin.Context) {
	var req skillRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.DefineSkill(ctx, command.DefineSkillCommand{
			ProjectID:                          c.Param("projectID"),
			SubjectID:                          c.Param("subjectID"),
			SkillID:                            c.Param("skillID"),
			Name:                               req.Name,
			PointIncrement:                     req.PointIncrement,
			NumPerformToCompletion:             req.NumPerformToCompletion,
			PointIncrementInterval:             req.PointIncrementInterval,
			NumMaxOccurrencesIncrementInterval: req.NumMaxOccurrencesIncrementInterval,
			SelfReportingType:                  req.SelfReportingType,
		})
	})
}

func (s *Server) handleDefineDependency(c *gin.Context) {
	var req dependencyRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.DefineDependency(ctx, command.DefineDependencyCommand{
			ProjectID:           c.Param("projectID"),
			DependentSkillID:    req.DependentSkillID,
			PrerequisiteSkillID: req.PrerequisiteSkillID,
		})
	})
}

// handleDefineBadge serves both project badges and, without a projectID
// path parameter, global badges.
func (s *Server) handleDefineBadge(c *gin.Context) {
	var req badgeRequest
	if !bindJSON(c, &req) {
		return
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.DefineBadge(ctx, command.DefineBadgeCommand{
			ProjectID: c.Param("projectID"),
			BadgeID:   c.Param("badgeID"),
			Name:      req.Name,
			Enabled:   req.Enabled,
		})
	})
}

func (s *Server) handleAssignSkillToBadge(c *gin.Context) {
	var req badgeSkillRequest
	if !bindJSON(c, &req) {
		return
	}
	badgeProject := c.Param("projectID")
	if req.ProjectID == "" {
		req.ProjectID = badgeProject
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.AssignSkillToBadge(ctx, command.AssignSkillToBadgeCommand{
			BadgeProjectID: badgeProject,
			BadgeID:        c.Param("badgeID"),
			ProjectID:      req.ProjectID,
			SkillID:        req.SkillID,
		})
	})
}

func (s *Server) handleAssignLevelToBadge(c *gin.Context) {
	var req badgeLevelRequest
	if !bindJSON(c, &req) {
		return
	}
	badgeProject := c.Param("projectID")
	if req.ProjectID == "" {
		req.ProjectID = badgeProject
	}
	s.catalogChange(c, func(ctx context.Context) (*command.CatalogChangeResult, error) {
		return s.deps.Catalog.AssignProjectLevelToBadge(ctx, command.AssignProjectLevelToBadgeCommand{
			BadgeProjectID: badgeProject,
			BadgeID:        c.Param("badgeID"),
			ProjectID:      req.ProjectID,
			MinLevel:       req.MinLevel,
		})
	})
}

func (s *Server) catalogChange(c *gin.Context, run func(context.Context) (*command.CatalogChangeResult, error)) {
	res, err := run(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalogChangeResponse{CatalogVersion: res.Version})
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION HANDLERS (/api)
// ══════════════════════════════════════════════════════════════════════════════

// handleSubmitPointEvent answers 200 for accepted and throttled events alike;
// throttling is an outcome, not a failure.
func (s *Server) handleSubmitPointEvent(c *gin.Context) {
	var req eventRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.SubmitPointEvent.Handle(c.Request.Context(), command.SubmitPointEventCommand{
		ProjectID: c.Param("projectID"),
		SkillID:   c.Param("skillID"),
		UserID:    req.UserID,
		Timestamp: req.instant(),
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIngestion(res))
}

// handleSubmitSelfReport answers 202 with the request for Approval skills
// and 200 with the ingestion outcome for HonorSystem skills.
func (s *Server) handleSubmitSelfReport(c *gin.Context) {
	var req eventRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.SubmitSelfReport.Handle(c.Request.Context(), command.SubmitSelfReportCommand{
		ProjectID: c.Param("projectID"),
		SkillID:   c.Param("skillID"),
		UserID:    req.UserID,
		Timestamp: req.instant(),
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	if res.Pending() {
		c.JSON(http.StatusAccepted, selfReportResponse{
			RequestID: res.Request.ID,
			State:     res.Request.State,
			Request:   res.Request,
		})
		return
	}
	c.JSON(http.StatusOK, toIngestion(res.Ingestion))
}

func (s *Server) handleResolveSelfReport(c *gin.Context) {
	var req resolveRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.ResolveSelfReport.Handle(c.Request.Context(), command.ResolveSelfReportCommand{
		RequestID: c.Param("requestID"),
		Decision:  req.Decision,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	out := resolveResponse{Request: res.Request}
	if res.Ingestion != nil {
		out.Ingestion = toIngestion(res.Ingestion)
	}
	if res.IngestionErr != nil {
		_, code := classify(res.IngestionErr)
		out.Ingestion = &ingestionResponse{Accepted: false, Reason: code}
		out.IngestionError = res.IngestionErr.Error()
	}
	c.JSON(http.StatusOK, out)
}

// limitParam reads ?limit=; 0 means no limit.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSONError(c, http.StatusBadRequest, "InvalidInput", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) handleListPendingSelfReports(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := s.deps.ListPendingSelfReports.Handle(c.Request.Context(), query.ListPendingSelfReportsQuery{Limit: limit})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODEL HANDLERS (/api/users/:userID)
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetRecentAchievements(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	feed := []eventhandler.Achievement{}
	if s.deps.Achievements != nil {
		feed = append(feed, s.deps.Achievements.Recent(c.Param("userID"), limit)...)
	}
	c.JSON(http.StatusOK, gin.H{"achievements": feed})
}

func (s *Server) handleGetUserProgress(c *gin.Context) {
	dto, err := s.deps.GetUserProgress.Handle(c.Request.Context(), query.GetUserProgressQuery{
		UserID:    c.Param("userID"),
		ProjectID: c.Param("projectID"),
	})
	respond(s, c, dto, err)
}

func (s *Server) handleGetUserBadges(c *gin.Context) {
	dto, err := s.deps.GetUserBadges.Handle(c.Request.Context(), query.GetUserBadgesQuery{
		UserID:    c.Param("userID"),
		ProjectID: c.Query("project_id"),
	})
	respond(s, c, dto, err)
}

func (s *Server) handleGetDependencyStatus(c *gin.Context) {
	dto, err := s.deps.GetDependencyStatus.Handle(c.Request.Context(), query.GetDependencyStatusQuery{
		UserID:    c.Param("userID"),
		ProjectID: c.Param("projectID"),
		SkillID:   c.Param("skillID"),
	})
	respond(s, c, dto, err)
}

func (s *Server) handleGetPointHistory(c *gin.Context) {
	dto, err := s.deps.GetPointHistory.Handle(c.Request.Context(), query.GetPointHistoryQuery{
		UserID:    c.Param("userID"),
		ProjectID: c.Param("projectID"),
		TimeZone:  c.Query("tz"),
	})
	respond(s, c, dto, err)
}

func respond[T any](s *Server, c *gin.Context, dto *T, err error) {
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorStatus is checked in order; the first matching kind wins.
var errorStatus = []struct {
	kind   error
	status int
	code   string
}{
	{shared.ErrSkillLocked, http.StatusUnprocessableEntity, "SkillLocked"},
	{shared.ErrCycleDetected, http.StatusBadRequest, "CycleDetected"},
	{shared.ErrConfig, http.StatusBadRequest, "ConfigError"},
	{shared.ErrSelfReportNotAllowed, http.StatusBadRequest, "SelfReportNotAllowed"},
	{shared.ErrAlreadyResolved, http.StatusConflict, "AlreadyResolved"},
	{shared.ErrAlreadyExists, http.StatusConflict, "AlreadyExists"},
	{shared.ErrUnknownSkill, http.StatusNotFound, "UnknownSkill"},
	{shared.ErrUnknownUser, http.StatusNotFound, "UnknownUser"},
	{shared.ErrUnknownProject, http.StatusNotFound, "UnknownProject"},
	{shared.ErrUnknownSubject, http.StatusNotFound, "UnknownSubject"},
	{shared.ErrUnknownBadge, http.StatusNotFound, "UnknownBadge"},
	{shared.ErrNotFound, http.StatusNotFound, "NotFound"},
	{shared.ErrInvalidInput, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrValidation, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrInvalidID, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrEmptyValue, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrNegativeValue, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrValueOutOfRange, http.StatusBadRequest, "InvalidInput"},
	{shared.ErrLockTimeout, http.StatusServiceUnavailable, "Busy"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "Busy"},
}

// classify maps an error to its status code and machine-readable code.
func classify(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.kind) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal_server_error"
}

func (s *Server) handleError(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)

	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed", logger.Err(err), logger.String("code", code))
		writeJSONError(c, status, code, "An unexpected error occurred")
		return
	}
	if status == http.StatusUnprocessableEntity {
		c.AbortWithStatusJSON(status, gin.H{
			"accepted": false,
			"reason":   code,
			"error":    code,
			"message":  err.Error(),
		})
		return
	}
	writeJSONError(c, status, code, err.Error())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// bindJSON decodes the body into dst. An empty body leaves dst zero.
func bindJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		writeJSONError(c, http.StatusBadRequest, "InvalidInput", "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
