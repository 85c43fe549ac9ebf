package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/painreview/internal/history"
	"github.com/painreview/pkg/models"
)

type submitReviewRequest struct {
	SourceText   string `json:"source_text"`
	LanguageHint string `json:"language_hint"`
	ReviewType   string `json:"review_type"`
	RequestedBy  string `json:"requested_by"`
}

type sessionRequest struct {
	RequestID string `json:"request_id"`
	Role      string `json:"role,omitempty"`
	Opinion   *int   `json:"opinion,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type contributionRequest struct {
	Role    string `json:"role"`
	Opinion int    `json:"opinion"`
	Notes   string `json:"notes,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) submitReview(c echo.Context) error {
	var body submitReviewRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.SourceText) == "" {
		return badRequest(c, "source_text is required")
	}

	reviewType, err := models.ParseReviewType(body.ReviewType)
	if err != nil {
		return badRequest(c, err.Error())
	}

	requestID, err := s.engine.Submit(body.SourceText, body.LanguageHint, reviewType, body.RequestedBy)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"request_id": requestID})
}

func (s *Server) getResult(c echo.Context) error {
	result, err := s.engine.Result(c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) cancelReview(c echo.Context) error {
	cancelled := s.engine.Cancel(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) queryHistory(c echo.Context) error {
	filter := history.Filter{
		RequestID: c.QueryParam("request_id"),
		Tier:      models.SeverityTier(strings.ToUpper(c.QueryParam("tier"))),
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "since must be RFC3339")
		}
		filter.Since = t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "until must be RFC3339")
		}
		filter.Until = t
	}
	filter.Page, _ = strconv.Atoi(c.QueryParam("page"))
	filter.PerPage, _ = strconv.Atoi(c.QueryParam("per_page"))

	return c.JSON(http.StatusOK, s.engine.QueryHistory(filter))
}

func (s *Server) openOrJoinSession(c echo.Context) error {
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.RequestID == "" {
		return badRequest(c, "request_id is required")
	}

	var role models.ReviewerRole
	if body.Role != "" {
		parsed, err := models.ParseReviewerRole(body.Role)
		if err != nil {
			return badRequest(c, err.Error())
		}
		role = parsed
	}

	sessionID, err := s.engine.OpenOrJoinSession(body.RequestID, role, body.Opinion, body.Notes)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"session_id": sessionID})
}

func (s *Server) getSession(c echo.Context) error {
	session, err := s.engine.Session(c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) contribute(c echo.Context) error {
	var body contributionRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	role, err := models.ParseReviewerRole(body.Role)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.engine.Contribute(c.Param("id"), role, body.Opinion, body.Notes); err != nil {
		return domainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) closeSession(c echo.Context) error {
	if err := s.engine.CloseSession(c.Param("id")); err != nil {
		return domainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// pollEvents drains a short-lived subscription and returns whatever
// arrives within the wait window. Consumers needing full streams keep
// their own subscription via the engine API; this endpoint is a
// bounded poll, not a replay.
func (s *Server) pollEvents(c echo.Context) error {
	var kinds []models.EventKind
	if v := c.QueryParam("kinds"); v != "" {
		for _, kind := range strings.Split(v, ",") {
			kinds = append(kinds, models.EventKind(strings.TrimSpace(kind)))
		}
	}

	maxEvents := 50
	if v, err := strconv.Atoi(c.QueryParam("max")); err == nil && v > 0 && v < maxEvents {
		maxEvents = v
	}
	waitMS := 1000
	if v, err := strconv.Atoi(c.QueryParam("wait_ms")); err == nil && v > 0 && v <= 30000 {
		waitMS = v
	}

	sub, err := s.engine.Subscribe(kinds...)
	if err != nil {
		return domainError(c, err)
	}
	defer sub.Close()

	collected := make([]models.Event, 0, maxEvents)
	deadline := time.After(time.Duration(waitMS) * time.Millisecond)
	for len(collected) < maxEvents {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return c.JSON(http.StatusOK, collected)
			}
			collected = append(collected, ev)
		case <-deadline:
			return c.JSON(http.StatusOK, collected)
		case <-c.Request().Context().Done():
			return c.JSON(http.StatusOK, collected)
		}
	}
	return c.JSON(http.StatusOK, collected)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Code: "bad_request", Message: message})
}

// domainError maps a typed engine error to its HTTP status and stable
// code. Unknown errors surface as a generic internal failure.
func domainError(c echo.Context, err error) error {
	code := models.ErrorCode(err)
	status := http.StatusInternalServerError
	message := err.Error()

	var closed *models.SessionClosedError
	var notAssigned *models.RoleNotAssignedError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
	case errors.As(err, &notAssigned):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &closed):
		status = http.StatusConflict
	case errors.Is(err, models.ErrEngineShutdown):
		status = http.StatusServiceUnavailable
	default:
		message = "internal error"
	}
	return c.JSON(status, errorBody{Code: code, Message: message})
}
