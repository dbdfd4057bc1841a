package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"journal-api/domain"
)

var errBadDate = errors.New("invalid date")

// Deps bundles what the routes need. Session and Events are optional.
type Deps struct {
	Tasks   TaskService
	Drafts  Drafts
	Auth    Authenticator
	Session *Session
	Events  *Broker
	Pages   *Renderer
	Deduper Deduper
	Logger  *log.Logger
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.New()
	}
	e.JSONSerializer = SonicSerializer{}

	e.GET("/healthz", healthz())
	e.GET("/metrics", echoprometheus.NewHandler())

	if d.Session != nil {
		e.GET("/auth/login", d.Session.Login)
		e.GET("/auth/callback", d.Session.Callback)
		e.GET("/auth/logout", d.Session.Logout)
	}

	g := e.Group("/api", RequireAPISession(d.Auth, d.Logger))
	g.GET("/me", getMe())
	g.GET("/tasks", getTasks(d.Tasks, d.Logger))
	g.POST("/tasks", postTask(d.Tasks, d.Deduper, d.Logger))
	g.GET("/tasks/:id", getTask(d.Tasks, d.Drafts, d.Logger))
	g.PATCH("/tasks/:id", patchTask(d.Tasks, d.Logger))
	g.PUT("/tasks/:id/draft", putDraft(d.Tasks, d.Drafts, d.Logger))
	g.POST("/tasks/:id/resolve", postResolve(d.Tasks, d.Logger))
	g.DELETE("/tasks/:id", deleteTask(d.Tasks, d.Logger))
	g.GET("/cursor", getCursor(d.Tasks))
	if d.Events != nil {
		g.GET("/stream", streamTasks(d.Tasks, d.Events, d.Logger))
	}

	if d.Pages != nil {
		registerPages(e, d)
	}
}

type dayResponse struct {
	Date       string        `json:"date"`
	Today      string        `json:"today"`
	CanAdvance bool          `json:"canAdvance"`
	Tasks      []domain.Task `json:"tasks"`
}

type taskResponse struct {
	domain.Task
	Draft *domain.TaskPatch `json:"draft,omitempty"`
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

type draftResponse struct {
	ID      string           `json:"id"`
	Pending domain.TaskPatch `json:"pending"`
}

type cursorResponse struct {
	Date       string `json:"date"`
	Today      string `json:"today"`
	IsToday    bool   `json:"isToday"`
	CanAdvance bool   `json:"canAdvance"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
}

func getMe() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, principalFrom(c))
	}
}

func getTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger, "/api/tasks")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx := spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		metrics.ObserveAuth(authDurationFrom(c))

		cur, dayErr := selectedDay(c, svc)
		if dayErr != nil {
			metrics.SetErrorStage("date")
			return respondError(c, logger, dayErr)
		}
		metrics.SetDay(cur.String())

		fetchStart := time.Now()
		tasks, fetchErr := svc.ListDay(ctx, principalFrom(c).Subject, cur.Day)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			return respondError(c, logger, fetchErr)
		}
		resolved := 0
		for _, t := range tasks {
			if t.Resolved {
				resolved++
			}
		}
		metrics.SetTasks(len(tasks), resolved)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, dayResponse{
			Date:       cur.String(),
			Today:      cur.Today.Format(domain.DayLayout),
			CanAdvance: cur.CanAdvance(),
			Tasks:      tasks,
		})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// postTask creates a task. A repeated Idempotency-Key is answered with 409
// and creates nothing.
func postTask(svc TaskService, dedup Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		in := domain.NewTask{Title: req.Title, Description: req.Description}
		if req.Date != "" {
			day, err := domain.ParseDay(req.Date, svc.Location())
			if err != nil {
				return respondError(c, logger, errBadDate)
			}
			in.Day = day
		}
		ctx := c.Request().Context()
		owner := principalFrom(c).Subject
		fresh, release := claimOnce(ctx, dedup, logger, owner, c.Request().Header.Get(idempotencyHeader))
		if !fresh {
			return c.String(http.StatusConflict, "duplicate request")
		}
		task, err := svc.Create(ctx, owner, in)
		if err != nil {
			release()
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(svc TaskService, drafts Drafts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := principalFrom(c).Subject
		task, err := svc.Get(c.Request().Context(), owner, c.Param("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		resp := taskResponse{Task: task}
		if drafts != nil {
			if p, ok := drafts.Pending(owner, task.ID); ok {
				resp.Draft = &p
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func patchTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c.Request().Body, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		task, err := svc.Edit(c.Request().Context(), principalFrom(c).Subject, c.Param("id"), patch)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

// putDraft queues a debounced edit. The checks a flush would fail are done
// up front so the client hears about them.
func putDraft(svc TaskService, drafts Drafts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if drafts == nil {
			return c.String(http.StatusServiceUnavailable, "autosave disabled")
		}
		var patch domain.TaskPatch
		if err := decodeBody(c.Request().Body, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		patch = patch.Normalize()
		if err := patch.Validate(); err != nil {
			return respondError(c, logger, err)
		}
		owner := principalFrom(c).Subject
		id := c.Param("id")
		cur, err := svc.Get(c.Request().Context(), owner, id)
		if err != nil {
			return respondError(c, logger, err)
		}
		if err := cur.CheckPatch(patch); err != nil {
			return respondError(c, logger, err)
		}
		if err := drafts.Submit(owner, id, patch); err != nil {
			logger.WithError(err).Warn("draft rejected")
			return c.String(http.StatusServiceUnavailable, "autosave unavailable")
		}
		pending, _ := drafts.Pending(owner, id)
		return c.JSON(http.StatusAccepted, draftResponse{ID: id, Pending: pending})
	}
}

func postResolve(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := svc.ToggleResolved(c.Request().Context(), principalFrom(c).Subject, c.Param("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		confirmed := strings.EqualFold(c.QueryParam("confirm"), "true")
		if err := svc.Delete(c.Request().Context(), principalFrom(c).Subject, c.Param("id"), confirmed); err != nil {
			return respondError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getCursor(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var day time.Time
		if raw := c.QueryParam("date"); raw != "" {
			parsed, err := domain.ParseDay(raw, svc.Location())
			if err != nil {
				return c.String(http.StatusBadRequest, errBadDate.Error())
			}
			day = parsed
		}
		cur, err := svc.Cursor(day).Move(c.QueryParam("move"))
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, cursorResponse{
			Date:       cur.String(),
			Today:      cur.Today.Format(domain.DayLayout),
			IsToday:    cur.IsToday(),
			CanAdvance: cur.CanAdvance(),
		})
	}
}

// selectedDay reads ?date=, defaulting to today. Future days are rejected.
func selectedDay(c echo.Context, svc TaskService) (domain.Cursor, error) {
	today := svc.Cursor(time.Time{})
	raw := c.QueryParam("date")
	if raw == "" {
		return today, nil
	}
	day, err := domain.ParseDay(raw, svc.Location())
	if err != nil {
		return domain.Cursor{}, errBadDate
	}
	if day.After(today.Today) {
		return domain.Cursor{}, domain.ErrFutureDate
	}
	return svc.Cursor(day), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadDate),
		errors.Is(err, domain.ErrInvalidTask),
		errors.Is(err, domain.ErrFutureDate),
		errors.Is(err, domain.ErrUnknownMove):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskResolved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDeleteNotConfirmed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the status for err. Internal errors are logged and
// answered with generic text.
func respondError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithFields(log.Fields{"method": c.Request().Method, "path": c.Path()}).WithError(err).Error("request failed")
		return c.String(status, "internal error")
	}
	return c.String(status, err.Error())
}
