package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"journal-api/domain"
)

type taskForm struct {
	Title       string
	Description string
}

type dayPage struct {
	Principal  Principal
	Day        time.Time
	Date       string
	Month      string
	PrevMonth  string
	PrevDay    string
	NextDay    string
	NextMonth  string
	CanAdvance bool
	Tasks      []domain.Task
	Error      string
	Form       taskForm
	Delete     *domain.Task
	Calendar   *domain.MonthGrid
	RequestID  string
}

func registerPages(e *echo.Echo, d Deps) {
	e.Renderer = d.Pages
	session := RequirePageSession(d.Auth, d.Session != nil, d.Logger)
	e.GET("/", showDay(d.Tasks, d.Logger), session)
	e.POST("/tasks", createFromForm(d.Tasks, d.Deduper, d.Logger), session)
	e.POST("/tasks/:id", editFromForm(d.Tasks, d.Logger), session)
	e.POST("/tasks/:id/resolve", toggleFromForm(d.Tasks, d.Logger), session)
	e.GET("/tasks/:id/delete", confirmDelete(d.Tasks, d.Logger), session)
	e.POST("/tasks/:id/delete", deleteFromForm(d.Tasks, d.Logger), session)
}

// pageCursor reads the day from a query or form value. Unparseable days fall
// back to today and future days clamp to today.
func pageCursor(svc TaskService, raw string) domain.Cursor {
	if raw == "" {
		return svc.Cursor(time.Time{})
	}
	day, err := domain.ParseDay(raw, svc.Location())
	if err != nil {
		return svc.Cursor(time.Time{})
	}
	return svc.Cursor(day)
}

func dayURL(cur domain.Cursor) string {
	if cur.IsToday() {
		return "/"
	}
	return "/?date=" + url.QueryEscape(cur.String())
}

func newDayPage(c echo.Context, cur domain.Cursor) *dayPage {
	return &dayPage{
		Principal:  principalFrom(c),
		Day:        cur.Day,
		Date:       cur.String(),
		Month:      cur.Day.Format(domain.MonthLayout),
		PrevMonth:  cur.PrevMonth().String(),
		PrevDay:    cur.PrevDay().String(),
		NextDay:    cur.NextDay().String(),
		NextMonth:  cur.NextMonth().String(),
		CanAdvance: cur.CanAdvance(),
		RequestID:  uuid.NewString(),
	}
}

// renderDay loads the day's tasks into page and renders it with status.
func renderDay(c echo.Context, svc TaskService, logger *log.Logger, cur domain.Cursor, page *dayPage, status int) (err error) {
	metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger, "/")
	c.SetRequest(c.Request().WithContext(spanCtx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()
	metrics.SetDay(cur.String())

	fetchStart := time.Now()
	tasks, err := svc.ListDay(spanCtx, principalFrom(c).Subject, cur.Day)
	metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		metrics.SetErrorStage("storage")
		logger.WithError(err).Error("list tasks for page")
		return c.String(http.StatusInternalServerError, "internal error")
	}
	resolved := 0
	for _, t := range tasks {
		if t.Resolved {
			resolved++
		}
	}
	metrics.SetTasks(len(tasks), resolved)
	page.Tasks = tasks

	encodeStart := time.Now()
	err = c.Render(status, "day", page)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("render")
	}
	return err
}

func showDay(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.QueryParam("date"))
		page := newDayPage(c, cur)
		if raw := c.QueryParam("calendar"); raw != "" {
			month, err := domain.ParseMonth(raw, svc.Location())
			if err != nil {
				month = cur.Day
			}
			if month.After(cur.Today) {
				month = cur.Today
			}
			grid := domain.NewMonthGrid(month, cur.Day, cur.Today)
			page.Calendar = &grid
		}
		return renderDay(c, svc, logger, cur, page, http.StatusOK)
	}
}

// createFromForm creates a task. Each rendered form carries a request id, so
// a resubmitted form redirects without creating a second task.
func createFromForm(svc TaskService, dedup Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.FormValue("date"))
		in := domain.NewTask{
			Title:       c.FormValue("title"),
			Description: c.FormValue("description"),
			Day:         cur.Day,
		}
		ctx := c.Request().Context()
		owner := principalFrom(c).Subject
		fresh, release := claimOnce(ctx, dedup, logger, owner, c.FormValue(requestIDField))
		if !fresh {
			return c.Redirect(http.StatusSeeOther, dayURL(cur))
		}
		if _, err := svc.Create(ctx, owner, in); err != nil {
			release()
			return formError(c, svc, logger, cur, err, taskForm{Title: in.Title, Description: in.Description})
		}
		return c.Redirect(http.StatusSeeOther, dayURL(cur))
	}
}

func editFromForm(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.FormValue("date"))
		form, err := c.FormParams()
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid form")
		}
		var patch domain.TaskPatch
		if _, ok := form["title"]; ok {
			patch.Title = domain.StringPtr(form.Get("title"))
		}
		if _, ok := form["description"]; ok {
			patch.Description = domain.StringPtr(form.Get("description"))
		}
		if _, err := svc.Edit(c.Request().Context(), principalFrom(c).Subject, c.Param("id"), patch); err != nil {
			return formError(c, svc, logger, cur, err, taskForm{})
		}
		return c.Redirect(http.StatusSeeOther, dayURL(cur))
	}
}

func toggleFromForm(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.FormValue("date"))
		if _, err := svc.ToggleResolved(c.Request().Context(), principalFrom(c).Subject, c.Param("id")); err != nil {
			return formError(c, svc, logger, cur, err, taskForm{})
		}
		return c.Redirect(http.StatusSeeOther, dayURL(cur))
	}
}

func confirmDelete(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.QueryParam("date"))
		task, err := svc.Get(c.Request().Context(), principalFrom(c).Subject, c.Param("id"))
		if err != nil {
			return formError(c, svc, logger, cur, err, taskForm{})
		}
		page := newDayPage(c, cur)
		page.Delete = &task
		return renderDay(c, svc, logger, cur, page, http.StatusOK)
	}
}

// deleteFromForm only deletes when the modal's confirm button was used.
func deleteFromForm(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur := pageCursor(svc, c.FormValue("date"))
		confirmed := c.FormValue("confirm") == "yes"
		err := svc.Delete(c.Request().Context(), principalFrom(c).Subject, c.Param("id"), confirmed)
		if err != nil && !errors.Is(err, domain.ErrDeleteNotConfirmed) {
			return formError(c, svc, logger, cur, err, taskForm{})
		}
		return c.Redirect(http.StatusSeeOther, dayURL(cur))
	}
}

// formError re-renders the day with the failure message and its HTTP status.
func formError(c echo.Context, svc TaskService, logger *log.Logger, cur domain.Cursor, err error, form taskForm) error {
	status := statusFor(err)
	page := newDayPage(c, cur)
	page.Form = form
	if status == http.StatusInternalServerError {
		logger.WithFields(log.Fields{"method": c.Request().Method, "path": c.Path()}).WithError(err).Error("request failed")
		page.Error = "Something went wrong. Please try again."
	} else {
		page.Error = userMessage(err)
	}
	return renderDay(c, svc, logger, cur, page, status)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "That task no longer exists."
	case errors.Is(err, domain.ErrTaskResolved):
		return "Resolved tasks are read-only. Reopen the task to edit it."
	case errors.Is(err, domain.ErrFutureDate):
		return "Tasks cannot be added to future days."
	default:
		return err.Error()
	}
}
