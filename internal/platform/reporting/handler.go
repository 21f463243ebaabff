package reporting

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/export"
	"github.com/chw/followup/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/followup")
	g.POST("/runs", h.CreateRun)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
	g.GET("/runs/:id/workers", h.ListWorkers)
	g.GET("/runs/:id/workers/:worker", h.GetWorker)
	g.GET("/runs/:id/workers/:worker/cases", h.ListWorkerCases)
	g.GET("/runs/:id/workers/:worker/visits", h.ListWorkerVisits)
	g.GET("/runs/:id/distribution", h.GetDistribution)
	g.GET("/runs/:id/quality", h.ListQuality)
	g.GET("/runs/:id/diagnostics", h.GetDiagnostics)
	g.GET("/runs/:id/export.xlsx", h.ExportWorkbook)
}

type createRunRequest struct {
	ReferenceDate string `json:"reference_date"`
}

func (h *Handler) CreateRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ref, ok := followup.ParseDate(req.ReferenceDate)
	if strings.TrimSpace(req.ReferenceDate) != "" && !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "reference_date must be YYYY-MM-DD")
	}

	run, err := h.svc.Refresh(c.Request().Context(), ref)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, run.Summary())
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	runs, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, r.Summary())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, total, pg))
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.Summary())
}

// ListWorkers supports ?color= to filter by status color.
func (h *Handler) ListWorkers(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	workers := run.Result.Workers
	if color := strings.ToLower(strings.TrimSpace(c.QueryParam("color"))); color != "" {
		filtered := make([]followup.WorkerSummary, 0, len(workers))
		for _, w := range workers {
			if w.StatusColor == color {
				filtered = append(filtered, w)
			}
		}
		workers = filtered
	}
	return c.JSON(http.StatusOK, pagination.Page(workers, pagination.FromContext(c)))
}

func (h *Handler) GetWorker(c echo.Context) error {
	run, w, err := h.worker(c)
	if err != nil {
		return err
	}
	summary, _ := run.Result.Worker(w)
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListWorkerCases(c echo.Context) error {
	run, w, err := h.worker(c)
	if err != nil {
		return err
	}
	cases := run.Result.Cases[w]
	if cases == nil {
		cases = []followup.CaseSummary{}
	}
	return c.JSON(http.StatusOK, pagination.Page(cases, pagination.FromContext(c)))
}

// ListWorkerVisits supports ?status= to filter by visit status.
func (h *Handler) ListWorkerVisits(c echo.Context) error {
	run, w, err := h.worker(c)
	if err != nil {
		return err
	}
	visits := run.Result.VisitsByWorker[w]
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		want, ok := parseStatus(status)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+status)
		}
		filtered := make([]followup.VisitDetail, 0, len(visits))
		for _, v := range visits {
			if v.Status == want {
				filtered = append(filtered, v)
			}
		}
		visits = filtered
	}
	if visits == nil {
		visits = []followup.VisitDetail{}
	}
	return c.JSON(http.StatusOK, pagination.Page(visits, pagination.FromContext(c)))
}

func (h *Handler) GetDistribution(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.Result.Distribution)
}

func (h *Handler) ListQuality(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	if ws := c.QueryParam("worker"); ws != "" {
		q, ok := run.Result.WorkerQuality(followup.NewWorkerIdentity(ws))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "worker not found")
		}
		return c.JSON(http.StatusOK, q)
	}
	return c.JSON(http.StatusOK, run.Result.Quality)
}

func (h *Handler) GetDiagnostics(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, diagnosticsOf(run.Result))
}

func (h *Handler) ExportWorkbook(c echo.Context) error {
	run, err := h.run(c)
	if err != nil {
		return err
	}
	data, err := export.Workbook(run.Result)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	name := "followup-" + run.ReferenceDate.Format("2006-01-02") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, export.ContentType, data)
}

// run resolves :id, accepting "latest" for the most recent run.
func (h *Handler) run(c echo.Context) (*Run, error) {
	ctx := c.Request().Context()
	var (
		run *Run
		err error
	)
	if idParam := c.Param("id"); idParam == "latest" {
		run, err = h.svc.Latest(ctx)
	} else {
		id, perr := uuid.Parse(idParam)
		if perr != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
		}
		run, err = h.svc.Get(ctx, id)
	}
	if errors.Is(err, ErrRunNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return run, nil
}

func (h *Handler) worker(c echo.Context) (*Run, followup.WorkerIdentity, error) {
	run, err := h.run(c)
	if err != nil {
		return nil, "", err
	}
	w := followup.NewWorkerIdentity(c.Param("worker"))
	if _, ok := run.Result.Worker(w); !ok {
		return nil, "", echo.NewHTTPError(http.StatusNotFound, "worker not found")
	}
	return run, w, nil
}

func parseStatus(s string) (followup.VisitStatus, bool) {
	for _, st := range followup.AllStatuses() {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}
