package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
	"ops-console/jobs"
	"ops-console/layout"
	"ops-console/session"
)

const (
	maxBodyBytes   = 1 << 20
	maxBundleBytes = 4 << 20
	healthTimeout  = 2 * time.Second
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Sessions    Sessions
	Templates   Templates
	Imports     PendingImports
	Auth        Authenticator
	Upstream    Upstream
	Syncs       *jobs.Poller[domain.SyncStatus]
	Deployments *jobs.Poller[domain.DeploymentStatus]
	Health      map[string]HealthCheck
	Logger      *log.Logger
	Now         func() time.Time
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}

	g := e.Group("/api", RequestMetrics(d.Logger))

	g.GET("/config", getConfig(d))
	g.PUT("/config", putConfig(d))

	g.GET("/layout", getLayout(d))
	g.GET("/layout/editable", getEditableLayout(d))
	g.POST("/layout/reorder", mutate(d, reorderItems))
	g.POST("/layout/items", mutate(d, addItem))
	g.PUT("/layout/items/:id", mutate(d, updateItem))
	g.DELETE("/layout/items/:id", mutate(d, removeItem))
	g.POST("/layout/items/:id/toggle", mutate(d, toggleItem))
	g.POST("/layout/save", mutate(d, saveLayout))
	g.PUT("/layout/autosave", setAutosave(d))
	g.POST("/layout/reset", mutate(d, resetLayout(d.Sessions)))

	g.GET("/templates", listTemplates(d))
	g.POST("/templates/:name/apply", applyTemplate(d))

	g.GET("/layout/export", exportLayout(d))
	g.POST("/layout/import", previewImport(d), GzipRequestMiddleware(maxBundleBytes))
	g.POST("/layout/import/:token", confirmImport(d))

	g.POST("/sync", startSync(d))
	g.GET("/sync/:id", getJob(d.Auth, d.Syncs))
	g.DELETE("/sync/:id", cancelJob(d.Auth, d.Syncs))
	g.POST("/clusters/:id/deployments", startDeployment(d))
	g.GET("/deployments/:id", getJob(d.Auth, d.Deployments))
	g.DELETE("/deployments/:id", cancelJob(d.Auth, d.Deployments))
	g.GET("/jobs/:kind/history", jobHistory(d))
	g.GET("/jobs/:kind/:id/stream", streamJobByKind(d))

	e.GET("/healthz", healthz(d.Health))
}

type healthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

func healthz(checks map[string]HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		var failed []string
		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.Logger().Warnf("health check %s: %v", name, err)
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			slices.Sort(failed)
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded", Failed: failed})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

// principal authenticates the request and records the time spent doing so.
func principal(c echo.Context, auth Authenticator) (domain.Principal, error) {
	m := metricsFrom(c)
	start := time.Now()
	p, err := auth.PrincipalFromAuthHeader(c.Request().Header.Get("Authorization"))
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
	}
	return p, err
}

func decodeBody(c echo.Context, v any) error {
	body := c.Request().Body
	if body == nil {
		return errors.New("empty body")
	}
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return err
	}
	return nil
}

type mutationResponse struct {
	Items     []layout.View `json:"items"`
	Saved     bool          `json:"saved"`
	SaveError string        `json:"saveError,omitempty"`
}

type appliedResponse struct {
	Applied int `json:"applied"`
	mutationResponse
}

// mutation changes a session. Returning an *echo.HTTPError rejects the
// request before anything is applied.
type mutation func(c echo.Context, s *session.Session) ([]domain.Item, error)

func mutate(d Deps, fn mutation) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		s := d.Sessions.Get(c.Request().Context(), p.UserID)
		items, err := fn(c, s)
		resp, err := buildMutation(c, s, p, items, err)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// buildMutation maps a session result to the response body. A failed save
// still yields a response, carrying the failure as a notice.
func buildMutation(c echo.Context, s *session.Session, p domain.Principal, items []domain.Item, err error) (mutationResponse, error) {
	m := metricsFrom(c)
	var saveErr *session.SaveError
	var httpErr *echo.HTTPError
	switch {
	case err == nil:
	case errors.As(err, &saveErr):
		m.SetErrorStage("save")
	case errors.As(err, &httpErr):
		return mutationResponse{}, httpErr
	case errors.Is(err, layout.ErrInvalidMove):
		m.SetErrorStage("validate")
		return mutationResponse{}, c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, layout.ErrItemNotFound):
		m.SetErrorStage("validate")
		return mutationResponse{}, c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, layout.ErrDuplicateID):
		m.SetErrorStage("validate")
		return mutationResponse{}, c.String(http.StatusConflict, err.Error())
	default:
		m.SetErrorStage("apply")
		c.Logger().Error(err)
		return mutationResponse{}, c.String(http.StatusInternalServerError, err.Error())
	}

	m.SetItems(len(items))
	resp := mutationResponse{
		Items: layout.Annotate(items, p),
		Saved: err == nil && !s.Dirty(),
	}
	if saveErr != nil {
		resp.SaveError = saveErr.Err.Error()
	}
	return resp, nil
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
