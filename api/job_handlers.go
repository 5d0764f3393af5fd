package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"ops-console/domain"
	"ops-console/jobs"
)

type syncStarted struct {
	JobID string `json:"jobId"`
}

type deploymentStarted struct {
	DeploymentID string `json:"deploymentId"`
}

type deploymentRequest struct {
	Action string `json:"action"`
}

func startSync(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		id, err := d.Upstream.StartSync(ctx)
		if err != nil {
			metricsFrom(c).SetErrorStage("upstream")
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		if err := track(c, d.Syncs, id, p.UserID); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, syncStarted{JobID: id})
	}
}

func startDeployment(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req deploymentRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid deployment request")
		}
		action, err := domain.ParseDeploymentAction(req.Action)
		if err != nil {
			metricsFrom(c).SetErrorStage("validate")
			return c.String(http.StatusBadRequest, err.Error())
		}
		ctx := c.Request().Context()
		id, err := d.Upstream.StartDeployment(ctx, c.Param("id"), action)
		if err != nil {
			metricsFrom(c).SetErrorStage("upstream")
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		if err := track(c, d.Deployments, id, p.UserID); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, deploymentStarted{DeploymentID: id})
	}
}

// track starts polling a job the upstream accepted on behalf of owner. A job
// that is already tracked keeps its existing loop and owner.
func track[R jobs.Report](c echo.Context, p *jobs.Poller[R], id, owner string) error {
	err := p.StartFor(c.Request().Context(), id, owner, nil)
	switch {
	case err == nil, errors.Is(err, jobs.ErrAlreadyTracked):
		return nil
	case errors.Is(err, jobs.ErrClosed):
		metricsFrom(c).SetErrorStage("track")
		return c.String(http.StatusServiceUnavailable, err.Error())
	default:
		metricsFrom(c).SetErrorStage("track")
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func getJob[R jobs.Report](auth Authenticator, p *jobs.Poller[R]) echo.HandlerFunc {
	return func(c echo.Context) error {
		who, err := principal(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snap, ok := ownedJob(p, c.Param("id"), who)
		if !ok {
			return c.String(http.StatusNotFound, "job not found")
		}
		return c.JSON(http.StatusOK, snap)
	}
}

func cancelJob[R jobs.Report](auth Authenticator, p *jobs.Poller[R]) echo.HandlerFunc {
	return func(c echo.Context) error {
		who, err := principal(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")
		if _, ok := ownedJob(p, id, who); !ok {
			return c.String(http.StatusNotFound, "job not found")
		}
		if p.Cancel(id) {
			return c.NoContent(http.StatusNoContent)
		}
		return c.String(http.StatusConflict, "job already finished")
	}
}

// ownedJob returns the snapshot of id when who started it. Jobs of other
// users look the same as unknown ones.
func ownedJob[R jobs.Report](p *jobs.Poller[R], id string, who domain.Principal) (jobs.Snapshot[R], bool) {
	snap, ok := p.Get(id)
	if !ok || !ownedBy(snap, who) {
		return jobs.Snapshot[R]{}, false
	}
	return snap, true
}

func ownedBy[R jobs.Report](snap jobs.Snapshot[R], who domain.Principal) bool {
	return snap.Owner == "" || snap.Owner == who.UserID
}

func listHistory[R jobs.Report](c echo.Context, p *jobs.Poller[R], who domain.Principal) error {
	all, err := p.History().List(c.Request().Context())
	if err != nil {
		metricsFrom(c).SetErrorStage("history")
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	entries := make([]jobs.Snapshot[R], 0, len(all))
	for _, snap := range all {
		if ownedBy(snap, who) {
			entries = append(entries, snap)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": entries})
}

func jobHistory(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		who, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		switch c.Param("kind") {
		case d.Syncs.Kind():
			return listHistory(c, d.Syncs, who)
		case d.Deployments.Kind():
			return listHistory(c, d.Deployments, who)
		}
		return c.String(http.StatusNotFound, "unknown job kind")
	}
}

func streamJobByKind(d Deps) echo.HandlerFunc {
	syncs := streamJob(d.Auth, d.Syncs)
	deployments := streamJob(d.Auth, d.Deployments)
	return func(c echo.Context) error {
		switch c.Param("kind") {
		case d.Syncs.Kind():
			return syncs(c)
		case d.Deployments.Kind():
			return deployments(c)
		}
		return c.String(http.StatusNotFound, "unknown job kind")
	}
}
