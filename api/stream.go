package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"ops-console/jobs"
)

const streamKeepAlive = 15 * time.Second

// streamJob pushes job snapshots as server-sent events until the job reaches
// a final state or the client goes away. The token query parameter is
// accepted in place of the header since EventSource cannot set headers.
func streamJob[R jobs.Report](auth Authenticator, poller *jobs.Poller[R]) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if token := c.QueryParam("token"); header == "" && token != "" {
			header = "Bearer " + token
		}
		who, err := auth.PrincipalFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		id := c.Param("id")
		if _, ok := ownedJob(poller, id, who); !ok {
			return c.String(http.StatusNotFound, "job not found")
		}
		updates, stop, ok := poller.Watch(id)
		if !ok {
			return c.String(http.StatusNotFound, "job not found")
		}
		defer stop()

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := c.Request().Context()
		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case snap, open := <-updates:
				if !open {
					return nil
				}
				data, err := sonic.ConfigStd.Marshal(snap)
				if err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("event: " + string(snap.State) + "\ndata: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
				if snap.State.Done() {
					return nil
				}
			}
		}
	}
}
