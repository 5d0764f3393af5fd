package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ops-console/domain"
	"ops-console/layout"
	"ops-console/metrics"
	"ops-console/session"
)

type configResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func getConfig(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		items := d.Sessions.Get(c.Request().Context(), p.UserID).Items()
		metricsFrom(c).SetItems(len(items))
		return c.JSON(http.StatusOK, domain.UserConfig{Items: items})
	}
}

// putConfig replaces and saves the whole collection regardless of autosave.
func putConfig(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var cfg domain.UserConfig
		if err := decodeBody(c, &cfg); err != nil {
			return c.String(http.StatusBadRequest, "invalid config: "+err.Error())
		}
		for _, it := range cfg.Items {
			if it.ID == "" {
				return c.String(http.StatusBadRequest, "item id is required")
			}
		}

		ctx := c.Request().Context()
		s := d.Sessions.Get(ctx, p.UserID)
		start := time.Now()
		_, err = s.Replace(ctx, cfg.Items)
		if err == nil && s.Dirty() {
			err = s.Save(ctx)
		}
		metricsFrom(c).ObserveStore(time.Since(start))
		metricsFrom(c).SetItems(len(cfg.Items))
		if err != nil {
			metricsFrom(c).SetErrorStage("save")
			return c.JSON(http.StatusOK, configResponse{OK: false, Error: err.Error()})
		}
		return c.JSON(http.StatusOK, configResponse{OK: true})
	}
}

func getLayout(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		items := layout.FilterForDisplay(d.Sessions.Get(c.Request().Context(), p.UserID).Items(), p)
		metricsFrom(c).SetItems(len(items))
		return c.JSON(http.StatusOK, domain.UserConfig{Items: items})
	}
}

type editableResponse struct {
	Items     []layout.View `json:"items"`
	Autosave  bool          `json:"autosave"`
	Dirty     bool          `json:"dirty"`
	SaveError string        `json:"saveError,omitempty"`
}

func getEditableLayout(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		s := d.Sessions.Get(c.Request().Context(), p.UserID)
		items := s.Items()
		metricsFrom(c).SetItems(len(items))
		resp := editableResponse{
			Items:    layout.Annotate(items, p),
			Autosave: s.Autosave(),
			Dirty:    s.Dirty(),
		}
		if err := s.LastSaveError(); err != nil {
			resp.SaveError = err.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

func reorderItems(c echo.Context, s *session.Session) ([]domain.Item, error) {
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return nil, badRequest("invalid reorder request")
	}
	if req.From == nil || req.To == nil {
		return nil, badRequest("from and to are required")
	}
	return s.Reorder(c.Request().Context(), *req.From, *req.To)
}

func toggleItem(c echo.Context, s *session.Session) ([]domain.Item, error) {
	return s.ToggleVisibility(c.Request().Context(), c.Param("id"))
}

func addItem(c echo.Context, s *session.Session) ([]domain.Item, error) {
	var it domain.Item
	if err := decodeBody(c, &it); err != nil {
		return nil, badRequest("invalid item: " + err.Error())
	}
	return s.Add(c.Request().Context(), it)
}

func updateItem(c echo.Context, s *session.Session) ([]domain.Item, error) {
	var it domain.Item
	if err := decodeBody(c, &it); err != nil {
		return nil, badRequest("invalid item: " + err.Error())
	}
	it.ID = c.Param("id")
	return s.Update(c.Request().Context(), it)
}

func removeItem(c echo.Context, s *session.Session) ([]domain.Item, error) {
	return s.Remove(c.Request().Context(), c.Param("id"))
}

func saveLayout(c echo.Context, s *session.Session) ([]domain.Item, error) {
	err := s.Save(c.Request().Context())
	return s.Items(), err
}

func resetLayout(sessions Sessions) mutation {
	return func(c echo.Context, s *session.Session) ([]domain.Item, error) {
		return s.Replace(c.Request().Context(), sessions.Defaults())
	}
}

type autosaveRequest struct {
	Enabled *bool `json:"enabled"`
}

type autosaveResponse struct {
	Autosave bool `json:"autosave"`
	mutationResponse
}

func setAutosave(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req autosaveRequest
		if err := decodeBody(c, &req); err != nil || req.Enabled == nil {
			return c.String(http.StatusBadRequest, "enabled is required")
		}
		ctx := c.Request().Context()
		s := d.Sessions.Get(ctx, p.UserID)
		err = s.SetAutosave(ctx, *req.Enabled)
		resp, err := buildMutation(c, s, p, s.Items(), err)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, autosaveResponse{Autosave: s.Autosave(), mutationResponse: resp})
	}
}

type templateView struct {
	domain.Template
	Available int `json:"available"`
}

func listTemplates(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		all := d.Templates.List()
		out := make([]templateView, 0, len(all))
		for _, t := range all {
			v := templateView{Template: t}
			for _, it := range t.Items {
				if domain.HasAccess(it.Roles, p.Roles, p.RoleTemplate) {
					v.Available++
				}
			}
			out = append(out, v)
		}
		return c.JSON(http.StatusOK, map[string]any{"templates": out})
	}
}

func applyTemplate(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		t, ok := d.Templates.Get(c.Param("name"))
		if !ok {
			metricsFrom(c).SetErrorStage("lookup")
			return c.String(http.StatusNotFound, "template not found")
		}
		ctx := c.Request().Context()
		s := d.Sessions.Get(ctx, p.UserID)
		applied, items, err := s.ApplyTemplate(ctx, t, p)
		resp, err := buildMutation(c, s, p, items, err)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, appliedResponse{Applied: applied, mutationResponse: resp})
	}
}

func exportLayout(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		items := d.Sessions.Get(c.Request().Context(), p.UserID).Items()
		data, err := layout.EncodeBundle(layout.Export(items, p.UserID, d.Now()))
		if err != nil {
			metricsFrom(c).SetErrorStage("encode")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		metricsFrom(c).SetItems(len(items))
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="layout.json"`)
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
	}
}

type importPreview struct {
	Token string `json:"token"`
	Count int    `json:"count"`
	Total int    `json:"total"`
}

// previewImport validates a bundle and parks the items the caller may access.
// Nothing changes until the returned token is confirmed.
func previewImport(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBundleBytes))
		if err != nil {
			return c.String(http.StatusBadRequest, "read bundle: "+err.Error())
		}
		res, err := layout.Import(data, p)
		if err != nil {
			metricsFrom(c).SetErrorStage("validate")
			var verr *layout.ValidationError
			if errors.As(err, &verr) {
				return c.String(http.StatusBadRequest, verr.Error())
			}
			return c.String(http.StatusInternalServerError, err.Error())
		}
		metrics.LayoutImportItems.WithLabelValues("accepted").Add(float64(res.Accepted))
		metrics.LayoutImportItems.WithLabelValues("filtered").Add(float64(res.Total - res.Accepted))

		token, err := d.Imports.Put(c.Request().Context(), p.UserID, res.Items)
		if err != nil {
			metricsFrom(c).SetErrorStage("park")
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		metricsFrom(c).SetItems(res.Accepted)
		return c.JSON(http.StatusOK, importPreview{Token: token, Count: res.Accepted, Total: res.Total})
	}
}

func confirmImport(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := principal(c, d.Auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		items, err := d.Imports.Take(ctx, p.UserID, c.Param("token"))
		if errors.Is(err, ErrImportNotFound) {
			metricsFrom(c).SetErrorStage("lookup")
			return c.String(http.StatusNotFound, err.Error())
		}
		if err != nil {
			metricsFrom(c).SetErrorStage("park")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		s := d.Sessions.Get(ctx, p.UserID)
		applied, err := s.Replace(ctx, items)
		resp, err := buildMutation(c, s, p, applied, err)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, appliedResponse{Applied: len(applied), mutationResponse: resp})
	}
}
