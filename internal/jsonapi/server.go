// Package jsonapi serves the LIMS core over JSON: object reads with their
// legal transitions, transition invocation, catalog searches and upgrade
// status.
package jsonapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"limscore/internal/catalog"
	"limscore/internal/core"
	"limscore/internal/i18n"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// Request headers identifying the caller.
const (
	HeaderActor = "X-Lims-Actor"
	HeaderRoles = "X-Lims-Roles"
)

const requestKey = "lims_request"

// Server exposes a core.Service over HTTP.
type Server struct {
	svc      *core.Service
	echo     *echo.Echo
	extender *TransitionsExtender
	tr       *i18n.Translator
	metrics  http.Handler
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTranslator localizes transition titles.
func WithTranslator(tr *i18n.Translator) Option { return func(s *Server) { s.tr = tr } }

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger overrides the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// NewServer builds the router.
func NewServer(svc *core.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.With("module", "jsonapi")}
	for _, opt := range opts {
		opt(s)
	}
	s.extender = NewTransitionsExtender(svc, s.tr)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "took", v.Latency.String())
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	api := e.Group("/api/v1", s.requestScope)
	api.GET("/objects/:uid", s.getObject)
	api.GET("/objects/:uid/transitions", s.listTransitions)
	api.POST("/objects/:uid/transitions/:action", s.doAction)
	api.GET("/catalogs/:catalog", s.search)
	api.GET("/upgrades/:product", s.upgradeStatus)
	s.echo = e
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// requestScope gives every inbound request its own workflow.Request, so the
// skip ledger never outlives the HTTP request.
func (s *Server) requestScope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := strings.TrimSpace(c.Request().Header.Get(HeaderActor))
		if actor == "" {
			actor = "anonymous"
		}
		req := workflow.NewRequest(actor, splitList(c.Request().Header.Get(HeaderRoles))...)
		ctx := workflow.WithRequest(c.Request().Context(), req)
		if s.tr != nil {
			ctx = WithLanguage(ctx, s.tr.Match(c.Request().Header.Get("Accept-Language")))
		}
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set(requestKey, req)
		return next(c)
	}
}

func limsRequest(c echo.Context) *workflow.Request {
	req, _ := c.Get(requestKey).(*workflow.Request)
	return req
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func httpError(err error) error {
	var nf domain.ErrNotFound
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	var blocked domain.RuleViolationError
	if errors.As(err, &blocked) {
		return echo.NewHTTPError(http.StatusConflict, blocked.Result)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func objectRecord(obj domain.Object) map[string]any {
	out := map[string]any{
		"uid":         obj.UID,
		"id":          obj.ID,
		"portal_type": obj.PortalType,
		"title":       obj.Title,
		"created":     obj.CreatedAt,
		"modified":    obj.UpdatedAt,
	}
	if obj.ParentUID != "" {
		out["parent_uid"] = obj.ParentUID
	}
	for variable, state := range obj.States {
		out[string(variable)] = state
	}
	if len(obj.Attributes) > 0 {
		out["attributes"] = obj.Attributes
	}
	return out
}

// getObject (GET /api/v1/objects/:uid?include=transitions)
func (s *Server) getObject(c echo.Context) error {
	ctx := c.Request().Context()
	obj, err := s.svc.GetObject(ctx, c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	out := objectRecord(obj)
	var include []string
	for _, v := range c.QueryParams()["include"] {
		include = append(include, splitList(v)...)
	}
	if err := s.extender.Extend(ctx, limsRequest(c), obj.UID, include, out); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// listTransitions (GET /api/v1/objects/:uid/transitions)
func (s *Server) listTransitions(c echo.Context) error {
	entries, err := s.extender.Transitions(c.Request().Context(), limsRequest(c), c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// doAction (POST /api/v1/objects/:uid/transitions/:action)
func (s *Server) doAction(c echo.Context) error {
	res, err := s.svc.DoActionFor(c.Request().Context(), limsRequest(c), c.Param("uid"), c.Param("action"))
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if res.Outcome == domain.OutcomeGuardRejected {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, res)
}

// search (GET /api/v1/catalogs/:catalog?index=value)
func (s *Server) search(c echo.Context) error {
	q := catalog.Query{}
	for name, values := range c.QueryParams() {
		if len(values) == 1 {
			q[name] = values[0]
			continue
		}
		q[name] = values
	}
	var records []map[string]any
	err := s.svc.Store().View(c.Request().Context(), func(v domain.TransactionView) error {
		entries, err := s.svc.Catalog().Search(v, c.Param("catalog"), q)
		if err != nil {
			return err
		}
		records = make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			records = append(records, e.Metadata)
		}
		return nil
	})
	if err != nil {
		var nf domain.ErrNotFound
		if errors.As(err, &nf) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

type upgradeReport struct {
	Product   string                 `json:"product"`
	Installed string                 `json:"installed,omitempty"`
	Pending   []string               `json:"pending"`
	History   []domain.UpgradeRecord `json:"history"`
}

// upgradeStatus (GET /api/v1/upgrades/:product)
func (s *Server) upgradeStatus(c echo.Context) error {
	ctx := c.Request().Context()
	product := c.Param("product")
	runner := s.svc.Upgrades()
	installed, _, err := runner.InstalledVersion(ctx, product)
	if err != nil {
		return httpError(err)
	}
	pending, err := runner.Pending(ctx, product)
	if err != nil {
		return httpError(err)
	}
	history, err := runner.History(ctx, product)
	if err != nil {
		return httpError(err)
	}
	out := upgradeReport{Product: product, Installed: installed, Pending: []string{}, History: history}
	for _, step := range pending {
		out.Pending = append(out.Pending, step.Version)
	}
	if out.History == nil {
		out.History = []domain.UpgradeRecord{}
	}
	return c.JSON(http.StatusOK, out)
}
