// Package api serves solver discovery, convolution find and the
// performance database over HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/kforge/internal/logger"
	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/pkg/kforge"
)

type Server struct {
	handle *kforge.Handle
	log    logger.Logger
}

// NewServer serves h. Library calls made by handlers log to log; nil
// discards.
func NewServer(h *kforge.Handle, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{handle: h, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/solvers", s.handleListSolvers)
	e.POST("/v1/find/convolution", s.handleFindConvolution)

	e.GET("/v1/perfdb", s.handleGetPerfDB)
	e.DELETE("/v1/perfdb", s.handleClearPerfDB)
}

func (s *Server) handleListSolvers(c *echo.Context) error {
	reg := s.handle.Registry()
	solvers := reg.All()
	if raw := c.QueryParam("kind"); raw != "" {
		kind, err := problem.ParseKind(raw)
		if err != nil {
			return writeBadRequest(c, err.Error(), "kind")
		}
		solvers = reg.ForKind(kind)
	}
	out := SolverList{Object: "list", Data: make([]SolverInfo, 0, len(solvers))}
	for _, sv := range solvers {
		out.Data = append(out.Data, solverInfo(reg.Index(sv.Name()), sv))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleFindConvolution(c *echo.Context) error {
	req, err := decodeJSON[FindRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body", "")
	}
	p, err := req.Problem.Problem()
	if err != nil {
		return writeStatusError(c, err)
	}
	workspace := s.handle.Config().WorkspaceLimit
	if req.Workspace != nil {
		if *req.Workspace < 0 {
			return writeBadRequest(c, "workspace must be non-negative", "workspace")
		}
		workspace = *req.Workspace
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	results, err := s.handle.Find(ctx, p, workspace)
	if err != nil {
		s.log.Warn("find failed", "problem", p.String(), "error", err)
		return writeStatusError(c, err)
	}
	return c.JSON(http.StatusOK, FindResponse{
		Object:    "find.result",
		Problem:   p.String(),
		Key:       string(p.Key()),
		Workspace: workspace,
		Results:   results,
	})
}

func (s *Server) handleGetPerfDB(c *echo.Context) error {
	db := s.handle.PerfDB()
	return c.JSON(http.StatusOK, PerfDBResponse{
		Object:  "perfdb",
		Session: db.Session().String(),
		Records: db.Records(),
	})
}

func (s *Server) handleClearPerfDB(c *echo.Context) error {
	db := s.handle.PerfDB()
	n := db.Len()
	db.Clear()
	if s.handle.Config().PerfDBPath != "" {
		if err := s.handle.SavePerfDB(); err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
	}
	return c.JSON(http.StatusOK, ClearResponse{Object: "perfdb.cleared", Cleared: n})
}
