// Package api serves process graphs over HTTP.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/ogolikhin/procgraph/internal/editor"
	"github.com/ogolikhin/procgraph/internal/graph"
	"github.com/ogolikhin/procgraph/internal/loader"
	"github.com/ogolikhin/procgraph/internal/process"
	"github.com/ogolikhin/procgraph/internal/query"
	"github.com/ogolikhin/procgraph/internal/service"
	"github.com/ogolikhin/procgraph/internal/storage"
)

// New returns the HTTP application over svc.
func New(svc *service.Service, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{svc: svc, logger: logger}

	app := fiber.New(fiber.Config{AppName: "procgraph"})

	app.Get("/processes", h.list)
	app.Get("/processes/:id", h.get)
	app.Put("/processes/:id", h.put)
	app.Delete("/processes/:id", h.delete)

	app.Get("/processes/:id/tree", h.tree)
	app.Get("/processes/:id/flows/same", h.sameFlow)
	app.Get("/processes/:id/flows/child", h.childFlow)
	app.Get("/processes/:id/decisions/:decisionId/destinations", h.destinations)
	app.Get("/processes/:id/decisions/:decisionId/branches", h.branches)
	app.Get("/processes/:id/options", h.options)
	app.Post("/processes/:id/insert", h.insert)

	return app
}

var errInvalidID = errors.New("invalid id")

type handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// fail maps an error to a status code and a JSON error body.
func (h *handler) fail(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrProcessNotFound), errors.Is(err, graph.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, graph.ErrReadOnly), errors.Is(err, storage.ErrReadOnly):
		status = fiber.StatusForbidden
	case errors.Is(err, graph.ErrShapeLimit), errors.Is(err, editor.ErrNotAllowed),
		errors.Is(err, graph.ErrNotDecision), errors.Is(err, graph.ErrStaleTree):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, query.ErrMissingShapeID), errors.Is(err, errInvalidID),
		errors.Is(err, loader.ErrInvalidModel):
		status = fiber.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		status = fiber.StatusConflict
	}
	if status == fiber.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func paramInt(c fiber.Ctx, name string) (int, bool) {
	n, err := strconv.Atoi(c.Params(name))
	return n, err == nil
}

// queryInt returns nil when the parameter is absent.
func queryInt(c fiber.Ctx, name string) (*int, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, false
	}
	return &n, true
}

func (h *handler) graph(c fiber.Ctx) (*graph.ProcessGraph, error) {
	id, ok := paramInt(c, "id")
	if !ok {
		return nil, fmt.Errorf("process %q: %w", c.Params("id"), errInvalidID)
	}
	return h.svc.Graph(c.Context(), id)
}

func (h *handler) list(c fiber.Ctx) error {
	if q := c.Query("q"); q != "" {
		limit, _ := strconv.Atoi(c.Query("limit"))
		results, err := h.svc.Search(c.Context(), q, limit)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(results)
	}
	list, err := h.svc.List(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

func (h *handler) get(c fiber.Ctx) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(g.Model())
}

func (h *handler) put(c fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badRequest(c, "invalid process id")
	}
	var m process.Model
	if err := c.Bind().JSON(&m); err != nil {
		return badRequest(c, "invalid body")
	}
	m.ID = id

	rev, err := h.svc.Save(c.Context(), &m)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "revision": rev})
}

func (h *handler) delete(c fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badRequest(c, "invalid process id")
	}
	if err := h.svc.Delete(c.Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type treeShape struct {
	graph.TreeShapeRef
	Type process.ShapeType `json:"type"`
	Name string            `json:"name"`
}

func (h *handler) tree(c fiber.Ctx) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	t, err := g.Tree()
	if err != nil {
		return h.fail(c, err)
	}

	shapes := make([]treeShape, 0, t.Len())
	for _, id := range t.Order() {
		ref, _ := t.Ref(id)
		s, _ := g.Shape(id)
		shapes = append(shapes, treeShape{TreeShapeRef: ref, Type: s.Type, Name: s.Name})
	}
	return c.JSON(fiber.Map{
		"state":       g.State().String(),
		"shapes":      shapes,
		"flows":       t.Flows(),
		"diagnostics": g.Diagnostics(),
	})
}

func (h *handler) flowQuery(c fiber.Ctx, ask func(e *query.Engine, a, b *int) query.Answer) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	a, okA := queryInt(c, "a")
	b, okB := queryInt(c, "b")
	if !okA || !okB {
		return badRequest(c, "invalid shape id")
	}

	ans := ask(query.New(g), a, b)
	if ans.Err != nil {
		return h.fail(c, ans.Err)
	}
	return c.JSON(ans)
}

func (h *handler) sameFlow(c fiber.Ctx) error {
	return h.flowQuery(c, (*query.Engine).IsInSameFlow)
}

func (h *handler) childFlow(c fiber.Ctx) error {
	return h.flowQuery(c, (*query.Engine).IsInChildFlow)
}

func (h *handler) destinations(c fiber.Ctx) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	decisionID, ok := paramInt(c, "decisionId")
	if !ok {
		return badRequest(c, "invalid decision id")
	}

	e := query.New(g)
	result := fiber.Map{
		"decisionId":   decisionID,
		"isDecision":   e.IsDecision(&decisionID),
		"destinations": e.BranchDestinationIDs(&decisionID),
	}
	first, ok := queryInt(c, "first")
	if !ok {
		return badRequest(c, "invalid shape id")
	}
	if first != nil {
		result["destination"] = e.BranchDestinationID(&decisionID, first)
	}
	return c.JSON(result)
}

func (h *handler) branches(c fiber.Ctx) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	decisionID, ok := paramInt(c, "decisionId")
	if !ok {
		return badRequest(c, "invalid decision id")
	}
	branches, err := g.DecisionBranches(decisionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(branches)
}

func (h *handler) options(c fiber.Ctx) error {
	g, err := h.graph(c)
	if err != nil {
		return h.fail(c, err)
	}
	src, okS := queryInt(c, "source")
	dst, okD := queryInt(c, "destination")
	if !okS || !okD || src == nil || dst == nil {
		return badRequest(c, "source and destination are required")
	}

	options, err := editor.InsertOptions(g, h.svc.Settings(), *src, *dst)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"options": options,
		"toolbar": editor.ToolbarState(g.Status(), false),
	})
}

type insertRequest struct {
	Kind          editor.Kind `json:"kind"`
	SourceID      int         `json:"sourceId"`
	DestinationID int         `json:"destinationId"`
}

func (h *handler) insert(c fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badRequest(c, "invalid process id")
	}
	var req insertRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	added, rev, err := h.svc.Insert(c.Context(), id, req.Kind, req.SourceID, req.DestinationID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"shapes": added, "revision": rev})
}
