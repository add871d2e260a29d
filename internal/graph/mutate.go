package graph

import (
	"fmt"
	"slices"

	"github.com/ogolikhin/procgraph/internal/process"
)

// LinkIndex returns the position of the first link from sourceID to
// destinationID in Links().
func (g *ProcessGraph) LinkIndex(sourceID, destinationID int) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.linkIndexLocked(sourceID, destinationID)
}

func (g *ProcessGraph) linkIndexLocked(sourceID, destinationID int) (int, bool) {
	i := slices.IndexFunc(g.links, func(l *process.Link) bool {
		return l.SourceID == sourceID && l.DestinationID == destinationID
	})
	return i, i >= 0
}

// NextOrderIndex returns one more than the highest order index among the
// outgoing links of id, or 0 when it has none.
func (g *ProcessGraph) NextOrderIndex(id int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nextOrderIndexLocked(id)
}

func (g *ProcessGraph) nextOrderIndexLocked(id int) int {
	next := 0
	for _, l := range g.links {
		if l.SourceID == id && l.OrderIndex >= next {
			next = l.OrderIndex + 1
		}
	}
	return next
}

// UpdateDecisionDestinationID rewrites the destination of the outgoing link
// of decisionID with the given order index. The tree is marked stale and not
// rebuilt, so a batch of edits pays for one rebuild.
func (g *ProcessGraph) UpdateDecisionDestinationID(decisionID, orderIndex, newDestinationID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	if _, ok := g.shapes[newDestinationID]; !ok {
		return fmt.Errorf("destination %d: %w", newDestinationID, ErrShapeNotFound)
	}

	for _, l := range g.links {
		if l.SourceID == decisionID && l.OrderIndex == orderIndex {
			l.DestinationID = newDestinationID
			g.markStaleLocked()
			return nil
		}
	}
	return fmt.Errorf("decision %d order index %d: %w", decisionID, orderIndex, ErrLinkNotFound)
}

// AddShape adds a shape. Its id must be unused.
func (g *ProcessGraph) AddShape(s process.Shape) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	if !s.Type.Valid() {
		return fmt.Errorf("shape %d type %q: %w", s.ID, s.Type, ErrInvalidShape)
	}
	if _, dup := g.shapes[s.ID]; dup {
		return fmt.Errorf("shape %d: %w", s.ID, ErrDuplicateShape)
	}
	if g.opts.ShapeLimit > 0 && len(g.shapes) >= g.opts.ShapeLimit {
		return fmt.Errorf("%d shapes: %w", g.opts.ShapeLimit, ErrShapeLimit)
	}

	c := copyShape(&s)
	g.shapes[s.ID] = &c
	g.shapeOrder = append(g.shapeOrder, s.ID)
	g.markStaleLocked()
	return nil
}

// RemoveShape removes a shape together with every link and branch
// destination link that references it.
func (g *ProcessGraph) RemoveShape(id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	if _, ok := g.shapes[id]; !ok {
		return fmt.Errorf("shape %d: %w", id, ErrShapeNotFound)
	}

	delete(g.shapes, id)
	g.shapeOrder = slices.DeleteFunc(g.shapeOrder, func(s int) bool { return s == id })

	touches := func(l *process.Link) bool {
		return l.SourceID == id || l.DestinationID == id
	}
	g.links = slices.DeleteFunc(g.links, touches)
	g.branchLinks = slices.DeleteFunc(g.branchLinks, touches)

	g.markStaleLocked()
	return nil
}

// AddLink connects two existing shapes. A negative order index is replaced
// by the next free index of the source.
func (g *ProcessGraph) AddLink(l process.Link) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	if _, ok := g.shapes[l.SourceID]; !ok {
		return fmt.Errorf("source %d: %w", l.SourceID, ErrShapeNotFound)
	}
	if _, ok := g.shapes[l.DestinationID]; !ok {
		return fmt.Errorf("destination %d: %w", l.DestinationID, ErrShapeNotFound)
	}
	if _, dup := g.linkIndexLocked(l.SourceID, l.DestinationID); dup {
		return fmt.Errorf("link %d -> %d: %w", l.SourceID, l.DestinationID, ErrDuplicateLink)
	}

	if l.OrderIndex < 0 {
		l.OrderIndex = g.nextOrderIndexLocked(l.SourceID)
	} else if g.shapes[l.SourceID].Type.IsDecision() {
		for _, existing := range g.links {
			if existing.SourceID == l.SourceID && existing.OrderIndex == l.OrderIndex {
				return fmt.Errorf("decision %d order index %d: %w", l.SourceID, l.OrderIndex, ErrDuplicateLink)
			}
		}
	}

	g.links = append(g.links, &l)
	g.markStaleLocked()
	return nil
}

// RemoveLink removes the first link from sourceID to destinationID.
func (g *ProcessGraph) RemoveLink(sourceID, destinationID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	i, ok := g.linkIndexLocked(sourceID, destinationID)
	if !ok {
		return fmt.Errorf("link %d -> %d: %w", sourceID, destinationID, ErrLinkNotFound)
	}

	g.links = slices.Delete(g.links, i, i+1)
	g.markStaleLocked()
	return nil
}

// SetBranchDestination sets the merge point of one branch of a decision,
// replacing an existing branch destination link for the same order index.
func (g *ProcessGraph) SetBranchDestination(decisionID, orderIndex, destinationID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	d, ok := g.shapes[decisionID]
	if !ok {
		return fmt.Errorf("decision %d: %w", decisionID, ErrShapeNotFound)
	}
	if !d.Type.IsDecision() {
		return fmt.Errorf("shape %d (%s): %w", decisionID, d.Type, ErrNotDecision)
	}
	if _, ok := g.shapes[destinationID]; !ok {
		return fmt.Errorf("destination %d: %w", destinationID, ErrShapeNotFound)
	}

	for _, l := range g.branchLinks {
		if l.SourceID == decisionID && l.OrderIndex == orderIndex {
			l.DestinationID = destinationID
			g.markStaleLocked()
			return nil
		}
	}
	g.branchLinks = append(g.branchLinks, &process.Link{
		SourceID:      decisionID,
		DestinationID: destinationID,
		OrderIndex:    orderIndex,
	})
	g.markStaleLocked()
	return nil
}

// UpdateShapeProperty sets one property value of a shape. Properties do not
// take part in the tree, so its freshness is kept.
func (g *ProcessGraph) UpdateShapeProperty(id int, name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEditableLocked(); err != nil {
		return err
	}
	s, ok := g.shapes[id]
	if !ok {
		return fmt.Errorf("shape %d: %w", id, ErrShapeNotFound)
	}

	if name == "name" {
		if v, ok := value.(string); ok {
			s.Name = v
			return nil
		}
	}
	if s.PropertyValues == nil {
		s.PropertyValues = make(map[string]any)
	}
	s.PropertyValues[name] = value
	return nil
}

func (g *ProcessGraph) checkEditableLocked() error {
	if !g.status.Editable() {
		return fmt.Errorf("process %d: %w", g.id, ErrReadOnly)
	}
	return nil
}
