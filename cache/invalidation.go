package cache

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Parents is where an entity hangs in the hierarchy before or after a mutation.
type Parents struct {
	DirectionID *int
	ProcessID   *int
}

// Mutation describes one committed write. Old is empty for creates, New for deletes.
// ChildProcessIDs lists processes whose cached rows or listings embed the mutated direction.
type Mutation struct {
	Entity          EntityType
	ID              int
	Old             Parents
	New             Parents
	ChildProcessIDs []int
}

// Coordinator maps mutations to the keys and epochs they make stale.
type Coordinator struct {
	layer  *Layer
	logger *logrus.Logger
}

func NewCoordinator(layer *Layer, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{layer: layer, logger: logger}
}

// Plan returns the closed set of keys to delete and scopes to bump, sorted.
func (c *Coordinator) Plan(mutations ...Mutation) ([]Key, []Scope) {
	keys := mapset.NewThreadUnsafeSet[Key]()
	scopes := mapset.NewThreadUnsafeSet[Scope]()

	for _, m := range mutations {
		keys.Add(EntityKey(m.Entity, m.ID))
		keys.Add(GlobalStatsKey)

		switch m.Entity {
		case EntityDocument:
			for _, p := range []Parents{m.Old, m.New} {
				if p.DirectionID != nil {
					keys.Add(DirectionStatsKey(*p.DirectionID))
					scopes.Add(DirectionScope(*p.DirectionID))
				}
				if p.ProcessID != nil {
					keys.Add(ProcessStatsKey(*p.ProcessID))
					scopes.Add(ProcessScope(*p.ProcessID))
				}
			}
		case EntityProcess:
			keys.Add(ProcessStatsKey(m.ID))
			keys.Add(AllProcessesKey)
			scopes.Add(ProcessScope(m.ID))
			for _, p := range []Parents{m.Old, m.New} {
				if p.DirectionID != nil {
					keys.Add(DirectionStatsKey(*p.DirectionID))
					keys.Add(ProcessesByDirectionKey(*p.DirectionID))
					scopes.Add(DirectionScope(*p.DirectionID))
				}
			}
		case EntityDirection:
			keys.Add(DirectionStatsKey(m.ID))
			keys.Add(AllDirectionsKey)
			keys.Add(ActiveDirectionsKey)
			keys.Add(ProcessesByDirectionKey(m.ID))
			scopes.Add(DirectionScope(m.ID))
			if len(m.ChildProcessIDs) > 0 {
				keys.Add(AllProcessesKey)
			}
			for _, processId := range m.ChildProcessIDs {
				keys.Add(EntityKey(EntityProcess, processId))
				scopes.Add(ProcessScope(processId))
			}
		}
	}

	keyList := keys.ToSlice()
	sort.Slice(keyList, func(i, j int) bool { return keyList[i] < keyList[j] })
	scopeList := scopes.ToSlice()
	sort.Slice(scopeList, func(i, j int) bool {
		if scopeList[i].Kind != scopeList[j].Kind {
			return scopeList[i].Kind < scopeList[j].Kind
		}
		return scopeList[i].ID < scopeList[j].ID
	})
	return keyList, scopeList
}

// Invalidate evicts everything Plan returns. It must run after the write committed.
// Failures are logged and returned for callers that care; the write itself stands.
func (c *Coordinator) Invalidate(ctx context.Context, mutations ...Mutation) error {
	if c == nil || c.layer == nil || len(mutations) == 0 {
		return nil
	}
	keys, scopes := c.Plan(mutations...)

	var result *multierror.Error
	if err := c.layer.Evict(ctx, keys...); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.layer.EvictByEpoch(ctx, scopes...); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		c.logger.WithFields(logrus.Fields{
			"module":   "cache",
			"funcName": "Invalidate",
			"keys":     keys,
			"scopes":   scopes,
		}).Error(err.Error())
		return err
	}
	return nil
}
