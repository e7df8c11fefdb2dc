package cache

import (
	"fmt"
	"strconv"
)

// Key is a cache key produced by one of the builders below.
// Callers never spell key strings by hand.
type Key string

type EntityType string

const (
	EntityDirection EntityType = "direction"
	EntityProcess   EntityType = "process"
	EntityDocument  EntityType = "document"
)

const (
	GlobalStatsKey      Key = "global-stats"
	AllDirectionsKey    Key = "directions:all"
	ActiveDirectionsKey Key = "directions:active"
	AllProcessesKey     Key = "processes:all"
)

func EntityKey(entity EntityType, id int) Key {
	return Key(fmt.Sprintf("entity:%s:%d", entity, id))
}

func DirectionStatsKey(directionId int) Key {
	return Key("direction-stats:" + strconv.Itoa(directionId))
}

func ProcessStatsKey(processId int) Key {
	return Key("process-stats:" + strconv.Itoa(processId))
}

func ProcessesByDirectionKey(directionId int) Key {
	return Key("processes-by-direction:" + strconv.Itoa(directionId))
}

type ScopeKind string

const (
	ScopeDirection ScopeKind = "direction"
	ScopeProcess   ScopeKind = "process"
)

// Scope is a parent whose epoch versions every listing filtered under it.
type Scope struct {
	Kind ScopeKind
	ID   int
}

func DirectionScope(id int) Scope {
	return Scope{Kind: ScopeDirection, ID: id}
}

func ProcessScope(id int) Scope {
	return Scope{Kind: ScopeProcess, ID: id}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

func EpochKey(scope Scope) Key {
	return Key("epoch:" + scope.String())
}

// ListingKey is only valid for the epoch it embeds; a bump orphans it until its TTL runs out.
func ListingKey(scope Scope, epoch int64, fingerprint string) Key {
	return Key(fmt.Sprintf("documents-by-%s:%d:e%d:%s", scope.Kind, scope.ID, epoch, fingerprint))
}
