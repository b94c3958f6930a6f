package service

import (
	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/hash"
)

// State is the position of a group in a build.
//
//	Unresolved -> Empty | Planned
//	Planned    -> CacheHit | ToBuild
//	ToBuild    -> Built | Failed
type State int

const (
	StateUnresolved State = iota
	StateEmpty
	StatePlanned
	StateCacheHit
	StateToBuild
	StateBuilt
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateEmpty:
		return "empty"
	case StatePlanned:
		return "planned"
	case StateCacheHit:
		return "cache_hit"
	case StateToBuild:
		return "to_build"
	case StateBuilt:
		return "built"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the immutable result of planning one group.
type Outcome struct {
	Group       string
	State       State
	Members     []*catalog.FileResource
	Fingerprint hash.Fingerprint
	Hit         *catalog.FileResource // set for StateCacheHit against an existing descriptor
}

// Summary counts the groups of one build by outcome.
type Summary struct {
	Total    int
	Empty    int
	CacheHit int
	Built    int
	Failed   int
}

func (s Summary) outcomes() map[string]int {
	return map[string]int{
		StateEmpty.String():    s.Empty,
		StateCacheHit.String(): s.CacheHit,
		StateBuilt.String():    s.Built,
		StateFailed.String():   s.Failed,
	}
}
