// Package pipeline runs every configured stage over a catalog: all build
// capabilities first, then one rehydrate pass per stage over the final set.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/progress"
	"github.com/mediabundler/mediabundler/internal/rehydrate"
	"github.com/mediabundler/mediabundler/internal/service"
	"github.com/mediabundler/mediabundler/internal/stage"
	"github.com/mediabundler/mediabundler/internal/storage"
)

type Pipeline struct {
	root     *config.Root
	registry *stage.Registry
	locator  catalog.Locator
	store    catalog.Store
	log      *logging.Logger
	bar      *progress.Bar
}

func New(root *config.Root, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	mediaRoot := ""
	if root.Media != nil {
		mediaRoot = root.Media.Root
	}
	return &Pipeline{
		root:     root,
		registry: stage.NewRegistry(),
		locator:  catalog.DirLocator{Root: mediaRoot},
		store:    catalog.NewMemoryStore(),
		log:      logger,
	}
}

func (p *Pipeline) WithStore(store catalog.Store) *Pipeline {
	p.store = store
	return p
}

func (p *Pipeline) WithLocator(locator catalog.Locator) *Pipeline {
	p.locator = locator
	return p
}

func (p *Pipeline) WithProgress(bar *progress.Bar) *Pipeline {
	p.bar = bar
	return p
}

// Registry exposes the stage registry so callers can add stages before Run.
func (p *Pipeline) Registry() *stage.Registry {
	return p.registry
}

// Init registers one bundling stage per configured stage, or the default
// stage if the configuration lists none.
func (p *Pipeline) Init(ctx context.Context) error {
	stages := make([]*config.Stage, 0, len(p.root.Stages))
	for _, st := range p.root.SortedStages() {
		stages = append(stages, st)
	}
	if len(stages) == 0 {
		st, _ := p.root.Stage(config.DefaultStageID)
		stages = append(stages, st)
	}

	for _, st := range stages {
		output, err := storage.New(ctx, st.Output)
		if err != nil {
			return fmt.Errorf("stage %q: %w", st.ID, err)
		}

		bundler := service.NewBundler(st, p.locator, p.log.With("stage", st.ID)).
			WithStore(p.store).
			WithProgress(p.bar)
		if output != nil {
			bundler = bundler.WithOutput(output)
		}

		if err := p.registry.Register(stage.NewMediaBundle(st, bundler)); err != nil {
			return err
		}
	}

	return nil
}

// GroupPlan is the resolution of one group, without building it.
type GroupPlan struct {
	StageID string
	Group   string
	Members []string
	Empty   bool
}

// Plan resolves the groups of every stage against set. Nothing is assembled
// or written.
func (p *Pipeline) Plan(ctx context.Context, set *catalog.Set) ([]GroupPlan, error) {
	var plans []GroupPlan
	for _, ext := range p.registry.WithCapability(stage.CapabilityResolve) {
		id := ext.Descriptor.ID
		for _, g := range p.root.GroupsForStage(id) {
			res, err := ext.Resolve(ctx, g, set)
			if err != nil {
				return nil, fmt.Errorf("stage %q: group %q: %w", id, g.Name, err)
			}
			plans = append(plans, GroupPlan{StageID: id, Group: g.Name, Members: res.MemberIDs(), Empty: res.Empty})
		}
	}
	return plans, nil
}

// Result holds the build summary of every stage that ran.
type Result struct {
	BuildID   string
	Summaries map[string]service.Summary
	Locators  int
	Duration  time.Duration
}

// Run builds every stage in id order, stopping at the first failure, and
// then rehydrates locators for every stage.
func (p *Pipeline) Run(ctx context.Context, set *catalog.Set, buildID string) (Result, error) {
	start := time.Now()
	res := Result{BuildID: buildID, Summaries: make(map[string]service.Summary)}

	for _, ext := range p.registry.WithCapability(stage.CapabilityBuild) {
		id := ext.Descriptor.ID
		sum, err := ext.Build(ctx, set, p.root.GroupsForStage(id), buildID)
		res.Summaries[id] = sum
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("stage %q: %w", id, err)
		}
	}

	for _, ext := range p.registry.WithCapability(stage.CapabilityRehydrate) {
		changes := ext.Rehydrate(set, buildID)
		if err := rehydrate.Persist(ctx, p.store, changes); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("stage %q: %w", ext.Descriptor.ID, err)
		}
		res.Locators += len(changes)
		p.log.Debugf("stage %q updated %d locators", ext.Descriptor.ID, len(changes))
	}

	res.Duration = time.Since(start)
	return res, nil
}
