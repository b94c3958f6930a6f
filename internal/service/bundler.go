package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediabundler/mediabundler/internal/assembler"
	"github.com/mediabundler/mediabundler/internal/cache"
	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/hash"
	"github.com/mediabundler/mediabundler/internal/logging"
	"github.com/mediabundler/mediabundler/internal/metrics"
	"github.com/mediabundler/mediabundler/internal/pool"
	"github.com/mediabundler/mediabundler/internal/progress"
	"github.com/mediabundler/mediabundler/internal/resolver"
	"github.com/mediabundler/mediabundler/internal/storage"
)

// Bundler builds the bundle groups of one stage. A build runs in two phases:
// every group is resolved, fingerprinted and looked up in the cache in
// parallel, then the cache misses are assembled and committed one group at a
// time in group name order. The first failure aborts the build; groups
// committed before it stay committed, so a rerun resumes where it stopped.
//
// Callers must not run two builds against the same catalog concurrently.
type Bundler struct {
	stage     *config.Stage
	assembler *assembler.Assembler
	store     catalog.Store
	output    storage.OutputStore
	log       *logging.Logger
	bar       *progress.Bar
}

func NewBundler(stage *config.Stage, locator catalog.Locator, logger *logging.Logger) *Bundler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bundler{
		stage:     stage,
		assembler: assembler.New(locator).WithBuildOptions(stage.Build),
		store:     catalog.NewMemoryStore(),
		log:       logger,
	}
}

func (b *Bundler) WithStore(store catalog.Store) *Bundler {
	b.store = store
	return b
}

func (b *Bundler) WithOutput(output storage.OutputStore) *Bundler {
	b.output = output
	return b
}

func (b *Bundler) WithProgress(bar *progress.Bar) *Bundler {
	b.bar = bar
	return b
}

func (b *Bundler) WithAssembler(a *assembler.Assembler) *Bundler {
	b.assembler = a
	return b
}

// Build runs one build of groups against set, tagging every descriptor it
// creates or reuses with buildID. The summary is valid even if an error is
// returned.
func (b *Bundler) Build(ctx context.Context, set *catalog.Set, groups []*config.Group, buildID string) (sum Summary, err error) {
	start := time.Now()
	metrics.BuildStarted(b.stage.ID, start)
	defer func() {
		b.report(sum, start, err)
	}()

	if buildID == "" {
		return sum, errors.New("build id must not be empty")
	}

	groups = sortedGroups(groups)
	sum.Total = len(groups)
	b.bar.AddMax(len(groups))

	outcomes, err := b.plan(ctx, set, groups)
	if err != nil {
		sum.Failed++
		return sum, err
	}

	// Reduce the planning outcomes. Cache hits are recorded here, after all
	// planning goroutines have finished.
	var toBuild []Outcome
	shared := make(map[hash.Fingerprint][]string)
	for _, o := range outcomes {
		switch o.State {
		case StateEmpty:
			sum.Empty++
			b.log.Debugf("group %q is empty, skipping", o.Group)
			b.bar.Add(1)
		case StateCacheHit:
			sum.CacheHit++
			if err := b.reuse(ctx, o.Hit, buildID); err != nil {
				sum.Failed++
				return sum, err
			}
			b.log.Debugf("group %q reuses bundle %q", o.Group, o.Hit.ID)
			b.bar.Add(1)
		case StateToBuild:
			if _, ok := shared[o.Fingerprint]; ok {
				// Same membership as an earlier group of this build. It is a
				// cache hit once that group is committed.
				shared[o.Fingerprint] = append(shared[o.Fingerprint], o.Group)
				continue
			}
			shared[o.Fingerprint] = []string{}
			toBuild = append(toBuild, o)
		}
	}

	if err := b.execute(ctx, set, toBuild, shared, buildID, &sum); err != nil {
		sum.Failed++
		return sum, err
	}

	return sum, nil
}

func (b *Bundler) plan(ctx context.Context, set *catalog.Set, groups []*config.Group) ([]Outcome, error) {
	descriptors := set.Descriptors()
	outcomes := make([]Outcome, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, group := range groups {
		g.Go(func() error {
			o, err := b.planGroup(gctx, set, descriptors, group)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// planGroup only reads set and descriptors.
func (b *Bundler) planGroup(ctx context.Context, set *catalog.Set, descriptors []*catalog.FileResource, group *config.Group) (Outcome, error) {
	res, err := resolver.Resolve(ctx, group, set, b.stage.ID)
	if err != nil {
		return Outcome{}, err
	}

	o := Outcome{Group: group.Name, State: StatePlanned, Members: res.Members}
	if res.Empty {
		o.State = StateEmpty
		return o, nil
	}

	o.Fingerprint = hash.ComputeFingerprint(b.stage.ID, res.MemberIDs())

	hit, err := cache.Lookup(descriptors, b.stage.ID, o.Fingerprint)
	if err != nil {
		return Outcome{}, fmt.Errorf("group %q: %w", group.Name, err)
	}
	if hit != nil {
		o.State = StateCacheHit
		o.Hit = hit
		return o, nil
	}

	o.State = StateToBuild
	return o, nil
}

func (b *Bundler) reuse(ctx context.Context, desc *catalog.FileResource, buildID string) error {
	if !cache.Reuse(desc, buildID) {
		return nil
	}
	if err := b.store.AddBuild(ctx, desc.ID, buildID); err != nil {
		return fmt.Errorf("failed to record build %q on %q: %w", buildID, desc.ID, err)
	}
	return nil
}

type assembled struct {
	buf   *bytes.Buffer
	draft *assembler.Draft
}

// execute assembles and commits toBuild. Groups listed in shared under a
// fingerprint count as cache hits once the group building it is committed.
func (b *Bundler) execute(ctx context.Context, set *catalog.Set, toBuild []Outcome, shared map[hash.Fingerprint][]string, buildID string, sum *Summary) error {
	commit := func(o Outcome, a assembled) error {
		if err := b.commit(ctx, set, o, a, buildID); err != nil {
			return fmt.Errorf("group %q: %w", o.Group, err)
		}
		sum.Built++
		for _, name := range shared[o.Fingerprint] {
			sum.CacheHit++
			b.log.Debugf("group %q shares its bundle with group %q", name, o.Group)
			b.bar.Add(1)
		}
		return nil
	}

	if b.stage.Build.Workers() == 1 {
		for _, o := range toBuild {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, draft, err := b.assembler.Assemble(ctx, o.Members)
			if err != nil {
				return fmt.Errorf("group %q: %w", o.Group, err)
			}
			if err := commit(o, assembled{buf: buf, draft: draft}); err != nil {
				return err
			}
		}
		return nil
	}

	tasks := make([]pool.Task[assembled], len(toBuild))
	for i, o := range toBuild {
		tasks[i] = pool.Task[assembled]{
			Name:   o.Group,
			Weight: b.assembler.Estimate(ctx, o.Members),
			Fn: func(ctx context.Context) (assembled, error) {
				buf, draft, err := b.assembler.Assemble(ctx, o.Members)
				if err != nil {
					return assembled{}, fmt.Errorf("group %q: %w", o.Group, err)
				}
				return assembled{buf: buf, draft: draft}, nil
			},
		}
	}

	p := pool.New(b.stage.Build.Workers(), b.stage.Build.BufferBudget())
	return pool.Run(ctx, p, tasks, func(i int, a assembled) error {
		return commit(toBuild[i], a)
	})
}

// commit writes the archive, persists the new descriptor and adds it to set.
func (b *Bundler) commit(ctx context.Context, set *catalog.Set, o Outcome, a assembled, buildID string) error {
	desc := a.draft.Descriptor(b.stage.ID, o.Fingerprint, cache.NewProcessRecord(b.stage.ID, o.Fingerprint, buildID))
	desc.Label = o.Group

	if b.output != nil {
		if err := b.output.WriteOutputFile(ctx, desc, a.buf.Bytes()); err != nil {
			return &IOError{Op: "write output", Path: b.output.OutputFileName(desc), Err: err}
		}
	}

	if err := b.store.InsertDescriptor(ctx, desc); err != nil {
		return fmt.Errorf("failed to persist descriptor %q: %w", desc.ID, err)
	}
	set.Add(desc)

	b.log.Debugf("group %q built as %q (%d members, %d bytes)", o.Group, desc.ID, len(o.Members), desc.Size)
	b.bar.Add(1)
	return nil
}

func (b *Bundler) report(sum Summary, start time.Time, err error) {
	metrics.BuildFinished(b.stage.ID, start, sum.outcomes())

	if err != nil {
		metrics.BuildFailed.WithLabelValues(b.stage.ID, errorType(err)).Inc()
		b.log.Errorf("build of stage %q failed after %v: total=%d empty=%d cache_hit=%d built=%d failed=%d: %v",
			b.stage.ID, time.Since(start), sum.Total, sum.Empty, sum.CacheHit, sum.Built, sum.Failed, err)
		return
	}

	b.log.Infof("build of stage %q finished in %v: total=%d empty=%d cache_hit=%d built=%d failed=%d",
		b.stage.ID, time.Since(start), sum.Total, sum.Empty, sum.CacheHit, sum.Built, sum.Failed)
}

func sortedGroups(groups []*config.Group) []*config.Group {
	sorted := make([]*config.Group, 0, len(groups))
	for _, g := range groups {
		if g != nil {
			sorted = append(sorted, g)
		}
	}
	slices.SortStableFunc(sorted, func(a, b *config.Group) int {
		return strings.Compare(a.Name, b.Name)
	})
	return sorted
}
