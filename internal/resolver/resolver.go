// Package resolver selects the member resources of a bundle group.
package resolver

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/mediabundler/mediabundler/internal/catalog"
	"github.com/mediabundler/mediabundler/internal/config"
)

// ConfigurationError reports a group whose selectors cannot be evaluated.
type ConfigurationError struct {
	Group string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("group %q: invalid configuration: %v", e.Group, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Result is the outcome of resolving one group. Members are sorted by id.
type Result struct {
	Group   *config.Group
	Members []*catalog.FileResource
	Empty   bool
}

// MemberIDs returns the ids of the members, in order.
func (r Result) MemberIDs() []string {
	ids := make([]string, len(r.Members))
	for i, m := range r.Members {
		ids[i] = m.ID
	}
	return ids
}

// Resolve returns the plain file resources of set selected by group. Bundle
// descriptors produced by stageID never become members, so repeated builds
// do not fold their own output back in. The set is only read.
func Resolve(ctx context.Context, group *config.Group, set *catalog.Set, stageID string) (Result, error) {
	res := Result{Group: group}
	if group.EpisodeIsEmpty {
		res.Empty = true
		return res, nil
	}

	m, err := newMatcher(ctx, group, set)
	if err != nil {
		return res, &ConfigurationError{Group: group.Name, Err: err}
	}

	for _, f := range set.Files() {
		if f.Removed || f.ProducedBy(stageID) {
			continue
		}
		ok, err := m.match(ctx, f)
		if err != nil {
			return res, &ConfigurationError{Group: group.Name, Err: err}
		}
		if ok {
			res.Members = append(res.Members, f)
		}
	}

	slices.SortFunc(res.Members, func(a, b *catalog.FileResource) int {
		return strings.Compare(a.ID, b.ID)
	})
	res.Empty = len(res.Members) == 0
	return res, nil
}

type matcher struct {
	episodes []string // nil when the group has no episode scope
	tags     []string
	mimes    []glob.Glob
	filter   *rego.PreparedEvalQuery
}

func newMatcher(ctx context.Context, group *config.Group, set *catalog.Set) (*matcher, error) {
	m := &matcher{tags: group.TagContains}

	if eps := group.Episodes(); len(eps) > 0 {
		if set.Episodes != nil {
			for _, ep := range eps {
				if !slices.Contains(set.Episodes, ep) {
					return nil, fmt.Errorf("undefined episode %q", ep)
				}
			}
		}
		m.episodes = eps
	}

	for _, pattern := range group.MimeTypes {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid mime type pattern %q: %w", pattern, err)
		}
		m.mimes = append(m.mimes, g)
	}

	if group.Filter != "" {
		pq, err := prepareFilter(ctx, group.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		m.filter = pq
	}

	return m, nil
}

// Prepared filters are shared by every group, stage and build using the
// same expression. Prepared queries are safe for concurrent evaluation.
var filters, _ = lru.New[string, *rego.PreparedEvalQuery](256)

func prepareFilter(ctx context.Context, src string) (*rego.PreparedEvalQuery, error) {
	if pq, ok := filters.Get(src); ok {
		return pq, nil
	}

	query, err := ast.ParseExpr(src)
	if err != nil {
		return nil, err
	}
	pq, err := rego.New(
		rego.ParsedQuery([]*ast.Expr{query}),
		rego.Strict(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	filters.Add(src, &pq)
	return &pq, nil
}

func (m *matcher) match(ctx context.Context, f *catalog.FileResource) (bool, error) {
	if m.episodes != nil && !containsAny(f.Episodes, m.episodes) {
		return false, nil
	}
	if len(m.tags) > 0 && !containsAny(f.Tags, m.tags) {
		return false, nil
	}
	if len(m.mimes) > 0 && !slices.ContainsFunc(m.mimes, func(g glob.Glob) bool { return g.Match(f.MimeType) }) {
		return false, nil
	}
	if m.filter != nil {
		rs, err := m.filter.Eval(ctx, rego.EvalInput(input(f)))
		if err != nil {
			return false, fmt.Errorf("filter evaluation failed for %q: %w", f.ID, err)
		}
		return rs.Allowed(), nil
	}
	return true, nil
}

func containsAny(have, want []string) bool {
	return slices.ContainsFunc(have, func(s string) bool { return slices.Contains(want, s) })
}

func input(f *catalog.FileResource) map[string]any {
	return map[string]any{
		"resource": map[string]any{
			"id":        f.ID,
			"label":     f.Label,
			"mime_type": f.MimeType,
			"tags":      strings2any(f.Tags),
			"episodes":  strings2any(f.Episodes),
			"path":      f.Path,
			"file_name": f.FileName,
			"size":      f.Size,
		},
	}
}

func strings2any(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
