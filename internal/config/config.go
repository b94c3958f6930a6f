package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-yaml"

)

// Internal configuration data structures for mediabundler.

// DefaultStageID is used by groups that do not name a stage.
const DefaultStageID = "media-bundle"

// Metadata contains metadata about the configuration file itself.
type Metadata struct {
	ExportedFrom string `json:"exported_from,omitempty"`
	ExportedAt   string `json:"exported_at,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Root is the top-level configuration structure.
type Root struct {
	Metadata Metadata          `json:"metadata,omitzero"`
	Stages   map[string]*Stage `json:"stages,omitempty"`
	Groups   map[string]*Group `json:"groups,omitempty"`
	Database *Database         `json:"database,omitempty"`
	Media    *Media            `json:"media,omitempty"`
	Log      *Log              `json:"log,omitempty"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. Stages and groups are defined as mappings keyed by their names;
// the names are injected into the values here.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) Unmarshal() error {
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Stages {
		raw.Stages[name] = cmp.Or(raw.Stages[name], &Stage{})
		raw.Stages[name].ID = name
	}

	for name := range raw.Groups {
		raw.Groups[name] = cmp.Or(raw.Groups[name], &Group{})
		raw.Groups[name].Name = name
		raw.Groups[name].Prepare()
	}

	if raw.Database != nil && raw.Database.SQL != nil {
		raw.Database.SQL.DSN = os.ExpandEnv(raw.Database.SQL.DSN)
	}

	return raw.validate()
}

func (r *Root) validate() error {
	for _, g := range r.SortedGroups() {
		if _, ok := r.Stages[g.StageID()]; !ok && len(r.Stages) > 0 {
			return fmt.Errorf("group %q: unknown stage %q", g.Name, g.StageID())
		}
	}
	for _, s := range r.SortedStages() {
		if err := s.validate(); err != nil {
			return fmt.Errorf("stage %q: %w", s.ID, err)
		}
	}
	return nil
}

func (r *Root) SortedGroups() iter.Seq2[int, *Group] {
	return iterator(r.Groups, func(g *Group) string { return g.Name })
}

func (r *Root) SortedStages() iter.Seq2[int, *Stage] {
	return iterator(r.Stages, func(s *Stage) string { return s.ID })
}

// GroupsForStage returns the groups assigned to the stage, sorted by name.
func (r *Root) GroupsForStage(stageID string) []*Group {
	var gs []*Group
	for _, g := range r.SortedGroups() {
		if g.StageID() == stageID {
			gs = append(gs, g)
		}
	}
	return gs
}

// Stage returns the named stage, falling back to an unconfigured stage with
// defaults if the configuration does not list any stages.
func (r *Root) Stage(id string) (*Stage, bool) {
	if s, ok := r.Stages[id]; ok {
		return s, true
	}
	if len(r.Stages) == 0 && id == DefaultStageID {
		return &Stage{ID: DefaultStageID}, true
	}
	return nil, false
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// Stage configures one bundling stage. Every stage keeps its own typed
// options; there is no free-form per-stage key space.
type Stage struct {
	ID     string        `json:"-"`
	Label  string        `json:"label,omitempty"`
	Output ObjectStorage `json:"output,omitzero"`
	Build  BuildOptions  `json:"build,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

func (s *Stage) validate() error {
	if err := s.Output.validate(); err != nil {
		return err
	}
	return s.Build.validate()
}

const (
	CompressionStore   = "store"
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
)

// BuildOptions bound the resources of a build's execution phase.
type BuildOptions struct {
	// Concurrency is the number of archives assembled at the same time.
	// Zero or one means strictly sequential.
	Concurrency int `json:"concurrency,omitempty"`
	// MaxBufferedBytes bounds the total size of archives held in memory
	// when Concurrency > 1. Zero means 256MiB.
	MaxBufferedBytes int64  `json:"max_buffered_bytes,omitempty"`
	Compression      string `json:"compression,omitempty" enum:"store,deflate,zstd"`
	CompressionLevel int    `json:"compression_level,omitempty"`
	FileNamePrefix   string `json:"file_name_prefix,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

const defaultMaxBufferedBytes = 256 << 20

func (b BuildOptions) Workers() int {
	return max(b.Concurrency, 1)
}

func (b BuildOptions) BufferBudget() int64 {
	return cmp.Or(b.MaxBufferedBytes, defaultMaxBufferedBytes)
}

func (b BuildOptions) validate() error {
	switch b.Compression {
	case "", CompressionStore, CompressionDeflate, CompressionZstd:
	default:
		return fmt.Errorf("unsupported compression %q", b.Compression)
	}
	if err := b.validateLevel(); err != nil {
		return err
	}
	if b.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if b.MaxBufferedBytes < 0 {
		return errors.New("max_buffered_bytes must not be negative")
	}
	return nil
}

// validateLevel checks CompressionLevel against the range of the chosen
// compression. Zero selects the default level.
func (b BuildOptions) validateLevel() error {
	if b.CompressionLevel == 0 {
		return nil
	}
	switch b.Compression {
	case CompressionDeflate:
		if b.CompressionLevel < -2 || b.CompressionLevel > 9 {
			return fmt.Errorf("compression_level %d out of range [-2, 9] for deflate", b.CompressionLevel)
		}
	case CompressionZstd:
		if b.CompressionLevel < 1 || b.CompressionLevel > 22 {
			return fmt.Errorf("compression_level %d out of range [1, 22] for zstd", b.CompressionLevel)
		}
	default:
		return errors.New("compression_level requires deflate or zstd compression")
	}
	return nil
}

// Group declares which resources are packaged together into one bundle.
type Group struct {
	Name            string    `json:"-"`
	Stage           string    `json:"stage,omitempty"`
	EpisodeIs       StringSet `json:"episode_is,omitempty"`
	EpisodeContains StringSet `json:"episode_contains,omitempty"`
	TagContains     StringSet `json:"tag_contains,omitempty"`
	MimeTypes       StringSet `json:"mime_types,omitempty"` // glob patterns, e.g. "image/*"
	Filter          string    `json:"filter,omitempty"`     // Rego expression over input.resource
	// EpisodeIsEmpty marks a group whose episode scope resolved to nothing
	// upstream. Such groups are skipped.
	EpisodeIsEmpty bool `json:"episode_is_empty,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Prepare derives EpisodeIsEmpty: a group that declares an episode scope
// without listing any episode has no target episodes.
func (g *Group) Prepare() {
	if (g.EpisodeIs != nil || g.EpisodeContains != nil) && len(g.EpisodeIs)+len(g.EpisodeContains) == 0 {
		g.EpisodeIsEmpty = true
	}
}

func (g *Group) StageID() string {
	return cmp.Or(g.Stage, DefaultStageID)
}

// Episodes returns the union of EpisodeIs and EpisodeContains, sorted.
func (g *Group) Episodes() []string {
	var eps StringSet
	for _, e := range g.EpisodeIs {
		eps = eps.Add(e)
	}
	for _, e := range g.EpisodeContains {
		eps = eps.Add(e)
	}
	slices.Sort(eps)
	return eps
}

type StringSet []string

func (a StringSet) Add(value string) StringSet {
	if slices.Contains(a, value) {
		return a
	}
	return append(a, value)
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, err
	}

	return &root, nil
}

// ObjectStorage selects where built archives are written. At most one
// variant may be set; none means the archives are only kept in the catalog.
type ObjectStorage struct {
	AmazonS3          *AmazonS3          `json:"amazon_s3,omitempty"`
	GCPCloudStorage   *GCPCloudStorage   `json:"gcp_cloud_storage,omitempty"`
	AzureBlobStorage  *AzureBlobStorage  `json:"azure_blob_storage,omitempty"`
	FileSystemStorage *FileSystemStorage `json:"filesystem,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (o *ObjectStorage) IsZero() bool {
	return o.AmazonS3 == nil && o.GCPCloudStorage == nil && o.AzureBlobStorage == nil && o.FileSystemStorage == nil
}

func (o *ObjectStorage) validate() error {
	n := 0
	for _, set := range []bool{o.AmazonS3 != nil, o.GCPCloudStorage != nil, o.AzureBlobStorage != nil, o.FileSystemStorage != nil} {
		if set {
			n++
		}
	}
	if n > 1 {
		return errors.New("only one output storage may be configured")
	}

	switch {
	case o.AmazonS3 != nil:
		return o.AmazonS3.validate()
	case o.GCPCloudStorage != nil:
		return o.GCPCloudStorage.validate()
	case o.AzureBlobStorage != nil:
		return o.AzureBlobStorage.validate()
	case o.FileSystemStorage != nil:
		return o.FileSystemStorage.validate()
	}
	return nil
}

// AmazonS3 writes archives below Prefix in Bucket.
type AmazonS3 struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
	URL    string `json:"url,omitempty"` // custom endpoint, e.g. for MinIO

	_ struct{} `additionalProperties:"false"`
}

func (a *AmazonS3) validate() error {
	if a.Bucket == "" {
		return errors.New("amazon_s3: bucket is required")
	}
	return nil
}

type GCPCloudStorage struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
	URL    string `json:"url,omitempty"` // custom endpoint, e.g. for fake-gcs-server

	_ struct{} `additionalProperties:"false"`
}

func (g *GCPCloudStorage) validate() error {
	if g.Bucket == "" {
		return errors.New("gcp_cloud_storage: bucket is required")
	}
	return nil
}

type AzureBlobStorage struct {
	AccountURL string `json:"account_url"`
	Container  string `json:"container"`
	Prefix     string `json:"prefix,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (a *AzureBlobStorage) validate() error {
	if a.AccountURL == "" || a.Container == "" {
		return errors.New("azure_blob_storage: account_url and container are required")
	}
	return nil
}

type FileSystemStorage struct {
	Path string `json:"path"`

	_ struct{} `additionalProperties:"false"`
}

func (f *FileSystemStorage) validate() error {
	if f.Path == "" {
		return errors.New("filesystem: path is required")
	}
	return nil
}

type Database struct {
	SQL *SQLDatabase `json:"sql,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type SQLDatabase struct {
	Driver        string `json:"driver" enum:"sqlite,sqlite3,postgres,pgx,mysql"`
	DSN           string `json:"dsn"`
	LogStatements bool   `json:"log_statements,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Media locates the binary files referenced by the catalog.
type Media struct {
	Root string `json:"root"`

	_ struct{} `additionalProperties:"false"`
}

type Log struct {
	Level  string `json:"level,omitempty" enum:"debug,info,warn,error"`
	Format string `json:"format,omitempty" enum:"text,json"`

	_ struct{} `additionalProperties:"false"`
}
