package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/registry"
)

type Config struct {
	Dir            string        `yaml:"dir" mapstructure:"dir"`
	Include        []string      `yaml:"include" mapstructure:"include"`
	Ignore         []string      `yaml:"ignore" mapstructure:"ignore"`
	Watch          bool          `yaml:"watch" mapstructure:"watch"`
	DebounceWindow time.Duration `yaml:"debounce_window" mapstructure:"debounce_window"`
	MaxBatchSize   int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
}

func DefaultConfig() Config {
	return Config{
		Dir:     "fragments",
		Include: []string{"**/*.yaml", "**/*.yml"},
		Ignore: []string{
			"**/.git/**",
			"**/node_modules/**",
			"**/.*",
		},
		Watch:          true,
		DebounceWindow: 300 * time.Millisecond,
		MaxBatchSize:   100,
	}
}

// Source is one entry and the file it came from, relative to the manifest
// directory.
type Source struct {
	Path  string
	Entry Entry
}

type ScanResult struct {
	Sources []Source
	// Failed lists files that could not be read or parsed.
	Failed []string
}

// Scan reads every manifest under config.Dir in path order. A bad file is
// reported in the error and in Failed; the others are still returned.
func Scan(config Config) (ScanResult, error) {
	var result ScanResult

	if _, err := os.Stat(config.Dir); err != nil {
		return result, fmt.Errorf("manifest dir: %w", err)
	}

	paths, err := matchFiles(config)
	if err != nil {
		return result, err
	}

	var errs error
	for _, rel := range paths {
		m, err := LoadFile(filepath.Join(config.Dir, filepath.FromSlash(rel)))
		if err != nil {
			errs = multierr.Append(errs, err)
			result.Failed = append(result.Failed, rel)
			continue
		}
		for _, entry := range m.Modules {
			result.Sources = append(result.Sources, Source{Path: rel, Entry: entry})
		}
	}

	return result, errs
}

func matchFiles(config Config) ([]string, error) {
	fsys := os.DirFS(config.Dir)
	seen := make(map[string]struct{})

	var paths []string
	for _, pattern := range config.Include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if _, ok := seen[rel]; ok || ignored(config.Ignore, rel) {
				continue
			}
			seen[rel] = struct{}{}
			paths = append(paths, rel)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func ignored(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}

func included(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}

// Flags supplies runtime enable/disable overrides by module id.
type Flags interface {
	Overrides(ctx context.Context) (map[string]bool, error)
}

type SyncResult struct {
	Added    []string `json:"added,omitempty"`
	Updated  []string `json:"updated,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Disabled []string `json:"disabled,omitempty"`
}

func (r SyncResult) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Retirer cleans a module up before the catalog unregisters it.
type Retirer interface {
	Cleanup(ctx context.Context, id string) error
}

type owned struct {
	path  string
	entry Entry
}

// Catalog owns the modules registered from the manifest directory. Modules
// registered by other code are left alone.
type Catalog struct {
	config   Config
	factory  *Factory
	registry *registry.Registry
	retirer  Retirer
	flags    Flags

	mu    sync.Mutex
	owned map[string]owned
}

// NewCatalog creates a catalog registering into reg. retirer and flags may
// be nil.
func NewCatalog(config Config, factory *Factory, reg *registry.Registry, retirer Retirer, flags Flags) *Catalog {
	return &Catalog{
		config:   config,
		factory:  factory,
		registry: reg,
		retirer:  retirer,
		flags:    flags,
		owned:    make(map[string]owned),
	}
}

func (c *Catalog) Config() Config { return c.config }

// Sync makes the registry match the manifests. Changed entries are cleaned
// up and re-registered; entries of files that failed to parse keep their
// current registration.
func (c *Catalog) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	scan, errs := Scan(c.config)
	if scan.Sources == nil && scan.Failed == nil && errs != nil {
		return result, errs
	}

	failed := make(map[string]struct{}, len(scan.Failed))
	for _, path := range scan.Failed {
		failed[path] = struct{}{}
	}

	overrides := map[string]bool{}
	if c.flags != nil {
		o, err := c.flags.Overrides(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			overrides = o
		}
	}

	desired := make(map[string]Source)
	var order []string
	for _, src := range scan.Sources {
		id := src.Entry.ModuleID
		if prev, dup := desired[id]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s in %s and %s", fragment.ErrDuplicateModule, id, prev.Path, src.Path))
			continue
		}

		enabled := src.Entry.IsEnabled()
		if v, ok := overrides[id]; ok {
			enabled = v
		}
		if !enabled {
			result.Disabled = append(result.Disabled, id)
			continue
		}

		desired[id] = src
		order = append(order, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := make(map[string]struct{})
	for id, current := range c.owned {
		want, ok := desired[id]
		if !ok {
			if _, keep := failed[current.path]; keep {
				continue
			}
		} else if reflect.DeepEqual(want.Entry, current.entry) {
			continue
		}

		if c.retirer != nil {
			if err := c.retirer.Cleanup(ctx, id); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		c.registry.Unregister(id)
		delete(c.owned, id)

		if ok {
			replaced[id] = struct{}{}
		} else {
			result.Removed = append(result.Removed, id)
		}
	}

	for _, id := range order {
		if _, ok := c.owned[id]; ok {
			continue
		}
		src := desired[id]

		module, err := c.factory.Build(src.Entry)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.Path, err))
			continue
		}
		if err := c.registry.Register(module); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.Path, err))
			continue
		}

		c.owned[id] = owned{path: src.Path, entry: src.Entry}
		if _, ok := replaced[id]; ok {
			result.Updated = append(result.Updated, id)
		} else {
			result.Added = append(result.Added, id)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Updated)
	sort.Strings(result.Removed)
	sort.Strings(result.Disabled)

	if result.Changed() {
		log.Info("manifests synced",
			"added", len(result.Added),
			"updated", len(result.Updated),
			"removed", len(result.Removed),
			"disabled", len(result.Disabled))
	}
	if errs != nil {
		log.Warn("manifest sync had errors", "error", errs)
	}

	return result, errs
}

// Owned lists the ids registered from manifests.
func (c *Catalog) Owned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
