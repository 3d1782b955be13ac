package watch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/logging"
)

// Registry is the mutable set of watches, persisted through a DocumentStore
// after every mutation. All methods are safe for concurrent use.
type Registry struct {
	store    DocumentStore
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	watches map[string]*Watch
}

type registryDocument struct {
	Watches   []*Watch `json:"watches"`
	UpdatedAt string   `json:"updated_at"`
}

// NewRegistry builds an empty registry; call Load to restore persisted
// watches.
func NewRegistry(store DocumentStore, defaults Defaults, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "watch_registry")),
		now:      time.Now,
		watches:  map[string]*Watch{},
	}
}

// Load restores the registry from the document store, dropping rows that do
// not decode into a supported watch.
func (r *Registry) Load() error {
	payload, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("loading watch registry: %w", err)
	}
	if payload == nil {
		return nil
	}

	var doc struct {
		Watches []json.RawMessage `json:"watches"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decoding watch registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, raw := range doc.Watches {
		var w Watch
		if err := json.Unmarshal(raw, &w); err != nil {
			r.logger.Warn("skipping malformed watch row", slog.String("error", err.Error()))
			continue
		}
		if strings.TrimSpace(w.ID) == "" {
			continue
		}
		w.Name = strings.TrimSpace(w.Name)
		if w.Name == "" {
			w.Name = w.ID
		}
		w.Key = r.allocateKeyLocked(w.Key, w.Name, w.ID)
		w.Config.normalize(r.defaults)
		if w.CreatedAt.IsZero() {
			w.CreatedAt = r.now().UTC()
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = w.CreatedAt
		}
		r.watches[w.ID] = &w
	}

	logging.LogOperation(r.logger, "watch_registry_loaded", slog.Int("watches", len(r.watches)))
	return nil
}

// Add creates a watch. A nil config uses the kind's defaults.
func (r *Registry) Add(name string, kind Kind, enabled bool, cfg Config) (Watch, error) {
	if !ValidKind(kind) {
		return Watch{}, fmt.Errorf("unsupported watch type: %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.watches) >= MaxWatches {
		return Watch{}, fmt.Errorf("maximum watches reached (%d)", MaxWatches)
	}
	if cfg == nil {
		cfg = NewConfig(kind)
	}
	cfg = cfg.clone()
	cfg.normalize(r.defaults)

	id := r.nextIDLocked()
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	now := r.now().UTC()
	w := &Watch{
		ID:        id,
		Key:       r.allocateKeyLocked("", name, id),
		Name:      name,
		Kind:      kind,
		Enabled:   enabled,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.watches[id] = w

	if err := r.saveLocked(); err != nil {
		delete(r.watches, id)
		return Watch{}, err
	}
	return snapshot(w), nil
}

// AddFromJSON creates a watch from a raw JSON config document.
func (r *Registry) AddFromJSON(name string, kind Kind, enabled bool, rawConfig json.RawMessage) (Watch, error) {
	if !ValidKind(kind) {
		return Watch{}, fmt.Errorf("unsupported watch type: %q", kind)
	}
	cfg := NewConfig(kind)
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, cfg); err != nil {
			return Watch{}, fmt.Errorf("decoding %s watch config: %w", kind, err)
		}
	}
	return r.Add(name, kind, enabled, cfg)
}

// UpdateFromJSON applies a partial update; rawConfig fields overlay the
// stored config rather than replacing it.
func (r *Registry) UpdateFromJSON(id string, name *string, enabled *bool, rawConfig json.RawMessage) (Watch, error) {
	r.mu.Lock()
	w, ok := r.watches[id]
	if !ok {
		r.mu.Unlock()
		return Watch{}, fmt.Errorf("watch not found: %s", id)
	}
	var cfg Config
	if len(rawConfig) > 0 {
		cfg = w.Config.clone()
		if err := json.Unmarshal(rawConfig, cfg); err != nil {
			r.mu.Unlock()
			return Watch{}, fmt.Errorf("decoding %s watch config: %w", w.Kind, err)
		}
	}
	r.mu.Unlock()

	return r.Update(id, UpdateParams{Name: name, Enabled: enabled, Config: cfg})
}

// UpdateParams carries the optional fields of an update; nil fields are left
// unchanged.
type UpdateParams struct {
	Name    *string
	Enabled *bool
	Config  Config
}

// Update mutates an existing watch. Renames that change the slug reallocate
// the watch key.
func (r *Registry) Update(id string, params UpdateParams) (Watch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watches[id]
	if !ok {
		return Watch{}, fmt.Errorf("watch not found: %s", id)
	}

	previous := snapshot(w)

	if params.Name != nil {
		oldSlug := Slugify(w.Name)
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			name = w.ID
		}
		w.Name = name
		if Slugify(name) != oldSlug {
			w.Key = r.allocateKeyLocked("", name, w.ID)
		}
	}
	if params.Enabled != nil {
		w.Enabled = *params.Enabled
	}
	if params.Config != nil {
		cfg := params.Config.clone()
		cfg.normalize(r.defaults)
		w.Config = cfg
	}
	w.UpdatedAt = r.now().UTC()

	if err := r.saveLocked(); err != nil {
		*w = previous
		return Watch{}, err
	}
	return snapshot(w), nil
}

// Remove deletes a watch.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watches[id]
	if !ok {
		return fmt.Errorf("watch not found: %s", id)
	}
	delete(r.watches, id)

	if err := r.saveLocked(); err != nil {
		r.watches[id] = w
		return err
	}
	return nil
}

// Duplicate copies an existing watch under a new id with " Copy" appended to
// the name.
func (r *Registry) Duplicate(id string) (Watch, error) {
	r.mu.Lock()
	source, ok := r.watches[id]
	if !ok {
		r.mu.Unlock()
		return Watch{}, fmt.Errorf("watch not found: %s", id)
	}
	name := source.Name + " Copy"
	kind := source.Kind
	enabled := source.Enabled
	cfg := source.Config.clone()
	r.mu.Unlock()

	return r.Add(name, kind, enabled, cfg)
}

// Get returns a copy of one watch.
func (r *Registry) Get(id string) (Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[id]
	if !ok {
		return Watch{}, false
	}
	return snapshot(w), true
}

// List returns copies of all watches ordered by creation time, then id.
func (r *Registry) List() []Watch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Watch {
	out := make([]Watch, 0, len(r.watches))
	for _, w := range r.watches {
		out = append(out, snapshot(w))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) saveLocked() error {
	doc := registryDocument{
		Watches:   make([]*Watch, 0, len(r.watches)),
		UpdatedAt: r.now().UTC().Format(time.RFC3339),
	}
	for _, w := range r.listLocked() {
		row := w
		doc.Watches = append(doc.Watches, &row)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := r.store.Save(payload); err != nil {
		return fmt.Errorf("saving watch registry: %w", err)
	}
	return nil
}

// nextIDLocked allocates the first free watch_N id.
func (r *Registry) nextIDLocked() string {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("watch_%d", i)
		if _, taken := r.watches[candidate]; !taken {
			return candidate
		}
	}
}

// allocateKeyLocked derives a unique slug key, probing base, base_2, base_3
// and so on. Keys held by excludeID do not block the probe.
func (r *Registry) allocateKeyLocked(rawKey, name, excludeID string) string {
	base := Slugify(rawKey)
	if base == "" {
		base = Slugify(name)
	}
	if base == "" {
		base = "watch"
	}

	used := map[string]struct{}{}
	for id, w := range r.watches {
		if id != excludeID && w.Key != "" {
			used[w.Key] = struct{}{}
		}
	}

	candidate := base
	for suffix := 2; ; suffix++ {
		if _, taken := used[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", base, suffix)
	}
}

func snapshot(w *Watch) Watch {
	out := *w
	out.Config = w.Config.clone()
	return out
}
