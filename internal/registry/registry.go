package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/ir"
)

// Version is one stored revision of a detector model.
type Version struct {
	ModelName string
	Version   string // "1", "2", ... in creation order
	Status    ir.ModelStatus
	Program   *compiler.Program
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Model returns the definition of this version.
func (v Version) Model() ir.DetectorModel { return v.Program.Model }

// Hash returns the content hash of the definition.
func (v Version) Hash() string { return v.Program.Hash }

// EvaluationMethod returns the version's evaluation method.
func (v Version) EvaluationMethod() ir.EvaluationMethod { return v.Program.EvaluationMethod() }

// InputRecord is a stored input definition.
type InputRecord struct {
	Input     ir.Input
	Status    ir.InputStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChangeKind classifies registry notifications.
type ChangeKind string

const (
	ModelActivated     ChangeKind = "MODEL_ACTIVATED"
	ModelStatusChanged ChangeKind = "MODEL_STATUS_CHANGED"
	ModelDeleted       ChangeKind = "MODEL_DELETED"
	InputChanged       ChangeKind = "INPUT_CHANGED"
	InputDeleted       ChangeKind = "INPUT_DELETED"
)

// Change is delivered to observers after the registry mutation is visible.
type Change struct {
	Kind    ChangeKind
	Name    string
	Version *Version     // set for model changes other than delete
	Input   *InputRecord // set for InputChanged
}

// Observer receives registry changes. Observers run synchronously on the
// caller's goroutine, in registration order, outside the registry lock.
type Observer func(Change)

// Registry holds inputs and versioned detector models. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	inputs    map[string]*InputRecord
	models    map[string][]*Version // oldest first
	observers []Observer
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow sets the time source used for CreatedAt and UpdatedAt.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		inputs: make(map[string]*InputRecord),
		models: make(map[string][]*Version),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers an observer.
func (r *Registry) OnChange(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) notify(changes ...Change) {
	r.mu.RLock()
	observers := slices.Clone(r.observers)
	r.mu.RUnlock()

	for _, c := range changes {
		for _, o := range observers {
			o(c)
		}
	}
}

// setStatus moves v to status s. Callers hold r.mu.
func (r *Registry) setStatus(v *Version, s ir.ModelStatus) error {
	if !CanTransition(v.Status, s) {
		return &StatusError{Name: v.ModelName, From: v.Status, To: s}
	}
	v.Status = s
	v.UpdatedAt = r.now()
	return nil
}

func (r *Registry) declaredInputs() []ir.Input {
	out := make([]ir.Input, 0, len(r.inputs))
	for _, rec := range r.inputs {
		out = append(out, rec.Input)
	}
	slices.SortFunc(out, func(a, b ir.Input) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// activate runs a freshly compiled version through ACTIVATING to ACTIVE.
func (r *Registry) activate(v *Version) error {
	if err := r.setStatus(v, ir.StatusActivating); err != nil {
		return err
	}
	return r.setStatus(v, ir.StatusActive)
}

// CreateModel validates and stores the first version of a model. A
// validation failure is a *compiler.DefinitionError and nothing is stored.
func (r *Registry) CreateModel(m ir.DetectorModel) (Version, error) {
	r.mu.Lock()
	if _, exists := r.models[m.Name]; exists {
		r.mu.Unlock()
		return Version{}, &ConflictError{Kind: "detector model", Name: m.Name}
	}
	prog, err := compiler.Compile(m, r.declaredInputs())
	if err != nil {
		r.mu.Unlock()
		return Version{}, err
	}

	now := r.now()
	v := &Version{ModelName: m.Name, Version: "1", Program: prog, CreatedAt: now, UpdatedAt: now}
	if err := r.activate(v); err != nil {
		r.mu.Unlock()
		return Version{}, err
	}
	r.models[m.Name] = []*Version{v}
	out := *v
	r.mu.Unlock()

	for _, w := range prog.Warnings {
		slog.Warn("detector model warning", "model", m.Name, "warning", w.String())
	}
	slog.Info("detector model created", "model", m.Name, "version", out.Version, "hash", out.Hash())
	r.notify(Change{Kind: ModelActivated, Name: m.Name, Version: &out})
	return out, nil
}

// UpdateModel stores a new version of an existing model and makes it the
// active one. The previous version becomes INACTIVE.
func (r *Registry) UpdateModel(m ir.DetectorModel) (Version, error) {
	r.mu.Lock()
	versions, ok := r.models[m.Name]
	if !ok {
		r.mu.Unlock()
		return Version{}, &NotFoundError{Kind: "detector model", Name: m.Name}
	}
	prog, err := compiler.Compile(m, r.declaredInputs())
	if err != nil {
		r.mu.Unlock()
		return Version{}, err
	}

	var changes []Change
	prev := versions[len(versions)-1]
	if prev.Status == ir.StatusDeleting {
		r.mu.Unlock()
		return Version{}, &StatusError{Name: m.Name, From: prev.Status, To: ir.StatusActivating}
	}
	if prev.Status == ir.StatusActive || prev.Status == ir.StatusPaused {
		if err := r.setStatus(prev, ir.StatusInactive); err != nil {
			r.mu.Unlock()
			return Version{}, err
		}
		old := *prev
		changes = append(changes, Change{Kind: ModelStatusChanged, Name: m.Name, Version: &old})
	}

	now := r.now()
	v := &Version{
		ModelName: m.Name,
		Version:   strconv.Itoa(len(versions) + 1),
		Program:   prog,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.activate(v); err != nil {
		r.mu.Unlock()
		return Version{}, err
	}
	r.models[m.Name] = append(versions, v)
	out := *v
	r.mu.Unlock()

	slog.Info("detector model updated", "model", m.Name, "version", out.Version, "previous", prev.Version)
	changes = append(changes, Change{Kind: ModelActivated, Name: m.Name, Version: &out})
	r.notify(changes...)
	return out, nil
}

// SetModelStatus changes the status of a model's latest version, e.g. to
// pause or resume evaluation.
func (r *Registry) SetModelStatus(name string, s ir.ModelStatus) (Version, error) {
	r.mu.Lock()
	versions, ok := r.models[name]
	if !ok {
		r.mu.Unlock()
		return Version{}, &NotFoundError{Kind: "detector model", Name: name}
	}
	v := versions[len(versions)-1]
	if err := r.setStatus(v, s); err != nil {
		r.mu.Unlock()
		return Version{}, err
	}
	out := *v
	r.mu.Unlock()

	slog.Info("detector model status changed", "model", name, "version", out.Version, "status", s)
	r.notify(Change{Kind: ModelStatusChanged, Name: name, Version: &out})
	return out, nil
}

// DeleteModel marks every version DELETING, notifies observers so they can
// discard instances and timers, and then removes the model.
func (r *Registry) DeleteModel(name string) error {
	r.mu.Lock()
	versions, ok := r.models[name]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{Kind: "detector model", Name: name}
	}
	for _, v := range versions {
		if v.Status == ir.StatusDeleting {
			continue
		}
		if err := r.setStatus(v, ir.StatusDeleting); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.mu.Unlock()

	r.notify(Change{Kind: ModelDeleted, Name: name})

	r.mu.Lock()
	delete(r.models, name)
	r.mu.Unlock()

	slog.Info("detector model deleted", "model", name, "versions", len(versions))
	return nil
}

// DescribeModel returns a model version. An empty version selects the
// latest one.
func (r *Registry) DescribeModel(name, version string) (Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[name]
	if !ok {
		return Version{}, &NotFoundError{Kind: "detector model", Name: name}
	}
	if version == "" {
		return *versions[len(versions)-1], nil
	}
	for _, v := range versions {
		if v.Version == version {
			return *v, nil
		}
	}
	return Version{}, &NotFoundError{Kind: "version", Name: name + "@" + version}
}

// ListModels returns the latest version of every model, sorted by name.
func (r *Registry) ListModels() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Version, 0, len(r.models))
	for _, versions := range r.models {
		out = append(out, *versions[len(versions)-1])
	}
	slices.SortFunc(out, func(a, b Version) int { return strings.Compare(a.ModelName, b.ModelName) })
	return out
}

// ListVersions returns every version of a model, newest first.
func (r *Registry) ListVersions(name string) ([]Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[name]
	if !ok {
		return nil, &NotFoundError{Kind: "detector model", Name: name}
	}
	out := make([]Version, len(versions))
	for i, v := range versions {
		out[len(versions)-1-i] = *v
	}
	return out, nil
}

// Active returns the version of name that accepts input, if any.
func (r *Registry) Active(name string) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[name]
	if !ok {
		return Version{}, false
	}
	v := versions[len(versions)-1]
	if !AcceptsInput(v.Status) {
		return Version{}, false
	}
	return *v, true
}

// ActiveModels returns every version that accepts input, sorted by name.
func (r *Registry) ActiveModels() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Version
	for _, versions := range r.models {
		if v := versions[len(versions)-1]; AcceptsInput(v.Status) {
			out = append(out, *v)
		}
	}
	slices.SortFunc(out, func(a, b Version) int { return strings.Compare(a.ModelName, b.ModelName) })
	return out
}

// CreateInput validates and stores an input definition.
func (r *Registry) CreateInput(in ir.Input) (InputRecord, error) {
	def, err := compiler.CompileInputDef(in)
	if err != nil {
		return InputRecord{}, err
	}

	r.mu.Lock()
	if _, exists := r.inputs[in.Name]; exists {
		r.mu.Unlock()
		return InputRecord{}, &ConflictError{Kind: "input", Name: in.Name}
	}
	now := r.now()
	rec := &InputRecord{Input: *def, Status: ir.InputCreating, CreatedAt: now, UpdatedAt: now}
	r.inputs[in.Name] = rec
	rec.Status = ir.InputActive
	out := *rec
	r.mu.Unlock()

	slog.Info("input created", "input", in.Name, "attributes", len(in.Attributes))
	r.notify(Change{Kind: InputChanged, Name: in.Name, Input: &out})
	return out, nil
}

// UpdateInput replaces an input's definition.
func (r *Registry) UpdateInput(in ir.Input) (InputRecord, error) {
	def, err := compiler.CompileInputDef(in)
	if err != nil {
		return InputRecord{}, err
	}

	r.mu.Lock()
	rec, ok := r.inputs[in.Name]
	if !ok {
		r.mu.Unlock()
		return InputRecord{}, &NotFoundError{Kind: "input", Name: in.Name}
	}
	rec.Status = ir.InputUpdating
	rec.Input = *def
	rec.UpdatedAt = r.now()
	rec.Status = ir.InputActive
	out := *rec
	r.mu.Unlock()

	slog.Info("input updated", "input", in.Name)
	r.notify(Change{Kind: InputChanged, Name: in.Name, Input: &out})
	return out, nil
}

// DeleteInput removes an input definition. Models that read it keep
// running but messages for it are no longer routed.
func (r *Registry) DeleteInput(name string) error {
	r.mu.Lock()
	rec, ok := r.inputs[name]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{Kind: "input", Name: name}
	}
	rec.Status = ir.InputDeleting
	delete(r.inputs, name)
	r.mu.Unlock()

	slog.Info("input deleted", "input", name)
	r.notify(Change{Kind: InputDeleted, Name: name})
	return nil
}

// DescribeInput returns a stored input.
func (r *Registry) DescribeInput(name string) (InputRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.inputs[name]
	if !ok {
		return InputRecord{}, &NotFoundError{Kind: "input", Name: name}
	}
	return *rec, nil
}

// ListInputs returns every input sorted by name.
func (r *Registry) ListInputs() []InputRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]InputRecord, 0, len(r.inputs))
	for _, rec := range r.inputs {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b InputRecord) int { return strings.Compare(a.Input.Name, b.Input.Name) })
	return out
}

// HasInput reports whether an input is declared.
func (r *Registry) HasInput(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.inputs[name]
	return ok
}

// Load creates inputs and then models, collecting every failure.
func (r *Registry) Load(inputs []ir.Input, models []ir.DetectorModel) error {
	var errs []error
	for _, in := range inputs {
		if _, err := r.CreateInput(in); err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", in.Name, err))
		}
	}
	for _, m := range models {
		if _, err := r.CreateModel(m); err != nil {
			errs = append(errs, fmt.Errorf("detector model %q: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}
