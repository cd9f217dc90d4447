package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/metrics"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

// Repository stores named templates through a pluggable Store.
// It assigns ids and timestamps and translates backend failures into
// forgeerrors.StorageError so callers see the same contract for every backend.
type Repository struct {
	store Store
	clock clock.PassiveClock
	newID func() string
	// serialises SeedDefaultIfEmpty so concurrent starts seed at most once per process
	seedLock sync.Mutex
}

// Option customises a Repository
type Option func(*Repository)

// WithClock sets the clock used for createdAt/updatedAt
func WithClock(c clock.PassiveClock) Option {
	return func(r *Repository) {
		r.clock = c
	}
}

// WithIDGenerator sets the function used to allocate template ids
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) {
		r.newID = newID
	}
}

// NewRepository creates a new repository instance
func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		clock: clock.RealClock{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the name of the underlying store
func (r *Repository) Backend() string {
	return r.store.Name()
}

// List returns all templates, most recently updated first
func (r *Repository) List(ctx context.Context) ([]models.StoredTemplate, error) {
	var templates []models.StoredTemplate
	err := r.do("list", "", func() error {
		var err error
		templates, err = r.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(templates, func(i, j int) bool {
		if !templates[i].UpdatedAt.Equal(templates[j].UpdatedAt) {
			return templates[i].UpdatedAt.After(templates[j].UpdatedAt)
		}
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})
	if templates == nil {
		templates = []models.StoredTemplate{}
	}
	return templates, nil
}

// Get returns the template with the given id, or nil if there is none
func (r *Repository) Get(ctx context.Context, id string) (*models.StoredTemplate, error) {
	if id == "" {
		return nil, nil
	}
	var template *models.StoredTemplate
	err := r.do("get", id, func() error {
		var err error
		template, err = r.store.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return template, nil
}

// Save creates a template when id is empty and otherwise overwrites the name, description
// and data of the existing template with that id, preserving its createdAt.
// Saving with an id that does not exist returns forgeerrors.NotFoundError; nothing is created.
func (r *Repository) Save(ctx context.Context, values models.PayloadFormValues, name, description, id string) (*models.StoredTemplate, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return nil, &forgeerrors.InvalidArgumentError{
			Name:    "name",
			Value:   name,
			Message: "template name must not be empty",
		}
	}

	now := r.clock.Now().UTC()
	template := models.StoredTemplate{
		ID:          id,
		Name:        name,
		Description: description,
		Data:        values.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if id == "" {
		template.ID = r.newID()
		err := r.do("insert", template.ID, func() error {
			return r.store.Insert(ctx, template)
		})
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"template_id": template.ID, "backend": r.store.Name()}).Info("Created template")
		return &template, nil
	}

	var updated *models.StoredTemplate
	err := r.do("update", id, func() error {
		var err error
		updated, err = r.store.Update(ctx, template)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		log.WithFields(log.Fields{"template_id": id, "backend": r.store.Name()}).Warn("Refusing to save template that no longer exists")
		return nil, &forgeerrors.NotFoundError{Type: "template", Value: id}
	}
	return updated, nil
}

// Delete removes the template with the given id and reports whether it existed
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var deleted bool
	err := r.do("delete", id, func() error {
		var err error
		deleted, err = r.store.Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		log.WithFields(log.Fields{"template_id": id, "backend": r.store.Name()}).Info("Deleted template")
	}
	return deleted, nil
}

// SeedDefaultIfEmpty creates the default template when the store holds none.
// It returns the created template, or nil when templates already existed.
func (r *Repository) SeedDefaultIfEmpty(ctx context.Context) (*models.StoredTemplate, error) {
	r.seedLock.Lock()
	defer r.seedLock.Unlock()

	templates, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		return nil, nil
	}
	seeded, err := r.Save(ctx, schema.DefaultValues(), schema.DefaultTemplateName, schema.DefaultTemplateDescription, "")
	if err != nil {
		return nil, err
	}
	log.WithField("template_id", seeded.ID).Info("Seeded default template into empty store")
	return seeded, nil
}

// Ping checks that the store is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.do("ping", "", func() error {
		return r.store.Ping(ctx)
	})
}

// do runs one store call, records it and wraps any failure as a StorageError
func (r *Repository) do(op, id string, call func() error) error {
	start := time.Now()
	err := call()
	metrics.RecordStoreOperation(r.store.Name(), op, time.Since(start), err)
	if err == nil {
		return nil
	}
	fields := log.Fields{"op": op, "backend": r.store.Name()}
	if id != "" {
		fields["template_id"] = id
	}
	log.WithFields(fields).WithError(err).Error("Template store operation failed")
	return &forgeerrors.StorageError{Op: op, Backend: r.store.Name(), Err: err}
}
