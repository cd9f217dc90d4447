package repository

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

// Store is the backend behind a Repository. Implementations only move records
// in and out; ids, timestamps and ordering are the Repository's business.
type Store interface {
	// Name identifies the backend in logs, errors and metrics
	Name() string
	// List returns every stored template in any order
	List(ctx context.Context) ([]models.StoredTemplate, error)
	// Get returns nil and no error when id is absent
	Get(ctx context.Context, id string) (*models.StoredTemplate, error)
	// Insert adds a new record
	Insert(ctx context.Context, template models.StoredTemplate) error
	// Update overwrites name, description, data and updatedAt of an existing record and
	// returns the stored result. It returns nil and no error when id is absent and never
	// creates a record.
	Update(ctx context.Context, template models.StoredTemplate) (*models.StoredTemplate, error)
	// Delete reports whether a record was removed
	Delete(ctx context.Context, id string) (bool, error)
	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
}

// unreadableTemplateError marks a record whose data is not a JSON object at all.
// List skips such records so that the remaining templates still load.
type unreadableTemplateError struct {
	id  string
	err error
}

func (e *unreadableTemplateError) Error() string {
	return "template " + e.id + " has unreadable data: " + e.err.Error()
}

func (e *unreadableTemplateError) Unwrap() error {
	return e.err
}

// decodeStoredValues merges stored data over the defaults. Fields stored with the wrong
// type keep their default value and are logged.
func decodeStoredValues(id string, data []byte) (models.PayloadFormValues, error) {
	values, err := schema.Decode(data)
	var fieldErrs forgeerrors.ValidationErrors
	if errors.As(err, &fieldErrs) {
		log.WithFields(log.Fields{"template_id": id, "fields": fieldErrs.Fields()}).
			Warn("Stored template has fields of the wrong type; using their defaults")
		return values, nil
	}
	if err != nil {
		return models.PayloadFormValues{}, &unreadableTemplateError{id: id, err: err}
	}
	return values, nil
}

// skipUnreadable reports whether err only concerns one record's data, logging it if so
func skipUnreadable(backend string, err error) bool {
	var unreadable *unreadableTemplateError
	if !errors.As(err, &unreadable) {
		return false
	}
	log.WithError(err).WithFields(log.Fields{"template_id": unreadable.id, "backend": backend}).
		Error("Skipping stored template with unreadable data")
	return true
}
