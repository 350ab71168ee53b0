package storage

import (
	"reflect"
	"sync"

	pluralize "github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
	"github.com/rush86999/atomagent/errors"
)

var (
	pluralizer = pluralize.NewClient()
	modelNames sync.Map // reflect.Type -> string
)

// Model is a record that can be persisted.
type Model interface {
	// PK returns the primary key that the record is stored under.
	PK() string
}

// Namer lets a model choose its own name.
type Namer interface {
	Name() string
}

// Name returns the model's storage name: the Namer result, or the pluralized
// snake case form of the struct name ("StoredToken" -> "stored_tokens").
func Name(m any) string {
	if n, ok := m.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if n, ok := modelNames.Load(t); ok {
		return n.(string)
	}
	n := pluralizer.Plural(strcase.ToSnake(t.Name()))
	modelNames.Store(t, n)
	return n
}

// ValidateReceiver returns an error if the model is nil or uninitialized.
func ValidateReceiver(model Model) error {
	if model == nil {
		return errors.Mark(ErrNilModel, 0)
	}
	v := reflect.ValueOf(model)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return errors.Mark(ErrNilModel, 0)
	}
	return nil
}
