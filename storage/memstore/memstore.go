// Package memstore implements storage.Store in memory. Records are kept as
// JSON so callers never share mutable state with the store.
package memstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/storage"
)

// New returns an empty in-memory store.
func New() storage.Store {
	return &store{data: map[string]map[string][]byte{}}
}

type store struct {
	// data[modelName][pk] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(_ context.Context, models ...storage.Model) error {
	return s.put(false, models)
}

func (s *store) Upsert(_ context.Context, models ...storage.Model) error {
	return s.put(true, models)
}

func (s *store) put(replace bool, models []storage.Model) error {
	encoded := make([][]byte, len(models))
	for i, m := range models {
		if err := storage.ValidateReceiver(m); err != nil {
			return err
		}
		b, err := json.Marshal(m)
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		encoded[i] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !replace {
		for _, m := range models {
			if _, ok := s.data[storage.Name(m)][m.PK()]; ok {
				return errors.Mark(storage.ErrAlreadyExists, 0).Append(m.PK())
			}
		}
	}
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
	return nil
}

func (s *store) Read(_ context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	b, ok := s.data[storage.Name(model)][id]
	s.mu.RUnlock()

	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(b, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Exists(_ context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[storage.Name(model)][id]
	return ok, nil
}

func (s *store) Delete(_ context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	if _, ok := s.data[n][model.PK()]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], model.PK())
	return nil
}

func (s *store) Close() error {
	return nil
}
