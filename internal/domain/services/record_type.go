package services

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

// RecordTypeService is the registry of draftable record types. Types are
// registered at startup and looked up by the name stored on drafts.
type RecordTypeService struct {
	types       map[string]*entities.RecordType
	sortedNames []string // kept in step with types
	mu          sync.RWMutex
}

// NewRecordTypeService creates an empty registry.
func NewRecordTypeService() *RecordTypeService {
	return &RecordTypeService{
		types: make(map[string]*entities.RecordType),
	}
}

// Register validates and adds a record type.
func (s *RecordTypeService) Register(rt entities.RecordType) error {
	if err := rt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.types[rt.Name]; ok {
		return fmt.Errorf("%w: record type '%s' already registered", entities.ErrInvalidArgument, rt.Name)
	}
	rtCopy := rt
	s.types[rt.Name] = &rtCopy
	s.sortedNames = append(s.sortedNames, rt.Name)
	sort.Strings(s.sortedNames)
	return nil
}

// MustRegister registers every type and panics on the first error. Intended
// for wiring record types at startup.
func (s *RecordTypeService) MustRegister(types ...entities.RecordType) {
	for _, rt := range types {
		if err := s.Register(rt); err != nil {
			panic(err)
		}
	}
}

// Get returns the record type called name.
func (s *RecordTypeService) Get(name string) (*entities.RecordType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrUnknownType, name)
	}
	return rt, nil
}

// Names returns the registered type names in sorted order.
func (s *RecordTypeService) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sortedNames)
}

// List returns all registered types sorted by name.
func (s *RecordTypeService) List() []*entities.RecordType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entities.RecordType, len(s.sortedNames))
	for i, name := range s.sortedNames {
		result[i] = s.types[name]
	}
	return result
}

// Check verifies that every association points at a registered type and
// that every has-many names a belongs-to inverse on its target.
func (s *RecordTypeService) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	for _, name := range s.sortedNames {
		rt := s.types[name]
		for _, a := range rt.BelongsTo {
			if a.Polymorphic {
				continue
			}
			if _, ok := s.types[a.Target]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s.%s targets %s", entities.ErrUnknownType, rt.Name, a.Name, a.Target))
			}
		}
		for _, c := range rt.HasMany {
			target, ok := s.types[c.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s.%s targets %s", entities.ErrUnknownType, rt.Name, c.Name, c.Target))
				continue
			}
			inverse, ok := target.Association(c.Inverse)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s has no association %s for %s.%s",
					entities.ErrInvalidArgument, target.Name, c.Inverse, rt.Name, c.Name))
				continue
			}
			if !inverse.Polymorphic && inverse.Target != rt.Name {
				errs = append(errs, fmt.Errorf("%w: %s.%s points at %s, not %s",
					entities.ErrInvalidArgument, target.Name, inverse.Name, inverse.Target, rt.Name))
			}
		}
	}
	return errors.Join(errs...)
}
