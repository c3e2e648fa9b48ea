package role

// Store exposes role lookup for handlers and the session controller.
type Store interface {
	List() []Role
	FindByID(id string) (Role, bool)
	Default() Role
}

// MemoryStore implements Store with an immutable in-memory slice.
type MemoryStore struct {
	items []Role
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied roles.
func NewMemoryStore(items []Role) *MemoryStore {
	return &MemoryStore{items: append([]Role(nil), items...)}
}

// List returns the configured roles in display order.
func (s *MemoryStore) List() []Role {
	return append([]Role(nil), s.items...)
}

// FindByID looks up a role by identifier.
func (s *MemoryStore) FindByID(id string) (Role, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Role{}, false
}

// Default returns the DefaultID role, or the first entry when it is absent.
func (s *MemoryStore) Default() Role {
	if item, ok := s.FindByID(DefaultID); ok {
		return item
	}
	if len(s.items) == 0 {
		return Role{}
	}
	return s.items[0]
}
