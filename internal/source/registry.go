package source

import "sort"

// Registry holds the sources available to the CLI
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source under its Name()
func (r *Registry) Register(s Source) {
	r.sources[s.Name()] = s
}

// Get returns a source by name
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names returns all registered source names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
