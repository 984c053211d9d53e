package scope

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Contributor adds bindings to newly initialized scopes.
type Contributor interface {
	Contribute(s *Scope, trusted, mutable bool) error
}

// ContributorFunc adapts a function to the Contributor interface.
type ContributorFunc func(s *Scope, trusted, mutable bool) error

func (f ContributorFunc) Contribute(s *Scope, trusted, mutable bool) error {
	return f(s, trusted, mutable)
}

// Named is implemented by contributors that want a readable name in error
// messages.
type Named interface {
	Name() string
}

// Registry is an ordered list of contributors. Registration is rare and off
// the execution path, so a plain mutex guards it.
type Registry struct {
	mu           sync.Mutex
	contributors []Contributor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a contributor.
func (r *Registry) Register(c Contributor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributors = append(r.contributors, c)
}

// Contributors returns a snapshot of the registered contributors in
// registration order.
func (r *Registry) Contributors() []Contributor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Contributor(nil), r.contributors...)
}

// Len returns the number of registered contributors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contributors)
}

// Apply runs every contributor against s using the scope's own trust and
// mutability flags. All contributors run even if some fail; the failures
// are returned together.
func (r *Registry) Apply(s *Scope) error {
	return ApplyContributors(s, r.Contributors())
}

// ApplyContributors runs cs against s the way Registry.Apply does.
func ApplyContributors(s *Scope, cs []Contributor) error {
	var result *multierror.Error
	for i, c := range cs {
		if err := c.Contribute(s, s.Trusted(), s.Mutable()); err != nil {
			name := fmt.Sprintf("contributor %d", i)
			if n, ok := c.(Named); ok {
				name = n.Name()
			}
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
