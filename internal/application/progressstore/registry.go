package progressstore

import (
	"context"
	"errors"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// Registry holds one Store per enabled reader namespace. All stores share
// the same local cache and remote store; keys keep them apart.
type Registry struct {
	stores map[shared.Namespace]*Store
	order  []shared.Namespace
}

// NewRegistry creates a store for each namespace. opts.Namespace is ignored.
func NewRegistry(local progress.LocalCache, remote progress.RemoteStore, log *logger.Logger, opts Options, namespaces ...shared.Namespace) *Registry {
	r := &Registry{stores: make(map[shared.Namespace]*Store, len(namespaces))}
	for _, ns := range namespaces {
		if !ns.IsValid() {
			continue
		}
		if _, dup := r.stores[ns]; dup {
			continue
		}
		o := opts
		o.Namespace = ns
		r.stores[ns] = New(local, remote, log, o)
		r.order = append(r.order, ns)
	}
	return r
}

// For returns the store of ns, or ErrInvalidNamespace if it is not enabled.
func (r *Registry) For(ns shared.Namespace) (*Store, error) {
	s, ok := r.stores[ns]
	if !ok {
		return nil, shared.ErrInvalidNamespace
	}
	return s, nil
}

// Namespaces returns the enabled namespaces in registration order.
func (r *Registry) Namespaces() []shared.Namespace {
	return append([]shared.Namespace(nil), r.order...)
}

// Flush waits for the remote legs of every store.
func (r *Registry) Flush(ctx context.Context) error {
	var errs []error
	for _, ns := range r.order {
		if err := r.stores[ns].Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
