// Package boundary enforces which documents, entities, sections and fields
// each subsystem role may read or write, and serves the documents over HTTP.
package boundary

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
)

// Store is the part of the document store the service needs.
type Store interface {
	Read(ctx context.Context, name string) (document.Document, error)
	Update(ctx context.Context, name string, fn docstore.UpdateFunc) (document.Document, error)
}

type Opt func(*Service)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCatalog(catalog *document.Catalog) Opt {
	return func(s *Service) {
		s.catalog = catalog
	}
}

func WithPolicy(policy Policy) Opt {
	return func(s *Service) {
		s.policy = policy
	}
}

// Service authorizes operations against the policy and applies the allowed
// ones to the store. It is the single enforcement point for both the HTTP
// router and clients working against a local store.
type Service struct {
	logger  *zap.Logger
	store   Store
	catalog *document.Catalog
	policy  Policy
}

func NewService(store Store, opts ...Opt) (*Service, error) {
	s := &Service{
		logger:  zap.NewNop(),
		store:   store,
		catalog: document.DefaultCatalog(),
		policy:  DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(s.catalog); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Policy() Policy {
	return s.policy
}

func (s *Service) authorize(ctx context.Context, caller Caller, doc, op string, allowed func(Grant) bool) (Grant, error) {
	if err := caller.Validate(); err != nil {
		return Grant{}, err
	}
	g, ok := s.policy.grant(caller.Role, doc)
	if !ok || !allowed(g) {
		return Grant{}, s.violation(ctx, caller, doc, op, "operation not granted")
	}
	return g, nil
}

func (s *Service) violation(ctx context.Context, caller Caller, doc, op, reason string) error {
	violations.WithLabelValues(string(caller.Role), doc, op).Inc()
	s.logger.Warn("boundary violation",
		log.ZContext(ctx),
		zap.Stringer("caller", caller),
		zap.String("doc", doc),
		zap.String("op", op),
		zap.String("reason", reason),
	)
	return fmt.Errorf("%w: %s may not %s %s: %s", ErrBoundaryViolation, caller, op, doc, reason)
}

// Read returns the part of the document caller may see.
func (s *Service) Read(ctx context.Context, caller Caller, doc string) (document.Document, error) {
	g, err := s.authorize(ctx, caller, doc, "read", func(g Grant) bool { return g.Read != nil })
	if err != nil {
		return nil, err
	}
	current, err := s.store.Read(ctx, doc)
	if err != nil {
		return nil, err
	}
	operations.WithLabelValues(string(caller.Role), doc, "read").Inc()
	return project(current, g, caller), nil
}

// Write merges patch into the document and returns the part of the result
// caller may see. The patch is checked against the grant in full before the
// store is touched, so a rejected patch has no effect.
func (s *Service) Write(ctx context.Context, caller Caller, doc string, patch document.Document) (document.Document, error) {
	g, err := s.authorize(ctx, caller, doc, "write", func(g Grant) bool { return g.Write != nil })
	if err != nil {
		return nil, err
	}
	kind, ok := s.catalog.Kind(doc)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, doc)
	}
	if err := checkPatch(kind, patch); err != nil {
		return nil, err
	}
	for _, id := range patch.Entities() {
		if g.OwnEntity && id != caller.Unit {
			return nil, s.violation(ctx, caller, doc, "write", fmt.Sprintf("entity %s is not owned", id))
		}
		entity, _ := patch.Entity(id)
		for _, section := range sortedKeys(entity) {
			values, _ := document.Object(entity[section])
			for _, field := range sortedKeys(values) {
				if !g.Write.allows(section, field) {
					return nil, s.violation(ctx, caller, doc, "write", fmt.Sprintf("%s.%s.%s not writable", id, section, field))
				}
			}
			if len(values) == 0 {
				if _, ok := g.Write.section(section); !ok {
					return nil, s.violation(ctx, caller, doc, "write", fmt.Sprintf("%s.%s not writable", id, section))
				}
			}
		}
	}
	merged, err := s.store.Update(ctx, doc, func(current document.Document) (document.Document, bool, error) {
		next := document.Merge(current, patch)
		return next, !document.Equal(current, next), nil
	})
	if err != nil {
		return nil, err
	}
	operations.WithLabelValues(string(caller.Role), doc, "write").Inc()
	s.logger.Debug("document written",
		log.ZContext(ctx),
		zap.Stringer("caller", caller),
		zap.String("doc", doc),
		zap.Strings("entities", patch.Entities()),
	)
	if g.Read == nil {
		return document.Document{}, nil
	}
	return project(merged, g, caller), nil
}

// Remove deletes one entity from the document and returns the part of the
// remaining document caller may see.
func (s *Service) Remove(ctx context.Context, caller Caller, doc, entity string) (document.Document, error) {
	g, err := s.authorize(ctx, caller, doc, "remove", func(g Grant) bool { return g.Remove })
	if err != nil {
		return nil, err
	}
	if g.OwnEntity && entity != caller.Unit {
		return nil, s.violation(ctx, caller, doc, "remove", fmt.Sprintf("entity %s is not owned", entity))
	}
	if entity == "" {
		return nil, fmt.Errorf("%w: empty entity id", ErrInvalidPatch)
	}
	remaining, err := s.store.Update(ctx, doc, func(current document.Document) (document.Document, bool, error) {
		if _, ok := current[entity]; !ok {
			return current, false, nil
		}
		delete(current, entity)
		return current, true, nil
	})
	if err != nil {
		return nil, err
	}
	operations.WithLabelValues(string(caller.Role), doc, "remove").Inc()
	s.logger.Info("entity removed",
		log.ZContext(ctx),
		zap.Stringer("caller", caller),
		zap.String("doc", doc),
		zap.String("entity", entity),
	)
	if g.Read == nil {
		return document.Document{}, nil
	}
	return project(remaining, g, caller), nil
}

// checkPatch verifies that patch is an object of entity objects whose keys
// are sections of kind holding objects.
func checkPatch(kind document.Kind, patch document.Document) error {
	for _, id := range patch.Entities() {
		entity, ok := patch.Entity(id)
		if !ok {
			return fmt.Errorf("%w: entity %s is not an object", ErrInvalidPatch, id)
		}
		for key, v := range entity {
			if !kind.IsSection(key) {
				return fmt.Errorf("%w: %s.%s is not a section of %s", ErrInvalidPatch, id, key, kind.Name)
			}
			if _, ok := document.Object(v); !ok {
				return fmt.Errorf("%w: %s.%s is not an object", ErrInvalidPatch, id, key)
			}
		}
	}
	return nil
}

func project(doc document.Document, g Grant, caller Caller) document.Document {
	out := document.Document{}
	for id, entity := range doc {
		if g.OwnEntity && id != caller.Unit {
			continue
		}
		if v := g.Read.project(entity); v != nil {
			out[id] = v
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
