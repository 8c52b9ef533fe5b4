package staging

import "context"

// Reconcile exposes reconcile to the external test package so
// staging_test.go can avoid importing memqueue from inside package
// staging, which would otherwise create an import cycle.
func (s *Store) Reconcile(ctx context.Context) {
	s.reconcile(ctx)
}
