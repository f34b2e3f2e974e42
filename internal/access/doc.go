// Package access provides the role predicates used by every access decision
// on the field manager platform.
//
// This package implements:
//   - Role equality and role-set membership checks
//   - An explicit admin-equivalence table (Policy)
//   - Route access rules loaded from a YAML policy file
//
// All predicates fail closed: an absent or unknown role never matches.
package access
