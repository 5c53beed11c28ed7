// Package interfaces defines the core types and contracts shared between the
// trust agent components: the operation set, the trust lifecycle manager, the
// secure channel, and the policy-store persistence layer. It carries no
// implementation so that components depend on contracts rather than on each
// other.
package interfaces
