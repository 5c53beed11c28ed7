// Package trustmgr implements the trust lifecycle of a single process:
// one-time key and trust-state creation (cold init), reload of persisted
// state (warm restart), and certification against the policy authority.
//
// The trust state is persisted as a single sealed blob through a storage
// backend; the sealing key is derived from the enclave sealing secret so a
// store written on one platform cannot be unsealed on another.
package trustmgr
