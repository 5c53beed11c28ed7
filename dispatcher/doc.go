// Package dispatcher maps a selected operation onto the trust manager and
// channel provider collaborators: one-time initialization, certification, and
// the client/server halves of the two-step session protocol. The dispatcher
// enforces the trust preconditions of each operation before any network
// activity happens.
package dispatcher
