// Package api defines the request and response types exchanged between the
// trust agent's certification client and the policy authority service.
package api
