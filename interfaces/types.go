package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/trustplane/trustagent/cryptoutils"
)

type PolicyCert = cryptoutils.PolicyCert
type AdmissionCert = cryptoutils.AdmissionCert
type AuthPrivkey = cryptoutils.AuthPrivkey
type AuthPubkey = cryptoutils.AuthPubkey

// Operation is the closed set of operations the trust agent performs. Exactly
// one is selected at process start and stays fixed for the run.
type Operation string

const (
	OperationColdInit     Operation = "cold-init"
	OperationGetCertified Operation = "get-certified"
	OperationRunAsClient  Operation = "run-as-client"
	OperationRunAsServer  Operation = "run-as-server"
)

// ErrUnknownOperation is returned when an operation string does not name one
// of the four supported operations.
var ErrUnknownOperation = errors.New("unknown operation")

// ParseOperation maps an operation string to its Operation value.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationColdInit, OperationGetCertified, OperationRunAsClient, OperationRunAsServer:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
}

// String returns the operation's wire/CLI representation.
func (op Operation) String() string {
	return string(op)
}

// Measurement is the SHA-256 digest of an application binary, as produced by
// the measure utility and enforced by the policy authority.
type Measurement [32]byte

// NewMeasurementFromBytes creates a measurement from a 32-byte slice.
func NewMeasurementFromBytes(b []byte) (Measurement, error) {
	if len(b) != 32 {
		return Measurement{}, errors.New("invalid measurement length: must be 32 bytes")
	}
	var m Measurement
	copy(m[:], b)
	return m, nil
}

// NewMeasurementFromHex creates a measurement from a 64-character hex string.
func NewMeasurementFromHex(s string) (Measurement, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Measurement{}, fmt.Errorf("invalid measurement hex: %w", err)
	}
	return NewMeasurementFromBytes(b)
}

// String returns the hex representation of the measurement.
func (m Measurement) String() string {
	return hex.EncodeToString(m[:])
}

// Bytes returns the raw 32-byte digest.
func (m Measurement) Bytes() []byte {
	return m[:]
}

// Equal compares two measurements.
func (m Measurement) Equal(other Measurement) bool {
	return m == other
}

// DomainName identifies the security domain an application is certified
// into. It becomes the CommonName of the admission certificate.
type DomainName string

var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-_]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-_]{0,61}[a-zA-Z0-9])?)*$`)

// NewDomainName creates a domain name with validation.
func NewDomainName(s string) (DomainName, error) {
	if !domainRegex.MatchString(s) {
		return DomainName(""), errors.New("invalid domain name format")
	}
	return DomainName(s), nil
}

// String returns the domain name as a string.
func (d DomainName) String() string {
	return string(d)
}

// Validate checks if the domain name has a valid format.
func (d DomainName) Validate() error {
	_, err := NewDomainName(string(d))
	return err
}
