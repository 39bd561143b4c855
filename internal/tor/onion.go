package tor

import (
	"encoding/base32"
	"errors"
	"net"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionSuffix is the top-level domain of the onion namespace.
	OnionSuffix = ".onion"

	// OnionV3Version is the version byte embedded in v3 addresses.
	OnionV3Version = 0x03

	// v3DecodedLength is pubkey (32) + checksum (2) + version (1).
	v3DecodedLength = 35
)

var (
	onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)
	onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)

	// checksumPrefix is fixed by the Tor rendezvous specification.
	checksumPrefix = []byte(".onion checksum")

	// ErrInvalidPublicKey is returned for keys that are not 32 bytes long.
	ErrInvalidPublicKey = errors.New("ed25519 public key must be 32 bytes")
)

// DomainKind classifies a domain for the info column of the graph store.
type DomainKind string

const (
	// KindOnionV3 is a v3 address whose checksum verifies.
	KindOnionV3 DomainKind = "onion-v3"
	// KindOnionV3BadChecksum looks like v3 but fails checksum verification.
	KindOnionV3BadChecksum DomainKind = "onion-v3-bad-checksum"
	// KindOnionV2 is a legacy v2 address. Those stopped working in 2021.
	KindOnionV2 DomainKind = "onion-v2"
	// KindOnion is any other name under .onion (e.g. subdomains).
	KindOnion DomainKind = "onion"
	// KindClearnet is everything outside the onion namespace.
	KindClearnet DomainKind = "clearnet"
)

// DescribeDomain returns the kind of an authority. A port, if present, is
// ignored.
func DescribeDomain(domain string) DomainKind {
	host := strings.ToLower(strings.TrimSpace(domain))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	// Subdomains of an onion service share its key.
	labels := strings.Split(strings.TrimSuffix(host, OnionSuffix), ".")
	service := labels[len(labels)-1] + OnionSuffix

	switch {
	case !strings.HasSuffix(host, OnionSuffix):
		return KindClearnet
	case IsValidV3Address(service):
		return KindOnionV3
	case onionV3Pattern.MatchString(service):
		return KindOnionV3BadChecksum
	case IsV2Address(service):
		return KindOnionV2
	default:
		return KindOnion
	}
}

// IsValidV3Address checks format and checksum of a v3 onion address.
// The address must include the ".onion" suffix.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	encoded := strings.ToUpper(strings.TrimSuffix(address, OnionSuffix))
	decoded, err := base32.StdEncoding.DecodeString(encoded)
	if err != nil || len(decoded) != v3DecodedLength {
		return false
	}

	pubkey := decoded[:32]
	checksum := decoded[32:34]
	version := decoded[34]
	if version != OnionV3Version {
		return false
	}

	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// IsV2Address reports whether address has the 16-character v2 format.
func IsV2Address(address string) bool {
	return onionV2Pattern.MatchString(strings.ToLower(address))
}

// ComputeV3AddressFromPublicKey derives the v3 onion address of an ed25519
// public key.
func ComputeV3AddressFromPublicKey(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", ErrInvalidPublicKey
	}

	data := make([]byte, v3DecodedLength)
	copy(data[:32], pubkey)
	copy(data[32:34], computeV3Checksum(pubkey, OnionV3Version))
	data[34] = OnionV3Version

	return strings.ToLower(base32.StdEncoding.EncodeToString(data)) + OnionSuffix, nil
}

// computeV3Checksum returns SHA3-256(".onion checksum" || pubkey || version)[:2].
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}
