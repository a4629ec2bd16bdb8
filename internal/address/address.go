// Package address validates community member wallet addresses.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrBadChecksum    = errors.New("address checksum mismatch")
)

const ss58Prefix = "SS58PRE"

// Validate checks an address against the address scheme of a chain base.
// Ethereum-style bases use hex addresses with an optional EIP-55 checksum;
// Substrate-style bases use SS58.
func Validate(base, addr string) error {
	switch base {
	case "ethereum", "cosmos-evm":
		return ValidateEthereum(addr)
	case "substrate":
		_, _, err := DecodeSS58(addr)
		return err
	default:
		if strings.TrimSpace(addr) == "" {
			return ErrInvalidAddress
		}
		return nil
	}
}

// ValidateEthereum accepts 0x-prefixed 20-byte hex addresses. All-lower and
// all-upper forms pass without a checksum; mixed-case forms must satisfy
// the EIP-55 checksum.
func ValidateEthereum(addr string) error {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return ErrInvalidAddress
	}
	hexPart := addr[2:]
	for _, r := range hexPart {
		if !isHexDigit(r) {
			return ErrInvalidAddress
		}
	}
	lower := strings.ToLower(hexPart)
	upper := strings.ToUpper(hexPart)
	if hexPart == lower || hexPart == upper {
		return nil
	}
	checksummed, err := ToChecksumAddress(addr)
	if err != nil {
		return err
	}
	if checksummed != addr {
		return ErrBadChecksum
	}
	return nil
}

// ToChecksumAddress returns the EIP-55 mixed-case form of a hex address.
func ToChecksumAddress(addr string) (string, error) {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return "", ErrInvalidAddress
	}
	lower := strings.ToLower(addr[2:])
	hash := keccak256([]byte(lower))

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := lower[i]
		if c >= '0' && c <= '9' {
			out[i] = c
			continue
		}
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - ('a' - 'A')
		} else {
			out[i] = c
		}
	}
	return "0x" + string(out), nil
}

// DecodeSS58 decodes an SS58 address into its network prefix and public key,
// verifying the embedded blake2b checksum.
func DecodeSS58(addr string) (prefix uint16, pubkey []byte, err error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return 0, nil, ErrInvalidAddress
	}
	if len(raw) < 3 {
		return 0, nil, ErrInvalidAddress
	}

	prefixLen := 1
	if raw[0] >= 64 {
		if len(raw) < 4 {
			return 0, nil, ErrInvalidAddress
		}
		prefixLen = 2
		prefix = uint16(raw[0]&0x3f)<<2 | uint16(raw[1])>>6 | uint16(raw[1]&0x3f)<<8
	} else {
		prefix = uint16(raw[0])
	}

	if len(raw) < prefixLen+2 {
		return 0, nil, ErrInvalidAddress
	}
	body := raw[:len(raw)-2]
	checksum := raw[len(raw)-2:]
	pubkey = raw[prefixLen : len(raw)-2]
	if len(pubkey) != 32 {
		return 0, nil, ErrInvalidAddress
	}

	hasher, err := blake2b.New512(nil)
	if err != nil {
		return 0, nil, fmt.Errorf("blake2b: %w", err)
	}
	_, _ = hasher.Write([]byte(ss58Prefix))
	_, _ = hasher.Write(body)
	sum := hasher.Sum(nil)
	if sum[0] != checksum[0] || sum[1] != checksum[1] {
		return 0, nil, ErrBadChecksum
	}
	return prefix, pubkey, nil
}

func keccak256(data []byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	_, _ = hasher.Write(data)
	return hasher.Sum(nil)
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
