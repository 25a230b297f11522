// Package recipient classifies the free-text destination a user submits
// when claiming a POAP.
package recipient

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poapgate/poapgate/internal/model"
)

// ErrInvalidRecipient is returned when a string is not an email, an
// Ethereum address or an ENS name.
var ErrInvalidRecipient = errors.New("invalid recipient")

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nameRegex  = regexp.MustCompile(`^[a-zA-Z0-9-]+\.eth$`)
)

// Classify determines the recipient type of raw.
// Email is checked first, then address, then name.
func Classify(raw string) (model.RecipientType, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidRecipient
	}

	switch {
	case IsEmail(raw):
		return model.RecipientEmail, nil
	case IsAddress(raw):
		return model.RecipientAddress, nil
	case IsName(raw):
		return model.RecipientName, nil
	default:
		return "", ErrInvalidRecipient
	}
}

// IsEmail reports whether s has the shape local@domain.tld.
func IsEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// IsName reports whether s is a single-label .eth name.
func IsName(s string) bool {
	return nameRegex.MatchString(s)
}

// IsAddress reports whether s is a 20-byte hex address. Single-case
// addresses are accepted as-is; mixed-case ones must carry a valid
// EIP-55 checksum.
func IsAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}

	body := s
	if len(body) >= 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		body = body[2:]
	}

	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}

	return "0x"+body == common.HexToAddress(body).Hex()
}
