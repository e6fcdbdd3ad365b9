package models

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

// DocumentNumber is the printed serial, e.g. CERT-2026-00451902.
type DocumentNumber string

func (n DocumentNumber) String() string { return string(n) }

var documentNumberSpace = big.NewInt(100_000_000)

var documentNumberPattern = regexp.MustCompile(`^(CERT|TRN)-\d{4}-\d{8}$`)

// DrawDocumentNumber draws a uniformly random serial for kind and year.
// A nil reader uses crypto/rand.
func DrawDocumentNumber(r io.Reader, kind Kind, year int) (DocumentNumber, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, documentNumberSpace)
	if err != nil {
		return "", fmt.Errorf("draw document number: %w", err)
	}
	return DocumentNumber(fmt.Sprintf("%s-%04d-%08d", kind.prefix(), year, n.Int64())), nil
}

func (n DocumentNumber) IsValid() bool {
	return documentNumberPattern.MatchString(string(n))
}

// Token is the public verification token printed on the document.
type Token string

const tokenBytes = 32

// tokenLength is the unpadded base64url length of tokenBytes.
var tokenLength = base64.RawURLEncoding.EncodedLen(tokenBytes)

// NewToken draws 256 random bits. A nil reader uses crypto/rand.
func NewToken(r io.Reader) (Token, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("draw verification token: %w", err)
	}
	return Token(base64.RawURLEncoding.EncodeToString(buf)), nil
}

// WellFormed reports whether t could have been issued.
func (t Token) WellFormed() bool {
	if len(t) != tokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(string(t))
	return err == nil
}

// Fingerprint identifies a token in logs and cache keys without revealing it.
func (t Token) Fingerprint() string {
	sum := blake2b.Sum256([]byte(t))
	return hex.EncodeToString(sum[:16])
}

// String never prints the token itself.
func (t Token) String() string { return "token:" + t.Fingerprint() }

// Raw returns the token itself, for storage and rendering only.
func (t Token) Raw() string { return string(t) }
