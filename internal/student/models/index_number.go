package models

import (
	"crypto/rand"
	"io"
	"math/big"
	"strconv"

	dErrors "examboard/pkg/domain-errors"
)

const (
	MinIndexNumber = 100000
	MaxIndexNumber = 999999
)

// IndexNumber is a student's public 6-digit identifier.
type IndexNumber string

func (n IndexNumber) String() string { return string(n) }

func ParseIndexNumber(s string) (IndexNumber, error) {
	if len(s) != 6 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "index number must be 6 digits")
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < MinIndexNumber || v > MaxIndexNumber {
		return "", dErrors.New(dErrors.CodeInvalidInput, "index number must be 6 digits")
	}
	return IndexNumber(s), nil
}

var indexSpan = big.NewInt(MaxIndexNumber - MinIndexNumber + 1)

// DrawIndexNumber draws uniformly from [MinIndexNumber, MaxIndexNumber].
// A nil reader means crypto/rand.
func DrawIndexNumber(r io.Reader) (IndexNumber, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, indexSpan)
	if err != nil {
		return "", err
	}
	return IndexNumber(strconv.FormatInt(n.Int64()+MinIndexNumber, 10)), nil
}
