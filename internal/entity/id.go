package entity

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a ULID: millisecond time prefix plus random suffix,
// collision-resistant and lexicographically sortable by creation time.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is NewID for callers that cannot fail (test fixtures,
// import paths where entropy exhaustion is not a realistic concern).
func MustNewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Now returns the current Unix millisecond timestamp used for all
// entity timestamps.
func Now() int64 {
	return time.Now().UnixMilli()
}
