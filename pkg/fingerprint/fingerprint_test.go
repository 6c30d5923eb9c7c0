package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldkite/memstore-go/pkg/fingerprint"
)

func TestContent_Deterministic(t *testing.T) {
	a := fingerprint.Content("gate code is 4521")
	b := fingerprint.Content("gate code is 4521")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // SHA-256 hex
}

func TestContent_DistinctInputs(t *testing.T) {
	a := fingerprint.Content("gate code is 4521")
	b := fingerprint.Content("gate code is 4522")

	assert.NotEqual(t, a, b)
}

func TestContent_EmptyString(t *testing.T) {
	// Known SHA-256 of the empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		fingerprint.Content(""))
}
