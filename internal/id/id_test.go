package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New()
	}

	assert.True(t, sort.StringsAreSorted(ids))
	for _, s := range ids {
		assert.True(t, Valid(s))
		assert.Len(t, s, 26)
	}
}

func TestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	created, err := Time(New())
	require.NoError(t, err)
	assert.True(t, created.After(before))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
	assert.False(t, Valid("not-a-ulid"))
}
