package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList("1,2, 3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	ids, err = parseIDList("42")
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)

	_, err = parseIDList("")
	assert.Error(t, err)

	_, err = parseIDList("1,abc")
	assert.Error(t, err)

	_, err = parseIDList("0")
	assert.Error(t, err)

	_, err = parseIDList("-5")
	assert.Error(t, err)
}
