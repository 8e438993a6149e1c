package vectorstore

import (
	"testing"

	"municonsole_back/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQdrantWithoutAddressIsDisabled(t *testing.T) {
	index, err := NewQdrant(config.QdrantConfig{})
	require.NoError(t, err)
	assert.Nil(t, index)
	// main defers Close on whatever NewQdrant returned
	assert.NoError(t, index.Close())
}

func TestParseHostPortDefaults(t *testing.T) {
	host, port := parseHostPort("qdrant:7000", "localhost", 6334)
	assert.Equal(t, "qdrant", host)
	assert.Equal(t, 7000, port)

	host, port = parseHostPort("", "localhost", 6334)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
}
