package cache

import (
	"testing"

	"municonsole_back/config"

	"github.com/stretchr/testify/assert"
)

func TestConnectWithoutAddressIsDisabled(t *testing.T) {
	client, err := Connect(config.RedisConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
	assert.False(t, Enabled())
	assert.NoError(t, Close())
}
