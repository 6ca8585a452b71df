package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-pairsync/config"
)

func TestPresets(t *testing.T) {
	phone, err := preset("phone")
	require.NoError(t, err)
	require.NoError(t, phone.Validate())
	assert.True(t, phone.IsPrimary())

	watch, err := preset("watch")
	require.NoError(t, err)
	require.NoError(t, watch.Validate())
	assert.Equal(t, config.RoleCompanion, watch.Role)

	assert.Equal(t, phone.SelfAddress, watch.PeerAddress)
	assert.Equal(t, phone.Host, watch.PairedHost)
	assert.Equal(t, watch.Host, phone.PairedHost)
	assert.NotEqual(t, phone.AdminAddress, watch.AdminAddress)

	_, err = preset("tablet")
	assert.Error(t, err)
}
