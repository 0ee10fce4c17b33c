package abi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIndicesAreDenseFromZero(t *testing.T) {
	for _, reg := range [][]Entry{RegistryEdge, RegistryLegacy} {
		for i, e := range reg {
			assert.Equal(t, uint16(i), e.Index, "entry %q has index %d, want %d", e.Name, e.Index, i)
		}
	}
}

func TestByNameIsCaseSensitive(t *testing.T) {
	_, ok := ByName(RegistryEdge, "http::request::get_method")
	assert.True(t, ok)
	_, ok = ByName(RegistryEdge, "HTTP::REQUEST::GET_METHOD")
	assert.False(t, ok)
}

func TestEdgeIndexForLegacyMigration(t *testing.T) {
	e, ok := EdgeIndexFor("ratelimit.allow")
	require.True(t, ok)
	assert.Equal(t, "http::rate_limit::allow", e.Name)

	_, ok = EdgeIndexFor("not.a.real.entry")
	assert.False(t, ok)
}

func TestManifestRoundTrips(t *testing.T) {
	raw, err := Manifest()
	require.NoError(t, err)

	var doc manifest
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Edge, len(RegistryEdge))
	assert.Len(t, doc.Legacy, len(RegistryLegacy))
	assert.Equal(t, "http::request::get_method", doc.Edge[0].Name)
}
