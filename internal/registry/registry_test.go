package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/models"
)

func sampleEndpoint(id string, reqType models.RequestType, quality float64) models.ModelEndpoint {
	return models.ModelEndpoint{
		ID:       id,
		Name:     "test-model-" + id,
		Provider: "test-provider",
		Endpoint: models.NetworkTarget{URL: "https://example.test/" + id},
		Capabilities: []models.Capability{
			{RequestType: reqType, Quality: quality},
		},
		Active:   true,
		Priority: 50,
		Performance: models.Performance{
			AvgLatencyMs: 500,
			Accuracy:     0.9,
			Availability: 0.99,
			ErrorRate:    0.01,
		},
	}
}

func TestRegisterRejectsInvalidEndpoint(t *testing.T) {
	r := New(nil)
	err := r.Register(models.ModelEndpoint{})
	require.Error(t, err)
	assert.True(t, aimwerr.Is(err, aimwerr.Validation))
}

func TestRegisterAndGet(t *testing.T) {
	r := New(nil)
	e := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	require.NoError(t, r.Register(e))

	got, ok := r.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "test-model-m1", got.Name)
}

func TestListForRequestTypeOnlyReturnsActive(t *testing.T) {
	r := New(nil)
	active := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	inactive := sampleEndpoint("m2", models.RequestTextGeneration, 0.9)
	inactive.Active = false

	require.NoError(t, r.Register(active))
	require.NoError(t, r.Register(inactive))

	list := r.ListForRequestType(models.RequestTextGeneration)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)
}

func TestFindBestSortsByCompositeScore(t *testing.T) {
	r := New(nil)
	good := sampleEndpoint("good", models.RequestTextGeneration, 0.95)
	good.Performance.ErrorRate = 0.0
	good.Performance.Availability = 1.0
	good.Performance.Accuracy = 0.99

	bad := sampleEndpoint("bad", models.RequestTextGeneration, 0.3)
	bad.Performance.ErrorRate = 0.5
	bad.Performance.Availability = 0.5
	bad.Performance.AvgLatencyMs = 5000

	require.NoError(t, r.Register(good))
	require.NoError(t, r.Register(bad))

	candidates := r.FindBest(models.RequestTextGeneration, Requirements{})
	require.Len(t, candidates, 2)
	assert.Equal(t, "good", candidates[0].Endpoint.ID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestFindBestFiltersByConstraints(t *testing.T) {
	r := New(nil)
	slow := sampleEndpoint("slow", models.RequestTextGeneration, 0.8)
	slow.Performance.AvgLatencyMs = 9000
	require.NoError(t, r.Register(slow))

	candidates := r.FindBest(models.RequestTextGeneration, Requirements{MaxLatencyMs: 1000})
	assert.Empty(t, candidates)
}

func TestFindBestExcludesProvider(t *testing.T) {
	r := New(nil)
	e := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	require.NoError(t, r.Register(e))

	candidates := r.FindBest(models.RequestTextGeneration, Requirements{ExcludedProviders: []string{"test-provider"}})
	assert.Empty(t, candidates)
}

func TestUnregisterRemovesFromAllIndices(t *testing.T) {
	r := New(nil)
	e := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	require.NoError(t, r.Register(e))
	require.NoError(t, r.Unregister("m1"))

	_, ok := r.Get("m1")
	assert.False(t, ok)
	assert.Empty(t, r.ListForRequestType(models.RequestTextGeneration))
}

func TestSetActiveTogglesAvailability(t *testing.T) {
	r := New(nil)
	e := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	require.NoError(t, r.Register(e))

	require.NoError(t, r.SetActive("m1", false))
	assert.Empty(t, r.ListForRequestType(models.RequestTextGeneration))

	require.NoError(t, r.SetActive("m1", true))
	assert.Len(t, r.ListForRequestType(models.RequestTextGeneration), 1)
}

func TestUpdatePerformanceReplacesSummary(t *testing.T) {
	r := New(nil)
	e := sampleEndpoint("m1", models.RequestTextGeneration, 0.8)
	require.NoError(t, r.Register(e))

	require.NoError(t, r.UpdatePerformance("m1", models.Performance{AvgLatencyMs: 42}))
	got, _ := r.Get("m1")
	assert.Equal(t, 42.0, got.Performance.AvgLatencyMs)
}
