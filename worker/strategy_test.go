package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportstack/report-manager/pkg/report"
)

func TestStrategyRegistryIsTotal(t *testing.T) {
	registry, err := NewStrategyRegistry(&fakeArchiver{})
	require.NoError(t, err)

	for _, typ := range report.Types() {
		strategy, err := registry.Resolve(typ)
		require.NoError(t, err, "missing strategy for %s", typ)
		assert.NotNil(t, strategy)
	}
}

func TestStrategyRegistryFailsWiringOnMissingMapping(t *testing.T) {
	archiver := &fakeArchiver{}
	incomplete := map[report.Type]Strategy{
		report.TypePerformance:        &archiveStrategy{reportType: report.TypePerformance, archiver: archiver},
		report.TypeBenchmarkSummary:   &archiveStrategy{reportType: report.TypeBenchmarkSummary, archiver: archiver},
		report.TypeDiversificationBar: &archiveStrategy{reportType: report.TypeDiversificationBar, archiver: archiver},
	}

	_, err := newStrategyRegistry(incomplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(report.TypeAssetAllocation))
}

func TestStrategyRegistryRejectsUnknownType(t *testing.T) {
	registry, err := NewStrategyRegistry(&fakeArchiver{})
	require.NoError(t, err)

	_, err = registry.Resolve("MYSTERY")
	assert.Error(t, err)
}

func TestArchiveStrategyBuildsTypedPayload(t *testing.T) {
	var captured []byte
	archiver := &fakeArchiver{fn: func(ctx context.Context, requestID string, payload []byte) (string, error) {
		captured = payload
		return "arch-" + requestID, nil
	}}

	strategy := &archiveStrategy{reportType: report.TypeAssetAllocation, archiver: archiver}
	ref, err := strategy.Generate(context.Background(), GenerationContext{
		RequestID:   "req-7",
		ReportType:  report.TypeAssetAllocation,
		RequestedBy: "analyst",
		Parameters:  `{"portfolioId":"p-9"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "arch-req-7", ref)

	var payload struct {
		ReportType string          `json:"reportType"`
		RequestID  string          `json:"requestId"`
		Parameters json.RawMessage `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, "ASSET_ALLOCATION", payload.ReportType)
	assert.Equal(t, "req-7", payload.RequestID)
	assert.JSONEq(t, `{"portfolioId":"p-9"}`, string(payload.Parameters))
}

func TestArchiveStrategyDefaultsEmptyParameters(t *testing.T) {
	var captured []byte
	archiver := &fakeArchiver{fn: func(ctx context.Context, requestID string, payload []byte) (string, error) {
		captured = payload
		return "arch-1", nil
	}}

	strategy := &archiveStrategy{reportType: report.TypePerformance, archiver: archiver}
	_, err := strategy.Generate(context.Background(), GenerationContext{
		RequestID: "req-8",
	})
	require.NoError(t, err)

	var payload struct {
		Parameters json.RawMessage `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.JSONEq(t, `{}`, string(payload.Parameters))
}
