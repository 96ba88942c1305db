package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr bool
	}{
		{name: "exact", input: "PERFORMANCE", want: TypePerformance},
		{name: "lowercase", input: "benchmark_summary", want: TypeBenchmarkSummary},
		{name: "surrounding whitespace", input: "  ASSET_ALLOCATION ", want: TypeAssetAllocation},
		{name: "unknown", input: "QUARTERLY", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypesCoversEveryParseableValue(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
}

func TestRequestedEventValidate(t *testing.T) {
	valid := RequestedEvent{
		RequestID:   "req-1",
		ReportType:  TypePerformance,
		RequestedBy: "analyst",
		Parameters:  `{"portfolioId":"p-9"}`,
	}
	require.NoError(t, valid.Validate())

	missingID := valid
	missingID.RequestID = "   "
	assert.Error(t, missingID.Validate())

	badType := valid
	badType.ReportType = "MYSTERY"
	assert.Error(t, badType.Validate())
}
