package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    Origin
		wantErr bool
	}{
		{"FORA", OriginExcluded, false},
		{" neutra ", OriginAmbiguous, false},
		{"entra", OriginIncluded, false},
		{"excluded", OriginExcluded, false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrigin(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}
}

func TestParseSegment(t *testing.T) {
	assert.Equal(t, SegmentActive, ParseSegment("Ativos"))
	assert.Equal(t, SegmentTerminated, ParseSegment("desligados"))
	assert.Equal(t, SegmentGlobal, ParseSegment("total"))
	assert.Equal(t, SegmentGlobal, ParseSegment(""))
	assert.Equal(t, Segment("AUTONOMOS"), ParseSegment("autonomos"))
}

func TestCandidateUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"number", `{"label":"Horas extras","value":1234.56,"origin_tag":"FORA"}`, "1234.56"},
		{"decimal string", `{"label":"Horas extras","value":"1234.56"}`, "1234.56"},
		{"brazilian string", `{"label":"Horas extras","value":"1.234,56"}`, "1234.56"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Candidate
			require.NoError(t, json.Unmarshal([]byte(tt.body), &c))
			assert.Equal(t, "Horas extras", c.Label)
			assert.True(t, c.Value.Equal(decimal.RequireFromString(tt.want)), "got %s", c.Value)
		})
	}
}

func TestCandidateUnmarshalJSONErrors(t *testing.T) {
	var c Candidate
	assert.Error(t, json.Unmarshal([]byte(`{"label":"x"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"label":"x","value":"abc"}`), &c))

	err := json.Unmarshal([]byte(`{"label":"x","value":1,"origin_tag":"FROA"}`), &c)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidData))
}

func TestCandidateUnmarshalJSONOrigin(t *testing.T) {
	tests := []struct {
		tag  string
		want Origin
	}{
		{`"FORA"`, OriginExcluded},
		{`"fora"`, OriginExcluded},
		{`"OUT"`, OriginExcluded},
		{`" neutra "`, OriginAmbiguous},
		{`"included"`, OriginIncluded},
		{`""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			var c Candidate
			body := `{"label":"Bônus","value":60,"origin_tag":` + tt.tag + `}`
			require.NoError(t, json.Unmarshal([]byte(body), &c))
			assert.Equal(t, tt.want, c.Origin)
		})
	}
}

func TestCandidateValidate(t *testing.T) {
	assert.NoError(t, NewCandidate("a", decimal.Zero, OriginExcluded).Validate())
	assert.Error(t, NewCandidate("a", decimal.NewFromInt(-1), OriginExcluded).Validate())
	assert.Equal(t, "Diárias=1.500,00 (FORA)", NewCandidate("Diárias", decimal.NewFromInt(1500), OriginExcluded).String())
}

func TestParseAmountJSON(t *testing.T) {
	v, err := ParseAmountJSON(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseAmountJSON(json.RawMessage(`""`))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseAmountJSON(json.RawMessage(`98834.04`))
	require.NoError(t, err)
	assert.Equal(t, "98834.04", v.String())

	// text uses the Brazilian notation, numbers do not
	v, err = ParseAmountJSON(json.RawMessage(`"1.500"`))
	require.NoError(t, err)
	assert.Equal(t, "1500", v.String())

	v, err = ParseAmountJSON(json.RawMessage(`1.500`))
	require.NoError(t, err)
	assert.Equal(t, "1.5", v.String())
}

func TestGroupKeyAndEarnings(t *testing.T) {
	key := GroupKey{Source: "folha.xlsx", Period: "jan/21", Segment: SegmentActive}
	assert.Equal(t, "folha.xlsx|jan/21|ATIVOS", key.String())
	assert.Equal(t, "jan/21|GLOBAL", GroupKey{Period: "jan/21", Segment: SegmentGlobal}.String())

	g := Group{Items: []LineItem{
		{Label: "Salário", Kind: KindEarning, Value: decimal.NewFromInt(1000)},
		{Label: "INSS", Kind: KindDeduction, Value: decimal.NewFromInt(110)},
		{Label: "Horas extras", Kind: KindEarning, Value: decimal.RequireFromString("250.50")},
	}}
	assert.Equal(t, "1250.5", g.EarningsSum().String())
}

func TestStatusSignal(t *testing.T) {
	tests := []struct {
		status QualityStatus
		want   Signal
	}{
		{StatusOK, SignalGreen},
		{StatusAcceptable, SignalYellow},
		{StatusNoTarget, SignalYellow},
		{StatusNoResidual, SignalYellow},
		{StatusPoor, SignalRed},
		{StatusExtractionMismatch, SignalRed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Signal())
		})
	}
	assert.Equal(t, "🟢", SignalGreen.Emoji())
}

func TestResultJSONShape(t *testing.T) {
	r := &ReconciliationResult{
		Group:            GroupKey{Period: "jan/21", Segment: SegmentActive},
		State:            StateNoTarget,
		CurrentBase:      decimal.RequireFromString("80000.00"),
		ApproximatedBase: decimal.RequireFromString("80000.00"),
		ChosenCandidates: []Candidate{},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "NO_TARGET", m["state"])
	assert.Nil(t, m["gap"])
	assert.Nil(t, m["residual_error"])
	assert.Equal(t, "80000", m["approximated_base"])
	assert.Contains(t, r.String(), "NO_TARGET")
}
