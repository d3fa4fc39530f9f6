package document_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/railsync/railsync/document"
)

func unitsKind(t *testing.T) document.Kind {
	t.Helper()
	k, ok := document.DefaultCatalog().Kind(document.Units)
	require.True(t, ok)
	return k
}

func TestClassify(t *testing.T) {
	tcs := []struct {
		desc   string
		entity string
		shape  document.Shape
	}{
		{desc: "null", entity: `null`, shape: document.Bare},
		{desc: "empty", entity: `{}`, shape: document.Bare},
		{desc: "null sections", entity: `{"inputs": null, "outputs": null}`, shape: document.Bare},
		{desc: "sectioned", entity: `{"inputs": {}, "outputs": {}}`, shape: document.Sectioned},
		{desc: "sectioned with extras", entity: `{"inputs": {}, "outputs": {}, "note": "x"}`, shape: document.Sectioned},
		{desc: "only outputs", entity: `{"outputs": {"kp": 1}}`, shape: document.MissingInbound},
		{desc: "only inputs", entity: `{"inputs": {"beacon": ""}}`, shape: document.MissingOutbound},
		{desc: "null outputs", entity: `{"inputs": {}, "outputs": null}`, shape: document.MissingOutbound},
		{desc: "flat", entity: `{"kp": 50, "actual_velocity": 3}`, shape: document.LegacyFlat},
		{desc: "scalar", entity: `5`, shape: document.Malformed},
		{desc: "array", entity: `[]`, shape: document.Malformed},
		{desc: "scalar section", entity: `{"inputs": {}, "outputs": 3}`, shape: document.Malformed},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			var v any
			require.NoError(t, json.Unmarshal([]byte(tc.entity), &v))
			require.Equal(t, tc.shape, document.Classify(v), "got %s", document.Classify(v))
		})
	}
}

func TestRepairAddsMissingSectionOnly(t *testing.T) {
	k := unitsKind(t)
	entity := map[string]any{
		"outputs": map[string]any{"kp": json.Number("50"), "ki": json.Number("2")},
	}
	repaired, res := k.Repair(entity)
	require.Equal(t, document.MissingInbound, res.Shape)
	require.True(t, res.Changed)
	require.Empty(t, res.Preserved)

	out := repaired[document.OutboundSection].(map[string]any)
	require.Equal(t, json.Number("50"), out["kp"])
	require.Equal(t, json.Number("2"), out["ki"])
	require.Equal(t, false, out["service_brake"])

	in := repaired[document.InboundSection].(map[string]any)
	require.Equal(t, k.Defaults(document.InboundSection), in)
}

func TestRepairSectionedIsStable(t *testing.T) {
	k := unitsKind(t)
	entity := map[string]any{
		document.InboundSection:  k.Defaults(document.InboundSection),
		document.OutboundSection: k.Defaults(document.OutboundSection),
	}
	entity[document.OutboundSection].(map[string]any)["kp"] = json.Number("7")

	_, res := k.Repair(entity)
	require.Equal(t, document.Sectioned, res.Shape)
	require.False(t, res.Changed)

	_, res = k.Repair(entity)
	require.False(t, res.Changed)
}

func TestRepairLegacyFlatPreservesValues(t *testing.T) {
	k := unitsKind(t)
	entity := map[string]any{
		"kp":              json.Number("50"),
		"ki":              json.Number("0"),
		"actual_velocity": json.Number("12"),
		"driver":          "legacy-note",
	}
	repaired, res := k.Repair(entity)
	require.Equal(t, document.LegacyFlat, res.Shape)
	require.True(t, res.Changed)

	out := repaired[document.OutboundSection].(map[string]any)
	in := repaired[document.InboundSection].(map[string]any)
	require.Equal(t, json.Number("50"), out["kp"])
	require.Equal(t, json.Number("0"), out["ki"])
	require.Equal(t, json.Number("12"), in["actual_velocity"])

	require.NotContains(t, repaired, "kp")
	require.NotContains(t, repaired, "actual_velocity")
	require.Equal(t, "legacy-note", repaired["driver"])

	require.ElementsMatch(t, []document.Preserved{
		{Section: document.InboundSection, Field: "actual_velocity", Kept: json.Number("12"), Default: 0},
		{Section: document.OutboundSection, Field: "kp", Kept: json.Number("50"), Default: 0},
	}, res.Preserved)
}

func TestRepairBare(t *testing.T) {
	k := unitsKind(t)
	repaired, res := k.Repair(nil)
	require.Equal(t, document.Bare, res.Shape)
	require.True(t, res.Changed)
	require.Equal(t, map[string]any{
		document.InboundSection:  k.Defaults(document.InboundSection),
		document.OutboundSection: k.Defaults(document.OutboundSection),
	}, repaired)
}

func TestRepairLeavesMalformed(t *testing.T) {
	k := unitsKind(t)
	entity := map[string]any{"inputs": map[string]any{}, "outputs": "broken"}
	repaired, res := k.Repair(entity)
	require.Equal(t, document.Malformed, res.Shape)
	require.False(t, res.Changed)
	require.Equal(t, "broken", repaired["outputs"])

	repaired, res = k.Repair(json.Number("5"))
	require.Equal(t, document.Malformed, res.Shape)
	require.Nil(t, repaired)
}

func TestRepairFillsMissingFields(t *testing.T) {
	k := unitsKind(t)
	entity := map[string]any{
		"inputs":  map[string]any{"beacon": "B12"},
		"outputs": map[string]any{"kp": json.Number("50")},
	}
	repaired, res := k.Repair(entity)
	require.Equal(t, document.Sectioned, res.Shape)
	require.True(t, res.Changed)
	require.Equal(t, "B12", repaired["inputs"].(map[string]any)["beacon"])
	require.Equal(t, json.Number("50"), repaired["outputs"].(map[string]any)["kp"])
	require.Len(t, repaired["outputs"].(map[string]any), len(k.Outbound))
}
