package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log/logtest"
)

func newTestStore(tb testing.TB, fs afero.Fs) *docstore.Store {
	tb.Helper()
	cfg := docstore.DefaultConfig()
	cfg.Dir = "/data"
	cfg.BaseDelay = time.Millisecond
	store, err := docstore.New(cfg, docstore.WithFilesystem(fs), docstore.WithLogger(logtest.New(tb)))
	require.NoError(tb, err)
	return store
}

func newTestService(tb testing.TB, fs afero.Fs) (*Service, *docstore.Store) {
	tb.Helper()
	store := newTestStore(tb, fs)
	svc, err := NewService(store, WithLogger(logtest.New(tb)))
	require.NoError(tb, err)
	return svc, store
}

// seed writes two sectioned entities with default values to every document.
func seed(tb testing.TB, store *docstore.Store) {
	tb.Helper()
	catalog := document.DefaultCatalog()
	for _, name := range catalog.Names() {
		kind, _ := catalog.Kind(name)
		doc := document.Document{}
		for _, id := range []string{"unit_1", "unit_2"} {
			entity, _ := kind.Repair(nil)
			doc[id] = entity
		}
		require.NoError(tb, store.Write(context.Background(), name, doc))
	}
}

func snapshot(tb testing.TB, fs afero.Fs, store *docstore.Store) map[string]string {
	tb.Helper()
	out := map[string]string{}
	for _, name := range document.DefaultCatalog().Names() {
		data, err := afero.ReadFile(fs, store.Path(name))
		require.NoError(tb, err)
		out[name] = string(data)
	}
	return out
}

func TestEnforcementForEveryTriple(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, store := newTestService(t, fs)
	seed(t, store)
	before := snapshot(t, fs, store)
	ctx := context.Background()
	catalog := document.DefaultCatalog()
	policy := DefaultPolicy()

	denied := 0
	for _, role := range Roles() {
		caller := Caller{Role: role, Unit: "unit_1"}
		for _, name := range catalog.Names() {
			kind, _ := catalog.Kind(name)
			g, granted := policy.grant(role, name)

			if !granted || g.Read == nil {
				_, err := svc.Read(ctx, caller, name)
				require.ErrorIs(t, err, ErrBoundaryViolation, "%s read %s", role, name)
				denied++
			}
			if !granted || !g.Remove {
				_, err := svc.Remove(ctx, caller, name, "unit_1")
				require.ErrorIs(t, err, ErrBoundaryViolation, "%s remove %s", role, name)
				denied++
			}
			for _, section := range kind.Sections() {
				fields := append(sortedKeys(kind.Defaults(section)), "not_a_field")
				for _, field := range fields {
					if granted && g.Write != nil && g.Write.allows(section, field) {
						continue
					}
					patch := document.Document{"unit_1": map[string]any{section: map[string]any{field: 1}}}
					_, err := svc.Write(ctx, caller, name, patch)
					require.ErrorIs(t, err, ErrBoundaryViolation, "%s write %s.%s of %s", role, section, field, name)
					denied++
				}
			}
			if granted && g.OwnEntity {
				patch := document.Document{"unit_2": map[string]any{document.OutboundSection: map[string]any{}}}
				_, err := svc.Write(ctx, caller, name, patch)
				require.ErrorIs(t, err, ErrBoundaryViolation)
				_, err = svc.Read(ctx, caller, name)
				require.NoError(t, err)
				denied++
			}
		}
	}
	require.Greater(t, denied, 50)
	require.Empty(t, cmp.Diff(before, snapshot(t, fs, store)))
}

func TestExpectedGrants(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, store := newTestService(t, fs)
	seed(t, store)
	ctx := context.Background()

	tcs := []struct {
		desc   string
		caller Caller
		doc    string
		patch  string
		err    error
	}{
		{
			desc:   "dispatch writes dispatch record",
			caller: Caller{Role: Dispatch},
			doc:    document.Dispatch,
			patch:  `{"train_9": {"inputs": {"destination": "Glenbury"}, "outputs": {"status": "active"}}}`,
		},
		{
			desc:   "dispatch writes wayside inputs",
			caller: Caller{Role: Dispatch},
			doc:    document.WaysideCommands,
			patch:  `{"unit_1": {"inputs": {"authority": 4}}}`,
		},
		{
			desc:   "dispatch cannot write wayside outputs",
			caller: Caller{Role: Dispatch},
			doc:    document.WaysideCommands,
			patch:  `{"unit_1": {"outputs": {"status": "x"}}}`,
			err:    ErrBoundaryViolation,
		},
		{
			desc:   "wayside cannot write physical",
			caller: Caller{Role: Wayside},
			doc:    document.Physical,
			patch:  `{"unit_1": {"outputs": {"velocity": 3}}}`,
			err:    ErrBoundaryViolation,
		},
		{
			desc:   "plant model writes kinematics",
			caller: Caller{Role: PlantModel},
			doc:    document.Physical,
			patch:  `{"unit_1": {"outputs": {"velocity": 3, "position": 120}}}`,
		},
		{
			desc:   "unit controller sets gain",
			caller: Caller{Role: UnitController, Unit: "unit_2"},
			doc:    document.Units,
			patch:  `{"unit_2": {"outputs": {"kp": 50}}}`,
		},
		{
			desc:   "unit controller sets failure",
			caller: Caller{Role: UnitController, Unit: "unit_2"},
			doc:    document.Units,
			patch:  `{"unit_2": {"inputs": {"brake_failure": true}}}`,
		},
		{
			desc:   "unit controller cannot set velocity",
			caller: Caller{Role: UnitController, Unit: "unit_2"},
			doc:    document.Units,
			patch:  `{"unit_2": {"inputs": {"actual_velocity": 80}}}`,
			err:    ErrBoundaryViolation,
		},
		{
			desc:   "unit controller cannot touch another unit",
			caller: Caller{Role: UnitController, Unit: "unit_2"},
			doc:    document.Units,
			patch:  `{"unit_1": {"outputs": {"kp": 50}}}`,
			err:    ErrBoundaryViolation,
		},
		{
			desc:   "unit controller without unit",
			caller: Caller{Role: UnitController},
			doc:    document.Units,
			patch:  `{"unit_1": {"outputs": {"kp": 50}}}`,
			err:    ErrInvalidCaller,
		},
		{
			desc:   "scalar entity",
			caller: Caller{Role: Dispatch},
			doc:    document.Dispatch,
			patch:  `{"train_1": 5}`,
			err:    ErrInvalidPatch,
		},
		{
			desc:   "unknown section",
			caller: Caller{Role: Dispatch},
			doc:    document.Dispatch,
			patch:  `{"train_1": {"destination": "Dormont"}}`,
			err:    ErrInvalidPatch,
		},
		{
			desc:   "null section",
			caller: Caller{Role: Dispatch},
			doc:    document.Dispatch,
			patch:  `{"train_1": {"inputs": null}}`,
			err:    ErrInvalidPatch,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			patch, err := document.Decode([]byte(tc.patch))
			require.NoError(t, err)
			before, err := store.Read(ctx, tc.doc)
			require.NoError(t, err)

			_, err = svc.Write(ctx, tc.caller, tc.doc, patch)
			after, rerr := store.Read(ctx, tc.doc)
			require.NoError(t, rerr)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Empty(t, cmp.Diff(before, after))
				return
			}
			require.NoError(t, err)
			require.Empty(t, cmp.Diff(document.Merge(before, patch), after))
		})
	}
}

func TestReadProjection(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, store := newTestService(t, fs)
	seed(t, store)
	ctx := context.Background()

	_, err := svc.Write(ctx, Caller{Role: PlantModel}, document.Physical,
		document.Document{"unit_1": map[string]any{"outputs": map[string]any{"velocity": json.Number("12.5")}}})
	require.NoError(t, err)

	doc, err := svc.Read(ctx, Caller{Role: Wayside}, document.Physical)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(document.Document{
		"unit_1": map[string]any{"outputs": map[string]any{"velocity": json.Number("12.5")}},
		"unit_2": map[string]any{"outputs": map[string]any{"velocity": json.Number("0")}},
	}, doc))

	doc, err = svc.Read(ctx, Caller{Role: UnitController, Unit: "unit_2"}, document.Units)
	require.NoError(t, err)
	require.Equal(t, []string{"unit_2"}, doc.Entities())
}

func TestSecondDispatchKeepsFirst(t *testing.T) {
	svc, _ := newTestService(t, afero.NewMemMapFs())
	ctx := context.Background()
	dispatch := Caller{Role: Dispatch}

	first := document.Document{"train_1": map[string]any{
		"inputs": map[string]any{"destination": "Dormont", "authority": json.Number("4")},
	}}
	second := document.Document{"train_2": map[string]any{
		"inputs": map[string]any{"destination": "Glenbury", "authority": json.Number("2")},
	}}
	_, err := svc.Write(ctx, dispatch, document.Dispatch, first)
	require.NoError(t, err)
	doc, err := svc.Write(ctx, dispatch, document.Dispatch, second)
	require.NoError(t, err)

	require.Equal(t, []string{"train_1", "train_2"}, doc.Entities())
	require.Empty(t, cmp.Diff(document.Merge(first, second), doc))
}

func TestWriteKeepsLargeIntegersExact(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, store := newTestService(t, fs)
	ctx := context.Background()
	plant := Caller{Role: PlantModel}
	patch := func(passengers string) document.Document {
		return document.Document{"unit_1": map[string]any{
			"outputs": map[string]any{"passengers": json.Number(passengers)},
		}}
	}

	_, err := svc.Write(ctx, plant, document.Physical, patch("9007199254740993"))
	require.NoError(t, err)
	doc, err := svc.Write(ctx, plant, document.Physical, patch("9007199254740992"))
	require.NoError(t, err)
	entity, _ := doc.Entity("unit_1")
	require.Equal(t, json.Number("9007199254740992"), entity["outputs"].(map[string]any)["passengers"])

	data, err := afero.ReadFile(fs, store.Path(document.Physical))
	require.NoError(t, err)
	require.Contains(t, string(data), `"passengers": 9007199254740992`)
	require.NotContains(t, string(data), "9007199254740993")
}

func TestWritesContinueAfterSchemaInvalidPrimary(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, store := newTestService(t, fs)
	seed(t, store)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, store.Path(document.Units),
		[]byte(`{"unit_1": 5, "unit_2": {"inputs": {}, "outputs": {}}}`), 0o600))

	unit2 := Caller{Role: UnitController, Unit: "unit_2"}
	_, err := svc.Read(ctx, unit2, document.Units)
	require.NoError(t, err)
	doc, err := svc.Write(ctx, unit2, document.Units, document.Document{
		"unit_2": map[string]any{"outputs": map[string]any{"kp": json.Number("50")}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"unit_2"}, doc.Entities())

	stored, err := store.Read(ctx, document.Units)
	require.NoError(t, err)
	require.Equal(t, []string{"unit_1", "unit_2"}, stored.Entities())
	require.Equal(t, json.Number("50"), stored["unit_2"].(map[string]any)["outputs"].(map[string]any)["kp"])
	entity, ok := stored.Entity("unit_1")
	require.True(t, ok)
	require.Contains(t, entity, "outputs")
}

func TestRemoveEntity(t *testing.T) {
	svc, store := newTestService(t, afero.NewMemMapFs())
	seed(t, store)
	ctx := context.Background()

	doc, err := svc.Remove(ctx, Caller{Role: Dispatch}, document.Dispatch, "unit_1")
	require.NoError(t, err)
	require.Equal(t, []string{"unit_2"}, doc.Entities())

	_, err = svc.Remove(ctx, Caller{Role: Dispatch}, document.Dispatch, "")
	require.ErrorIs(t, err, ErrInvalidPatch)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate(document.DefaultCatalog()))

	p := Policy{Dispatch: {"timetable": {Read: All}}}
	_, err := NewService(newTestStore(t, afero.NewMemMapFs()), WithPolicy(p))
	require.ErrorIs(t, err, ErrUnknownDocument)
}

func TestAccessAnd(t *testing.T) {
	a := Sections("outputs").And(Fields("inputs", "engine_failure"))
	require.True(t, a.allows("outputs", "anything"))
	require.True(t, a.allows("inputs", "engine_failure"))
	require.False(t, a.allows("inputs", "beacon"))

	require.True(t, Fields("inputs", "a").And(All).allows("outputs", "x"))

	b := Fields("inputs", "a").And(Fields("inputs", "b"))
	require.True(t, b.allows("inputs", "a"))
	require.True(t, b.allows("inputs", "b"))
	require.False(t, b.allows("outputs", "a"))
}

func TestReadable(t *testing.T) {
	require.Equal(t,
		[]string{document.Physical, document.TrainCommands, document.WaysideCommands},
		DefaultPolicy().Readable(Wayside),
	)
	require.Equal(t, []string{document.Units}, DefaultPolicy().Readable(UnitController))
	require.Empty(t, Policy{}.Readable(Dispatch), fmt.Sprint(Dispatch))
}
