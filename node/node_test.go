package node

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/cmd"
	"github.com/railsync/railsync/config"
	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
	"github.com/railsync/railsync/log/logtest"
)

// unreachable refuses connections, so client commands fall back at once.
const unreachable = "http://127.0.0.1:1"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	c := GetCommand()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(io.Discard)
	c.SetIn(strings.NewReader(stdin))
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

func configureWith(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	conf := config.DefaultConfig()
	c := &cobra.Command{Use: "test"}
	path := cmd.AddFlags(c.PersistentFlags(), &conf)
	c.RunE = func(c *cobra.Command, _ []string) error {
		return configure(c, *path, &conf)
	}
	c.SetOut(io.Discard)
	c.SetErr(io.Discard)
	c.SetArgs(args)
	err := c.Execute()
	return conf, err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "railsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigure(t *testing.T) {
	path := writeConfig(t, `
store:
  data-dir: /srv/from-file
  write-attempts: 7
router:
  allowed-origins: "http://file"
reconcile:
  period: 2s
`)

	t.Run("file over defaults", func(t *testing.T) {
		conf, err := configureWith(t, "-c", path)
		require.NoError(t, err)
		require.Equal(t, "/srv/from-file", conf.Store.Dir)
		require.Equal(t, 7, conf.Store.WriteAttempts)
		require.Equal(t, 2*time.Second, conf.Reconcile.Period)
		require.Equal(t, []string{"http://file"}, conf.Router.AllowedOrigins)
		require.Equal(t, config.DefaultConfig().Router.Listen, conf.Router.Listen)
	})
	t.Run("flags over file", func(t *testing.T) {
		conf, err := configureWith(t, "-c", path,
			"--data-dir", "/srv/from-flag",
			"--allowed-origins", "http://a,http://b",
			"--reconcile-period", "250ms",
		)
		require.NoError(t, err)
		require.Equal(t, "/srv/from-flag", conf.Store.Dir)
		require.Equal(t, 7, conf.Store.WriteAttempts)
		require.Equal(t, 250*time.Millisecond, conf.Reconcile.Period)
		require.Equal(t, []string{"http://a", "http://b"}, conf.Router.AllowedOrigins)
	})
	t.Run("preset under file", func(t *testing.T) {
		conf, err := configureWith(t, "-c", path, "--preset", "embedded")
		require.NoError(t, err)
		require.Equal(t, "embedded", conf.Preset)
		require.Equal(t, log.JSONEncoder, conf.LOGGING.Encoder)
		require.Equal(t, "/srv/from-file", conf.Store.Dir)
		require.Equal(t, 2*time.Second, conf.Reconcile.Period)
	})
	t.Run("preset from file", func(t *testing.T) {
		path := writeConfig(t, `
main:
  preset: standalone
`)
		conf, err := configureWith(t, "-c", path)
		require.NoError(t, err)
		require.Equal(t, "standalone", conf.Preset)
		require.Equal(t, 250*time.Millisecond, conf.Reconcile.Period)
	})
	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, `
store:
  data-dri: /srv
`)
		_, err := configureWith(t, "-c", path)
		var fatal *log.FatalError
		require.ErrorAs(t, err, &fatal)
		require.Equal(t, "ERR_MALFORMED_CONFIG", fatal.Code)
	})
	t.Run("invalid value", func(t *testing.T) {
		_, err := configureWith(t, "--write-attempts", "0")
		var fatal *log.FatalError
		require.ErrorAs(t, err, &fatal)
		require.Equal(t, "ERR_MALFORMED_CONFIG", fatal.Code)
	})
}

func clientArgs(dir string, args ...string) []string {
	return append(args,
		"--data-dir", dir,
		"--url", unreachable,
		"--retry-max", "0",
		"--timeout", "1s",
	)
}

func TestClientCommandsFallBackToLocalStore(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "", clientArgs(dir,
		"write", document.Dispatch, `{"train_1": {"inputs": {"destination": "Dormont", "authority": 3}}}`,
		"--role", string(boundary.Dispatch),
	)...)
	require.NoError(t, err)
	require.Contains(t, out, `"destination": "Dormont"`)
	require.FileExists(t, filepath.Join(dir, document.Dispatch+".json"))

	_, err = execute(t, `{"train_2": {"inputs": {"destination": "Glenbury"}}}`, clientArgs(dir,
		"write", document.Dispatch, "-", "--role", string(boundary.Dispatch),
	)...)
	require.NoError(t, err)

	out, err = execute(t, "", clientArgs(dir, "get", document.Dispatch, "--role", string(boundary.Dispatch))...)
	require.NoError(t, err)
	doc, err := document.Decode([]byte(out))
	require.NoError(t, err)
	require.Equal(t, []string{"train_1", "train_2"}, doc.Entities())

	out, err = execute(t, "", clientArgs(dir, "remove", document.Dispatch, "train_1", "--role", string(boundary.Dispatch))...)
	require.NoError(t, err)
	doc, err = document.Decode([]byte(out))
	require.NoError(t, err)
	require.Equal(t, []string{"train_2"}, doc.Entities())
}

func TestClientCommandsEnforceBoundaries(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "", clientArgs(dir,
		"write", document.Dispatch, `{"train_1": {"inputs": {"destination": "Dormont"}}}`,
		"--role", string(boundary.PlantModel),
	)...)
	require.ErrorIs(t, err, boundary.ErrBoundaryViolation)
	require.NoFileExists(t, filepath.Join(dir, document.Dispatch+".json"))

	_, err = execute(t, "", clientArgs(dir, "get", document.Units, "--role", string(boundary.UnitController))...)
	require.ErrorIs(t, err, boundary.ErrInvalidCaller)

	_, err = execute(t, "", clientArgs(dir, "write", document.Dispatch, `[1]`, "--role", string(boundary.Dispatch))...)
	require.ErrorIs(t, err, boundary.ErrInvalidPatch)
}

func TestReconcileOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := docstore.DefaultConfig()
	cfg.Dir = dir
	store, err := docstore.New(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), document.Physical, document.Document{
		"train_1": map[string]any{"outputs": map[string]any{"velocity": json.Number("12")}},
	}))

	out, err := execute(t, "", "reconcile", "--once", "--data-dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "plant-to-units: created=1")

	units, err := store.Read(context.Background(), document.Units)
	require.NoError(t, err)
	entity, ok := units.Entity("train_1")
	require.True(t, ok)
	v, ok := document.Lookup(entity, document.FieldPath{Section: document.InboundSection, Field: "actual_velocity"})
	require.True(t, ok)
	require.True(t, document.Equal(12, v))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Equal(t, cmd.VersionInfo()+"\n", out)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	conf := config.DefaultConfig()
	conf.Store.Dir = t.TempDir()
	conf.Router.Listen = "127.0.0.1:0"
	conf.Reconcile.Period = 10 * time.Millisecond
	return &conf
}

func TestLock(t *testing.T) {
	conf := testConfig(t)
	first := New(WithConfig(conf), WithLog(logtest.New(t)))
	require.NoError(t, first.Lock())
	t.Cleanup(first.Unlock)

	second := New(WithConfig(conf), WithLog(logtest.New(t)))
	err := second.Lock()
	var fatal *log.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, "ERR_INSTANCE_LOCKED", fatal.Code)

	first.Unlock()
	require.NoError(t, second.Lock())
	second.Unlock()
}

func TestAppStartStop(t *testing.T) {
	conf := testConfig(t)
	app := New(WithConfig(conf), WithLog(logtest.New(t)))
	require.NoError(t, app.Lock())
	defer app.Unlock()
	require.NoError(t, app.Initialize())

	require.NoError(t, app.store.Write(context.Background(), document.Physical, document.Document{
		"train_1": map[string]any{"outputs": map[string]any{"velocity": json.Number("3")}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- app.Start(ctx)
	}()
	select {
	case <-app.Started():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "app did not start")
	}

	require.Eventually(t, func() bool {
		units, err := app.store.Read(context.Background(), document.Units)
		if err != nil {
			return false
		}
		_, ok := units.Entity("train_1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "app did not stop")
	}
	app.Cleanup()
}

func TestReadPatch(t *testing.T) {
	patchFile := filepath.Join(t.TempDir(), "patch.json")
	require.NoError(t, os.WriteFile(patchFile, []byte(`{"u": {"outputs": {"kp": 1}}}`), 0o600))

	tcs := []struct {
		desc  string
		stdin string
		args  []string
		err   error
	}{
		{desc: "inline", args: []string{`{"u": {}}`}},
		{desc: "stdin", stdin: `{"u": {}}`, args: []string{"-"}},
		{desc: "stdin implicit", stdin: `{"u": {}}`},
		{desc: "file", args: []string{"@" + patchFile}},
		{desc: "not an object", args: []string{`"u"`}, err: boundary.ErrInvalidPatch},
		{desc: "empty stdin", err: boundary.ErrInvalidPatch},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			patch, err := readPatch(strings.NewReader(tc.stdin), tc.args)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Contains(t, patch, "u")
		})
	}
}
