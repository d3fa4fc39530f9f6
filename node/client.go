package node

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/client"
	"github.com/railsync/railsync/config"
	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
)

// clientCommands returns the operator commands that go through the client
// library, falling back to the local data directory when the service is
// unreachable.
func clientCommands(conf *config.Config, configPath **string) []*cobra.Command {
	run := func(fn func(c *cobra.Command, cl *client.Client, args []string) (document.Document, error)) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			if err := configure(c, **configPath, conf); err != nil {
				return err
			}
			logger, err := newLogger(&conf.LOGGING, c.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()
			c.SilenceUsage = true

			cl, err := newClient(conf, logger)
			if err != nil {
				return err
			}
			doc, err := fn(c, cl, args)
			if err != nil {
				return err
			}
			data, err := document.Encode(doc)
			if err != nil {
				return err
			}
			_, err = c.OutOrStdout().Write(data)
			return err
		}
	}

	getCmd := &cobra.Command{
		Use:   "get <document>",
		Short: "Print the part of a document the caller may read",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *cobra.Command, cl *client.Client, args []string) (document.Document, error) {
			return cl.Get(c.Context(), args[0])
		}),
	}
	writeCmd := &cobra.Command{
		Use:   "write <document> [patch|-]",
		Short: "Merge a JSON patch into a document",
		Long:  "Merge a JSON patch into a document. The patch is read from stdin when it is - or omitted and from a file when it starts with @.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: run(func(c *cobra.Command, cl *client.Client, args []string) (document.Document, error) {
			patch, err := readPatch(c.InOrStdin(), args[1:])
			if err != nil {
				return nil, err
			}
			return cl.Write(c.Context(), args[0], patch)
		}),
	}
	removeCmd := &cobra.Command{
		Use:   "remove <document> <entity>",
		Short: "Remove an entity from a document",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(c *cobra.Command, cl *client.Client, args []string) (document.Document, error) {
			return cl.Remove(c.Context(), args[0], args[1])
		}),
	}
	return []*cobra.Command{getCmd, writeCmd, removeCmd}
}

func newClient(conf *config.Config, logger *zap.Logger) (*client.Client, error) {
	caller, err := conf.Caller()
	if err != nil {
		return nil, err
	}
	app := New(WithConfig(conf), WithLog(logger))
	store, err := docstore.New(conf.Store, docstore.WithLogger(app.addLogger(StoreLogger)))
	if err != nil {
		return nil, err
	}
	return client.New(conf.Client, caller, store,
		client.WithLogger(app.addLogger(ClientLogger)),
		client.WithServiceOpts(
			boundary.WithLogger(app.addLogger(ClientLogger)),
			boundary.WithCatalog(app.catalog),
		),
	)
}

func readPatch(stdin io.Reader, args []string) (document.Document, error) {
	var data []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else if strings.HasPrefix(args[0], "@") {
		data, err = os.ReadFile(strings.TrimPrefix(args[0], "@"))
	} else {
		data = []byte(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	patch, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", boundary.ErrInvalidPatch, err)
	}
	return patch, nil
}
