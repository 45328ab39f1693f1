// Package cli implements foodctl, the operator CLI for a food ledger host.
package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/food-ledger/client"
	"github.com/warp/food-ledger/config"
	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/tracker"
)

// Backend is what the commands need from a ledger host.
type Backend interface {
	ledger.Store
	ledger.RangeReader
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Server     string
	Token      string
	Format     string // "json" | "text"
	Verbose    bool

	cfg  *config.Config
	dial func(server, token string) (Backend, error)
	now  func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for foodctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{dial: dialHTTP, now: time.Now})
}

func dialHTTP(server, token string) (Backend, error) {
	return client.New(server, client.WithToken(token))
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foodctl",
		Short: "foodctl - food shipment ledger client",
		Long: `Query and append to a food shipment ledger host.

Reads are open to everyone. Appending a shipment requires a writer token
accepted by the host (--token or FOODLEDGER_TOKEN).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("server") {
				opts.Server = cfg.Client.Server
			}
			if !cmd.Flags().Changed("token") {
				opts.Token = cfg.Client.Token
			}
			opts.cfg = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "ledger host URL (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "writer token for submit")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(newCountCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) backend(f *OutputFormatter) (Backend, error) {
	f.VerboseLog("ledger host: %s", o.Server)
	b, err := o.dial(o.Server, o.Token)
	if err != nil {
		return nil, f.Fail("cannot use ledger host", err)
	}
	return b, nil
}

// session builds a tracker session whose diagnostics go to the formatter's
// error writer when verbose, and nowhere otherwise.
func (o *RootOptions) session(b Backend, f *OutputFormatter) *tracker.Session {
	logOut := io.Discard
	if o.Verbose {
		logOut = f.errWriter()
	}
	return tracker.NewSession(b,
		tracker.WithLogger(o.cfg.Logger(logOut)),
		tracker.WithClock(o.now))
}
