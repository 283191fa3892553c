// Package commands implements the treewagon command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Treewagon/internal/config"
	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/metrics"
	"github.com/Ning0612/Treewagon/internal/progress"
	"github.com/Ning0612/Treewagon/internal/state"
	"github.com/Ning0612/Treewagon/internal/wagon"
)

// Version information injected at build time.
var Version = "dev"

// rootOptions are shared by every command
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

// Execute runs the command line. SIGINT and SIGTERM cancel the running
// command; a pending upload is then aborted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "treewagon",
		Short: "Transfer files to and from versioned tree repositories",
		Long: `treewagon uploads and downloads files and directory trees to a versioned
tree repository. Every upload of one invocation becomes a single atomic commit.

Repositories are addressed with "tree:" URLs (tree:file:///srv/repo/releases,
tree:https://host/repo/releases) or by the name of a configured repository.

Use "treewagon [command] --help" for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml or ~/.config/treewagon/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text, json")

	cmd.AddCommand(
		newInitCmd(opts),
		newExistsCmd(opts),
		newGetCmd(opts),
		newPutCmd(opts),
		newLsCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
		newHashPasswordCmd(opts),
	)
	return cmd
}

// load reads the configuration and initializes the logger
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// A previous command in this process may have left it initialized
	_ = logger.Shutdown()
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.cfg = cfg
	return nil
}

// credentialFlags override the credentials of a configured repository
type credentialFlags struct {
	username string
	password string
	token    string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.username, "username", "", "user name for basic authentication")
	cmd.Flags().StringVar(&f.password, "password", "", "password for basic authentication")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token")
}

// resolve turns a repository name or a literal tree: address into a
// repository definition
func (o *rootOptions) resolve(arg string, flags credentialFlags) (domain.Repository, error) {
	var repo domain.Repository
	if strings.HasPrefix(arg, domain.AddressPrefix) {
		repo = domain.Repository{Name: arg, URL: arg}
	} else {
		configured, err := o.cfg.GetRepository(arg)
		if err != nil {
			return repo, err
		}
		repo = *configured
	}

	if flags.username != "" {
		repo.Username = flags.username
	}
	if flags.password != "" {
		repo.Password = flags.password
	}
	if flags.token != "" {
		repo.Token = flags.token
	}
	return repo, nil
}

// session is one connected wagon plus the journal it records into
type session struct {
	wagon   *wagon.Wagon
	journal *state.Manager
	repo    domain.Repository
}

// connect opens a journaled wagon connection to repo
func (o *rootOptions) connect(ctx context.Context, repo domain.Repository, listener progress.Listener) (*session, error) {
	journal, err := state.NewManager(o.cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}

	wopts := o.cfg.WagonOptions()
	wopts.Listener = listener
	wopts.Journal = journal
	wopts.Metrics = metrics.NewTransferMetrics()
	wopts.Logger = logger.With("repository", repo.Name)

	w := wagon.New(wopts)
	if err := w.Connect(ctx, repo.URL, repo.Credentials); err != nil {
		journal.Close()
		return nil, err
	}
	return &session{wagon: w, journal: journal, repo: repo}, nil
}

// close commits the pending uploads and releases the connection
func (s *session) close(ctx context.Context) error {
	err := s.wagon.Disconnect(ctx)
	if cerr := s.journal.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// transferPrinter reports completed transfers on w
func transferPrinter(w io.Writer) progress.Listener {
	return progress.NewCallbackListener(func(ev progress.Event) {
		switch ev.Type {
		case progress.EventCompleted:
			fmt.Fprintf(w, "%s %s (%s)\n", ev.Request, ev.Resource.Name, progress.FormatBytes(ev.Bytes))
		case progress.EventError:
			fmt.Fprintf(w, "%s %s failed: %v\n", ev.Request, ev.Resource.Name, ev.Error)
		}
	})
}

// printTable writes rows as a borderless table
func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(rows)
	table.Render()
}
