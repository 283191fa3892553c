package commands

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Treewagon/internal/config"
	"github.com/Ning0612/Treewagon/internal/daemon"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/server"
	"github.com/Ning0612/Treewagon/internal/store"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen     string
		repository string
		mount      string
		pidFile    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a local repository over HTTP",
		Long: `Serve a local repository over HTTP so that remote treewagon clients can
address it as tree:http://<listen><mount>/<path>.

The server runs in the foreground until interrupted. Settings come from the
"server" section of the configuration; flags override them.`,
		Example: `  treewagon serve --repository /srv/repo --listen 0.0.0.0:8642
  TREEWAGON_SERVER_JWT_SECRET=... treewagon serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := opts.cfg.Server
			if listen != "" {
				sc.Listen = listen
			}
			if repository != "" {
				sc.Repository = config.ExpandPath(repository)
			}
			if mount != "" {
				sc.Mount = mount
			}
			if pidFile != "" {
				sc.PIDFile = config.ExpandPath(pidFile)
			}
			if sc.Listen == "" {
				sc.Listen = server.DefaultListen
			}
			if sc.Repository == "" {
				return fmt.Errorf("no repository to serve: set server.repository or --repository")
			}

			dir, err := filepath.Abs(sc.Repository)
			if err != nil {
				return err
			}

			log := logger.With("component", "serve")
			ctx := cmd.Context()
			root := &url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}
			badgerstore.Setup()
			repo, err := badgerstore.Open(ctx, root.String(), store.Options{})
			if err != nil {
				return fmt.Errorf("failed to open repository %s: %w", dir, err)
			}
			defer repo.Close()

			srv, err := server.New(server.Config{
				Listen:         sc.Listen,
				Mount:          sc.Mount,
				Users:          sc.UserHashes(),
				JWTSecret:      sc.JWTSecret,
				JWTIssuer:      sc.JWTIssuer,
				AnonymousRead:  sc.AnonymousRead,
				Metrics:        sc.Metrics,
				RequestTimeout: sc.RequestTimeout,
				MaxCommitBytes: sc.MaxCommitBytes,
			}, repo)
			if err != nil {
				return err
			}

			pid, err := pidFileFor(sc.PIDFile)
			if err != nil {
				return err
			}
			if err := pid.Write(daemon.Info{Listen: sc.Listen, Repository: dir}); err != nil {
				return err
			}
			defer pid.Remove()

			log.Info("serving repository", "path", dir, "uuid", repo.UUID(), "pid_file", pid.Path())
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s%s (Ctrl+C to stop)\n", dir, sc.Listen, srv.Mount())

			// Start returns after ctx is cancelled and the server has shut down
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default "+server.DefaultListen+")")
	cmd.Flags().StringVar(&repository, "repository", "", "directory of the repository to serve")
	cmd.Flags().StringVar(&mount, "mount", "", "URL path of the repository root (default "+server.DefaultMount+")")
	cmd.PersistentFlags().StringVar(&pidFile, "pid-file", "", "path to PID file (default ~/.config/treewagon/serve.pid)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the running repository server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				pid, err := pidFileFor(serverPIDPath(opts, pidFile))
				if err != nil {
					return err
				}
				info, err := pid.Running()
				if errors.Is(err, daemon.ErrNotRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), "Server is not running")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Server is running (PID %d) on %s serving %s since %s\n",
					info.PID, info.Listen, info.Repository, info.Started.Format(time.RFC3339))
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the running repository server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				pid, err := pidFileFor(serverPIDPath(opts, pidFile))
				if err != nil {
					return err
				}
				info, err := pid.Stop()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to server (PID %d)\n", info.PID)
				return nil
			},
		},
	)
	return cmd
}

// serverPIDPath returns the PID file chosen by flag or configuration
func serverPIDPath(opts *rootOptions, flag string) string {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	return opts.cfg.Server.PIDFile
}

func pidFileFor(path string) (*daemon.PIDFile, error) {
	if path == "" {
		var err error
		if path, err = daemon.DefaultPIDPath(); err != nil {
			return nil, err
		}
	}
	return daemon.NewPIDFile(path), nil
}
