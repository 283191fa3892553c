package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/lock"
	"github.com/Ning0612/Treewagon/internal/progress"
	"github.com/Ning0612/Treewagon/internal/store/badgerstore"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a local repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := badgerstore.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create repository: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Repository created at %s\n", root)
			fmt.Fprintf(cmd.OutOrStdout(), "Address it as %s%s\n", domain.AddressPrefix, root)
			return nil
		},
	}
}

func newExistsCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "exists <repository> <name>",
		Short: "Check whether a resource exists",
		Long: `Check whether a resource exists. Prints "true" or "false"; the exit
status is 0 in both cases.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := opts.resolve(args[0], creds)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := opts.connect(ctx, repo, nil)
			if err != nil {
				return err
			}
			exists, err := s.wagon.Exists(ctx, args[1])
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var (
		creds   credentialFlags
		ifNewer string
	)
	cmd := &cobra.Command{
		Use:   "get <repository> <name> <dest>",
		Short: "Download a file",
		Example: `  treewagon get releases com/acme/app/1.0/app-1.0.jar ./app.jar
  treewagon get releases maven-metadata.xml ./md.xml --if-newer-than 2024-01-02T15:04:05Z`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var since time.Time
			if ifNewer != "" {
				t, err := time.Parse(time.RFC3339, ifNewer)
				if err != nil {
					return fmt.Errorf("invalid --if-newer-than: %w", err)
				}
				since = t
			}

			repo, err := opts.resolve(args[0], creds)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := opts.connect(ctx, repo, transferPrinter(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			fetched := true
			if ifNewer != "" {
				fetched, err = s.wagon.GetIfNewer(ctx, args[1], args[2], since)
			} else {
				err = s.wagon.Get(ctx, args[1], args[2])
			}
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if !fetched {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", args[1])
			}
			return nil
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&ifNewer, "if-newer-than", "", "only download when changed after this RFC3339 time")
	return cmd
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "put <repository> <local>... <name>",
		Short: "Upload files and directories in one commit",
		Long: `Upload local files and directories. Everything uploaded by one invocation
is committed atomically; if any upload fails nothing is committed.

With a single source, <name> is the resource name of that source. With several
sources, <name> is a directory and each source keeps its base name.`,
		Example: `  treewagon put releases ./app-1.0.jar com/acme/app/1.0/app-1.0.jar
  treewagon put releases ./target/site docs/1.0
  treewagon put releases app.jar app.pom com/acme/app/1.0`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := opts.resolve(args[0], creds)
			if err != nil {
				return err
			}
			sources := args[1 : len(args)-1]
			name := args[len(args)-1]

			fl, err := lock.NewFileLock(filepath.Join(opts.cfg.StateDir, "locks"), repo.Name)
			if err != nil {
				return err
			}
			if err := fl.Acquire("put"); err != nil {
				return err
			}
			defer fl.Release()

			tally := &progress.Tally{}
			ctx := cmd.Context()
			s, err := opts.connect(ctx, repo, progress.Multi{tally, transferPrinter(cmd.OutOrStdout())})
			if err != nil {
				return err
			}

			err = putAll(cmd, s, sources, name)
			// Disconnect commits, or aborts when a put failed
			if cerr := s.close(ctx); err == nil {
				err = cerr
			} else if cerr != nil {
				err = errors.Join(err, cerr)
			}
			if err != nil {
				return err
			}

			files, bytes, _ := tally.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Committed %d file(s), %s\n", files, progress.FormatBytes(bytes))
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

// putAll uploads every source; all of them are checked before the first upload
func putAll(cmd *cobra.Command, s *session, sources []string, name string) error {
	infos := make([]os.FileInfo, len(sources))
	for i, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		infos[i] = info
	}

	ctx := cmd.Context()
	for i, src := range sources {
		target := name
		if len(sources) > 1 {
			target = strings.TrimSuffix(name, "/") + "/" + filepath.Base(src)
		}

		var err error
		if infos[i].IsDir() {
			err = s.wagon.PutDirectory(ctx, src, target)
		} else {
			err = s.wagon.Put(ctx, src, target)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func newLsCmd(opts *rootOptions) *cobra.Command {
	var (
		creds credentialFlags
		long  bool
	)
	cmd := &cobra.Command{
		Use:   "ls <repository> [name]",
		Short: "List a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := opts.resolve(args[0], creds)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}

			ctx := cmd.Context()
			s, err := opts.connect(ctx, repo, nil)
			if err != nil {
				return err
			}
			entries, err := s.wagon.ListEntries(ctx, name)
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			if !long {
				for _, e := range entries {
					if e.IsDir() {
						fmt.Fprintln(cmd.OutOrStdout(), e.Name+"/")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), e.Name)
					}
				}
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				entryName, size := e.Name, progress.FormatBytes(e.Size)
				if e.IsDir() {
					entryName, size = e.Name+"/", "-"
				}
				rows = append(rows, []string{
					entryName,
					size,
					e.ModTime.Local().Format("2006-01-02 15:04:05"),
					strconv.FormatInt(e.Revision, 10),
					e.Author,
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Name", "Size", "Modified", "Revision", "Author"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size, date, revision and author")
	creds.register(cmd)
	return cmd
}
