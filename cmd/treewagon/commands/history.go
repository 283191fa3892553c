package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Treewagon/internal/progress"
	"github.com/Ning0612/Treewagon/internal/state"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		last  bool
	)
	cmd := &cobra.Command{
		Use:   "history [repository]",
		Short: "Show recent write sessions",
		Long: `Show the write sessions recorded by this machine, newest first. With a
repository argument only sessions of that repository are shown; --last
shows its most recent committed session.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			journal, err := state.NewManager(opts.cfg.StateDir)
			if err != nil {
				return fmt.Errorf("failed to open session journal: %w", err)
			}
			defer journal.Close()

			if last && len(args) == 0 {
				return fmt.Errorf("--last needs a repository")
			}

			var records []state.SessionRecord
			if len(args) == 1 {
				// Sessions are journaled under the address they connected to
				repo, rerr := opts.resolve(args[0], credentialFlags{})
				if rerr != nil {
					return rerr
				}
				if last {
					record, lerr := journal.GetLastCommitted(repo.URL)
					if lerr != nil {
						return lerr
					}
					if record != nil {
						records = append(records, *record)
					}
				} else {
					records, err = journal.GetHistory(repo.URL, limit)
				}
			} else {
				records, err = journal.GetAllHistory(limit)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No write sessions recorded")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rev := "-"
				if r.Status == state.StatusCommitted {
					rev = strconv.FormatInt(r.Revision, 10)
				}
				rows = append(rows, []string{
					r.StartTime.Local().Format("2006-01-02 15:04:05"),
					r.Status,
					rev,
					strconv.Itoa(r.Files),
					progress.FormatBytes(r.Bytes),
					r.Repository,
					r.Message,
					r.Error,
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Started", "Status", "Revision", "Files", "Size", "Repository", "Message", "Error"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to show")
	cmd.Flags().BoolVar(&last, "last", false, "show only the last committed session")
	return cmd
}
