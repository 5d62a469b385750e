package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/audit"
	"github.com/spf13/cobra"
)

var (
	sessionsDB    string
	sessionsLimit int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "lists recent sessions",
	Long:  `lists recent connection sessions from the audit database written by serve`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := audit.Open(sessionsDB)
		if err != nil {
			return err
		}
		sessions, err := audit.NewSessionStore(db).RecentSessions(sessionsLimit)
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsDB, "db", "geckos.sqlite3", "path to the audit database")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list, 0 for all")
}

func printSessions(w io.Writer, sessions []audit.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPENED\tDURATION\tSTATE\tUSER DATA")
	for _, s := range sessions {
		opened := time.UnixMilli(s.OpenedAt)
		duration, state := "-", "open"
		if !s.Open() {
			duration = time.UnixMilli(s.ClosedAt).Sub(opened).Round(time.Millisecond).String()
			state = s.EndState
		}
		userData := s.UserData
		if userData == "" {
			userData = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ConnectionID, opened.Format(time.DateTime), duration, state, userData)
	}
	_ = tw.Flush()
}
