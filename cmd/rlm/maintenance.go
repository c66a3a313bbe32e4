package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rlm/pkg/models"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize a session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, queue, err := openStore()
			if err != nil {
				return err
			}
			defer queue.Close()

			idx := st.GetFullIndex()
			byType := map[models.ContentType]int{}
			for _, e := range idx.Entries {
				byType[e.Type]++
			}
			fmt.Printf("session: %s\nobjects: %d\ntokens: %d\nbytes: %d\n",
				idx.SessionID, len(idx.Entries), idx.TotalTokens, st.StoreBytes())
			for _, t := range []models.ContentType{models.ContentConversation, models.ContentToolOutput, models.ContentFile, models.ContentArtifact} {
				if n := byType[t]; n > 0 {
					fmt.Printf("  %-12s %d\n", t, n)
				}
			}
			return nil
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete session stores older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := filepath.Join(flagDir, ".pi", "rlm")
			sessions, err := listSessions(base)
			if err != nil {
				return err
			}
			cutoff := time.Now().AddDate(0, 0, -days)
			removed := 0
			for _, s := range sessions {
				dir := filepath.Join(base, s)
				info, err := os.Stat(dir)
				if err != nil || info.ModTime().After(cutoff) {
					continue
				}
				if err := os.RemoveAll(dir); err != nil {
					return fmt.Errorf("purge %s: %w", dir, err)
				}
				fmt.Printf("removed %s (modified %s)\n", s, info.ModTime().Format(time.RFC3339))
				removed++
			}
			fmt.Printf("%d session(s) removed\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention horizon in days")
	return cmd
}
