package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/writeq"
)

// openStore loads the selected session's store read-mostly. With no
// --session flag, a lone session directory is picked automatically.
func openStore() (*store.Store, *writeq.Queue, error) {
	base := filepath.Join(flagDir, ".pi", "rlm")
	session := flagSession
	if session == "" {
		sessions, err := listSessions(base)
		if err != nil {
			return nil, nil, err
		}
		switch len(sessions) {
		case 0:
			return nil, nil, fmt.Errorf("no sessions under %s", base)
		case 1:
			session = sessions[0]
		default:
			return nil, nil, fmt.Errorf("multiple sessions under %s; pick one with --session", base)
		}
	}

	queue := writeq.New()
	st := store.New(filepath.Join(base, session), session, queue)
	if err := st.Initialize(); err != nil {
		queue.Close()
		return nil, nil, err
	}
	return st, queue, nil
}

// listSessions returns session directory names under base.
func listSessions(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List session stores in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := filepath.Join(flagDir, ".pi", "rlm")
			sessions, err := listSessions(base)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				info, err := os.Stat(filepath.Join(base, s))
				if err != nil {
					continue
				}
				fmt.Printf("%s\t(modified %s)\n", s, info.ModTime().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newStoreCmd() *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect a session store",
	}

	storeCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List records in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, queue, err := openStore()
			if err != nil {
				return err
			}
			defer queue.Close()
			idx := st.GetFullIndex()
			fmt.Printf("%d objects, %d tokens\n", len(idx.Entries), idx.TotalTokens)
			for _, e := range idx.Entries {
				fmt.Printf("%s  %-12s %8d tok  %s\n", e.ID, e.Type, e.TokenEstimate, e.Description)
			}
			return nil
		},
	})

	storeCmd.AddCommand(&cobra.Command{
		Use:   "show <object-id>",
		Short: "Print a record's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, queue, err := openStore()
			if err != nil {
				return err
			}
			defer queue.Close()
			rec, ok := st.Get(args[0])
			if !ok {
				return fmt.Errorf("object %s not found", args[0])
			}
			fmt.Printf("id: %s\ntype: %s\ncreated: %s\nsource: %s\ndescription: %s\ntokens: %d\n\n%s\n",
				rec.ID, rec.Type, rec.CreatedAt.Format(time.RFC3339), rec.Source.Kind,
				rec.Description, rec.TokenEstimate, rec.Content)
			return nil
		},
	})

	storeCmd.AddCommand(&cobra.Command{
		Use:   "merge <other-session-dir>",
		Short: "Import records from another session directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, queue, err := openStore()
			if err != nil {
				return err
			}
			defer queue.Close()
			imported, err := st.MergeFrom(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := st.Flush(ctx); err != nil {
				return err
			}
			fmt.Printf("imported %d record(s)\n", imported)
			return nil
		},
	})

	return storeCmd
}
