package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [participant] [session]",
		Short: "List saved runs or show the snapshot of one run",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			p, err := persistence.Open(ctx, persistence.Options{
				Kind:     runCfg.StoreKind,
				DSN:      runCfg.StoreDSN,
				Dir:      runCfg.DataDir,
				Fs:       afero.NewOsFs(),
				Prefix:   "epl",
				Database: "epl",
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer p.Close()

			if len(args) == 2 {
				session, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("session must be a number: %w", err)
				}
				return showSnapshot(ctx, p.Snapshots, api.RunIdentity{Participant: args[0], Session: session})
			}

			lister, ok := p.Snapshots.(persistence.SnapshotLister)
			if !ok {
				return fmt.Errorf("store %q cannot list runs", runCfg.StoreKind)
			}
			ids, err := lister.List(ctx)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var shown int
			fmt.Printf("%-20s  %-8s  %s\n", "PARTICIPANT", "SESSION", "STATUS")
			fmt.Printf("%-20s  %-8s  %s\n", "-----------", "-------", "------")
			for _, id := range ids {
				if len(args) == 1 && id.Participant != args[0] {
					continue
				}
				status := "in progress"
				st, err := p.Snapshots.Load(ctx, id)
				switch {
				case errors.Is(err, persistence.ErrCorruptSnapshot):
					status = "corrupt"
				case err != nil:
					return err
				case st.Complete:
					status = "complete"
				}
				fmt.Printf("%-20s  %-8d  %s\n", id.Participant, id.Session, status)
				shown++
			}
			if shown == 0 {
				fmt.Println("No saved runs found.")
			}
			return nil
		},
	}
}

func showSnapshot(ctx context.Context, store persistence.SnapshotStore, id api.RunIdentity) error {
	st, err := store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", id.Key(), err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(st)
}
