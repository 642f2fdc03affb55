package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/coursedl/pkg/model"
	"github.com/glorpus-work/coursedl/pkg/state"
)

var statusFailedOnly bool

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded synchronization state",
		Long:  "Display the tracked files with their status and last fingerprint.",
		RunE:  runStatus,
	}
	cmd.Flags().BoolVar(&statusFailedOnly, "failed", false, "only show files whose last attempt failed")
	return cmd
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	store, err := state.NewManager(cfg.StatePath())
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}

	records := store.Records()
	counts := map[model.RecordStatus]int{}

	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOURSE\tPATH\tFINGERPRINT")
	for _, r := range records {
		counts[r.Status]++
		if statusFailedOnly && r.Status != model.StatusFailed {
			continue
		}
		detail := r.LastFingerprint
		if r.Status == model.StatusFailed && r.FailureReason != "" {
			detail = r.FailureReason
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Status, r.CourseID, r.SavedPath, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d tracked (%d synced, %d failed, %d tombstoned)\n",
		len(records),
		counts[model.StatusSynced],
		counts[model.StatusFailed],
		counts[model.StatusPendingDelete])
	return nil
}
