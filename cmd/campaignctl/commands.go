package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

type cli struct {
	configPath string
	out        io.Writer
	newApp     func(ctx context.Context, cfg *config.Config) (*app.App, error)

	app *app.App
}

func defaultCLI() *cli {
	return &cli{out: os.Stdout, newApp: app.New}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "campaignctl",
		Short:         "Operate the campaign delivery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.LoadFromEnv(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.app, err = c.newApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config/config.yaml", "Path to configuration file")

	root.AddCommand(
		c.campaignsCmd(),
		c.quotaCmd(),
		c.processDueCmd(),
		c.processBatchCmd(),
		c.recoverCmd(),
		c.pruneCmd(),
		c.unsubscribeCmd(),
	)
	return root
}

func (c *cli) campaignsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "campaigns",
		Aliases: []string{"campaign"},
		Short:   "Inspect and control campaigns",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List campaigns, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, total, err := c.app.Campaigns.List(cmd.Context(), campaign.ListFilter{Status: status, Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRECIPIENTS\tSENT\tFAILED\tSKIPPED")
			for _, x := range cs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					x.ID, x.Name, x.Status, x.RecipientCount, x.SentCount, x.FailedCount, x.SkippedCount)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d of %d campaigns\n", len(cs), total)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a campaign and its batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.Campaigns.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			x := st.Campaign
			fmt.Fprintf(c.out, "%s  %s  [%s]\n", x.ID, x.Name, x.Status)
			fmt.Fprintf(c.out, "recipients=%d sent=%d failed=%d skipped=%d open_rate=%.1f%% click_rate=%.1f%%\n",
				x.RecipientCount, x.SentCount, x.FailedCount, x.SkippedCount, st.OpenRate*100, st.ClickRate*100)
			fmt.Fprintf(c.out, "outstanding: pending=%d unassigned=%d sending=%d\n",
				st.Outstanding.Pending, st.Outstanding.Unassigned, st.Outstanding.Sending)

			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tSCHEDULED\tSTATUS\tRECIPIENTS\tSENT\tFAILED\tSKIPPED")
			for _, b := range st.Batches {
				fmt.Fprintf(w, "%d/%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
					b.BatchNumber, b.TotalBatches, b.ScheduledTime.Format(time.RFC3339), b.Status,
					b.RecipientCount, b.SentCount, b.FailedCount, b.SkippedCount)
			}
			return w.Flush()
		},
	}

	var maxToSend int
	send := &cobra.Command{
		Use:   "send <id>",
		Short: "Start a campaign, sending now when it fits in the quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.app.Campaigns.ScheduleOrStart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "mode=%s status=%s recipients=%d inserted=%d\n",
				out.Mode, out.Status, out.Recipients, out.Inserted)
			if out.Plan != nil {
				fmt.Fprintf(c.out, "%d batches, first at %s, done by %s\n",
					out.Plan.TotalBatches, out.Plan.ScheduledTime.Format(time.RFC3339),
					out.Plan.EstimatedCompletionTime.Format(time.RFC3339))
			}
			if out.Mode != campaign.ModeImmediate {
				return nil
			}
			res, err := c.app.Processor.ProcessBatch(cmd.Context(), out.BatchID, maxToSend)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "sent=%d failed=%d skipped=%d remaining=%d status=%s\n",
				res.Sent, res.Failed, res.Skipped, res.Remaining, res.Status)
			return nil
		},
	}
	send.Flags().IntVar(&maxToSend, "max", 0, "Send at most this many now (0 = per-run maximum)")

	cmd.AddCommand(list, show, send,
		c.lifecycleCmd("pause", "Pause an active campaign", func(ctx context.Context, id string) (*domain.Campaign, error) {
			return c.app.Campaigns.Pause(ctx, id)
		}),
		c.lifecycleCmd("resume", "Resume a paused campaign", func(ctx context.Context, id string) (*domain.Campaign, error) {
			return c.app.Campaigns.Resume(ctx, id)
		}),
		c.lifecycleCmd("cancel", "Return a campaign to draft", func(ctx context.Context, id string) (*domain.Campaign, error) {
			return c.app.Campaigns.Cancel(ctx, id)
		}),
		c.failuresCmd(),
	)
	return cmd
}

func (c *cli) lifecycleCmd(use, short string, act func(context.Context, string) (*domain.Campaign, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := act(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s is now %s\n", x.ID, x.Status)
			return nil
		},
	}
}

func (c *cli) failuresCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failures <id>",
		Short: "List failed recipients and their errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := c.app.Campaigns.Failures(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tRETRIES\tERROR")
			for _, r := range rs {
				fmt.Fprintf(w, "%s\t%d\t%s\n", r.Email, r.RetryCount, r.ErrorMessage)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	return cmd
}

func (c *cli) quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the rolling send quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := c.app.Quota.GetQuotaStatus(cmd.Context())
			fmt.Fprintf(c.out, "used=%d cap=%d remaining=%d can_send=%t\n", q.Used, q.Cap, q.Remaining, q.CanSendNow)
			if !q.WindowResetAt.IsZero() {
				fmt.Fprintf(c.out, "window resets at %s\n", q.WindowResetAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (c *cli) processDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-due",
		Short: "Start due campaigns and process due batches once",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := c.app.Dispatcher.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !sum.Ran {
				fmt.Fprintln(c.out, "another dispatcher holds the lock")
				return nil
			}
			fmt.Fprintf(c.out, "campaigns_started=%d batches=%d sent=%d failed=%d skipped=%d\n",
				sum.CampaignsStarted, len(sum.Batches), sum.Sent, sum.Failed, sum.Skipped)
			return nil
		},
	}
}

func (c *cli) processBatchCmd() *cobra.Command {
	var maxToSend int
	cmd := &cobra.Command{
		Use:   "process-batch <batch-id>",
		Short: "Process one batch now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Processor.ProcessBatch(cmd.Context(), args[0], maxToSend)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "sent=%d failed=%d skipped=%d remaining=%d status=%s %s\n",
				res.Sent, res.Failed, res.Skipped, res.Remaining, res.Status, res.Message)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxToSend, "max", 0, "Send at most this many (0 = per-run maximum)")
	return cmd
}

func (c *cli) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Requeue recipients and batches stuck mid-send",
		RunE: func(cmd *cobra.Command, args []string) error {
			requeued, failed, batches := c.app.Recovery.RunOnce(cmd.Context())
			fmt.Fprintf(c.out, "requeued=%d failed=%d batches_reverted=%d\n", requeued, failed, batches)
			return nil
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete old tracking events and long-expired unsubscribe tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, tokens := c.app.Retention.RunOnce(cmd.Context())
			fmt.Fprintf(c.out, "tracking_events=%d tokens=%d\n", events, tokens)
			return nil
		},
	}
}

func (c *cli) unsubscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsubscribes",
		Short: "Manage the global unsubscribe list",
	}

	var reason string
	add := &cobra.Command{
		Use:   "add <email>...",
		Short: "Add addresses to the list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range args {
				if err := c.app.Suppression.Unsubscribe(cmd.Context(), e, reason, domain.SourceAdmin, ""); err != nil {
					return fmt.Errorf("%s: %w", e, err)
				}
			}
			fmt.Fprintf(c.out, "added %d\n", len(args))
			return nil
		},
	}
	add.Flags().StringVar(&reason, "reason", "", "Reason stored with the entry")

	remove := &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an address from the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := c.app.Suppression.Remove(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s is not on the list", args[0])
			}
			return err
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List unsubscribed addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			us, total, err := c.app.Suppression.List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tSOURCE\tREASON\tCREATED")
			for _, u := range us {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Email, u.Source, u.Reason, u.CreatedAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d of %d\n", len(us), total)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "Maximum rows")

	cmd.AddCommand(add, remove, list)
	return cmd
}
