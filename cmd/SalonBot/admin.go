package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/BTreeMap/SalonBot/internal/conversation"
	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/spf13/cobra"
)

func newClientsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(store.WithDSN(a.cfg.StoreDSN()))
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			clients, err := st.ListClients(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list clients: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(clients) == 0 {
				fmt.Fprintln(out, "No registered clients.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTACT\tNAME\tSERVICE\tEXPERIENCE\tREGISTERED")
			for _, c := range clients {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ContactID, c.Name, c.RequestedService,
					conversation.HistoryLabel(c.HasPriorExperience), c.RegisteredAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	var keepCooldown bool
	cmd := &cobra.Command{
		Use:   "reset <contact-id>",
		Short: "Clear a contact's conversation and activation cooldown",
		Long: `Clears the stored conversation state of a contact so the next message goes through
the activation gate again. The activation cooldown is cleared too unless --keep-cooldown is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			st, err := store.Open(store.WithDSN(a.cfg.StoreDSN()))
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			if err := st.DeleteConversation(ctx, id); err != nil {
				return fmt.Errorf("failed to delete conversation: %w", err)
			}
			if !keepCooldown {
				if err := st.DeleteActivation(ctx, id); err != nil {
					return fmt.Errorf("failed to delete activation: %w", err)
				}
			}
			slog.Info("Contact reset", "contactID", id, "keep_cooldown", keepCooldown)
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepCooldown, "keep-cooldown", false, "keep the activation cooldown")
	return cmd
}
