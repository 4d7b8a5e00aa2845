package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var grantDays int

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Inspect and manage alert recipients",
}

var subscribersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recipients with their thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SubscribersList(cmd.Context())
	},
}

var subscribersGrantCmd = &cobra.Command{
	Use:   "grant <chat-id>",
	Short: "Grant or extend a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		return getApp().SubscribersGrant(cmd.Context(), id, grantDays)
	},
}

var subscribersRevokeCmd = &cobra.Command{
	Use:   "revoke <chat-id>",
	Short: "Remove a recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		return getApp().SubscribersRevoke(cmd.Context(), id)
	},
}

var subscribersAddGroupCmd = &cobra.Command{
	Use:   "add-group <chat-id>",
	Short: "Register a group chat as a lifetime recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		return getApp().SubscribersAddGroup(cmd.Context(), id)
	},
}

func parseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", raw, err)
	}
	return id, nil
}

func init() {
	subscribersGrantCmd.Flags().IntVar(&grantDays, "days", 0, "Duration in days (defaults to subscription.duration_days)")

	subscribersCmd.AddCommand(subscribersListCmd)
	subscribersCmd.AddCommand(subscribersGrantCmd)
	subscribersCmd.AddCommand(subscribersRevokeCmd)
	subscribersCmd.AddCommand(subscribersAddGroupCmd)
}
