package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"nockwatch/internal/subscribers"
)

// SubscribersList prints every recipient with its effective thresholds.
func (a *App) SubscribersList(ctx context.Context) error {
	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	all := registry.All()
	if len(all) == 0 {
		fmt.Fprintln(os.Stdout, "no subscribers")
		return nil
	}

	ids := make([]int64, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKind\tExpiry\tActive\tFloor\tCeiling")
	for _, id := range ids {
		sub := all[id]
		th := registry.Thresholds(id)
		fmt.Fprintf(writer, "%d\t%s\t%s\t%t\t%s\t%s\n",
			id,
			sub.Kind,
			formatExpiry(sub.Expiry),
			registry.IsActive(id),
			thresholdColumn(sub.Floor, th.Floor),
			thresholdColumn(sub.Ceiling, th.Ceiling),
		)
	}
	writer.Flush()

	counts := registry.Counts()
	fmt.Fprintf(os.Stdout, "%d lifetime, %d timed, %d groups\n", counts.Lifetime, counts.Timed, counts.Groups)
	return nil
}

// SubscribersGrant extends an entitlement, creating the record if
// needed. A non-positive days value falls back to the configured
// subscription duration.
func (a *App) SubscribersGrant(ctx context.Context, id int64, days int) error {
	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	if days <= 0 {
		days = a.Config.Subscription.DurationDays
	}
	expiry := registry.Activate(id, days)
	fmt.Fprintf(os.Stdout, "subscriber %d active until %s\n", id, time.Unix(expiry, 0).UTC().Format(time.RFC3339))
	return nil
}

// SubscribersRevoke removes a recipient outright.
func (a *App) SubscribersRevoke(ctx context.Context, id int64) error {
	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	if !registry.Remove(id) {
		return fmt.Errorf("subscriber %d not found", id)
	}
	fmt.Fprintf(os.Stdout, "subscriber %d removed\n", id)
	return nil
}

// SubscribersAddGroup registers a group chat as a lifetime recipient.
func (a *App) SubscribersAddGroup(ctx context.Context, id int64) error {
	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	if !registry.AddGroup(id) {
		fmt.Fprintf(os.Stdout, "group %d already registered\n", id)
		return nil
	}
	fmt.Fprintf(os.Stdout, "group %d registered\n", id)
	return nil
}

func formatExpiry(expiry int64) string {
	if expiry == subscribers.LifetimeExpiry {
		return "lifetime"
	}
	return time.Unix(expiry, 0).UTC().Format(time.RFC3339)
}

// thresholdColumn renders the effective value, flagging inherited
// defaults so operators can tell custom thresholds apart.
func thresholdColumn(custom *float64, effective float64) string {
	if custom != nil {
		return fmt.Sprintf("%.2f", effective)
	}
	return fmt.Sprintf("%.2f (default)", effective)
}
