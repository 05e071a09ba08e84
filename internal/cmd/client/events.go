package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/fanout"
)

// NewEventsCommand builds the `events` command group.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Booking event operations"}
	cmd.AddCommand(newEventsPublishCommand(baseURL))
	return cmd
}

func newEventsPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a booking event for fan-out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			id, _ := cmd.Flags().GetString("booking-id")
			owner, _ := cmd.Flags().GetString("owner")
			contact, _ := cmd.Flags().GetString("contact")
			summary, _ := cmd.Flags().GetString("summary")
			data, _ := cmd.Flags().GetString("data")

			ev := fanout.Event{
				Kind:          fanout.Kind(kind),
				BookingID:     id,
				OwnerIdentity: owner,
				ContactEmail:  contact,
				Summary:       summary,
				OccurredAt:    time.Now().UTC(),
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data must be JSON")
				}
				ev.Payload = json.RawMessage(data)
			}
			if err := ev.Validate(); err != nil {
				return err
			}
			var out struct {
				Status string `json:"status"`
			}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/events", ev, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", out.Status)
			return nil
		},
	}
	publishCmd.Flags().String("kind", string(fanout.KindCreated), "Event kind: booking.created|booking.confirmed")
	publishCmd.Flags().String("booking-id", "", "Booking id (required)")
	publishCmd.Flags().String("owner", "", "Owner identity of the booking")
	publishCmd.Flags().String("contact", "", "Contact email (defaults to the owner when it is an address)")
	publishCmd.Flags().String("summary", "", "Human-readable summary used in notifications")
	publishCmd.Flags().String("data", "", "JSON payload forwarded to live connections")
	return publishCmd
}

// newNotifyCommand builds `notify`, which sends an ad-hoc message to the
// recipients a CEL expression selects.
func newNotifyCommand(baseURL BaseURLFunc) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a live event and/or push notification to matching recipients",
		Example: `  herald notify --match 'role == "operator"' --title "Heads up" --body "Surge pricing active"
  herald notify --match 'ownerIdentity == "a@b.c"' --event booking.note --data '{"note":"driver waiting"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			expr, _ := cmd.Flags().GetString("match")
			event, _ := cmd.Flags().GetString("event")
			data, _ := cmd.Flags().GetString("data")
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			link, _ := cmd.Flags().GetString("url")
			if event == "" && title == "" {
				return fmt.Errorf("one of --event or --title is required")
			}
			in := map[string]any{"match": expr}
			if event != "" {
				in["event"] = event
				if data != "" {
					if !json.Valid([]byte(data)) {
						return fmt.Errorf("--data must be JSON")
					}
					in["payload"] = json.RawMessage(data)
				}
			}
			if title != "" {
				in["notification"] = delivery.Notification{Title: title, Body: body, URL: link}
			}
			var out json.RawMessage
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/notify", in, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	notifyCmd.Flags().String("match", "true", "CEL expression over role, ownerIdentity and correlationId")
	notifyCmd.Flags().String("event", "", "Live event name")
	notifyCmd.Flags().String("data", "", "JSON payload for the live event")
	notifyCmd.Flags().String("title", "", "Push notification title")
	notifyCmd.Flags().String("body", "", "Push notification body")
	notifyCmd.Flags().String("url", "", "URL opened when the notification is clicked")
	return notifyCmd
}
