package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/messaging"
)

// SlackAdapter sends events to a Slack incoming webhook URL.
type SlackAdapter struct {
	config messaging.AdapterConfig
	client *http.Client
}

// NewSlackAdapter creates a Slack adapter from config.
func NewSlackAdapter(config messaging.AdapterConfig) *SlackAdapter {
	return &SlackAdapter{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *SlackAdapter) Name() string { return a.config.Name }
func (a *SlackAdapter) Type() string { return messaging.TypeSlack }

func (a *SlackAdapter) Send(ctx context.Context, event events.DomainEvent) error {
	text := formatSlackMessage(event)

	payload := map[string]interface{}{
		"text": text,
		"blocks": []map[string]interface{}{
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

func formatSlackMessage(event events.DomainEvent) string {
	switch e := event.(type) {
	case *events.TaskMutated:
		if e.ToStatus != e.FromStatus && e.ToStatus.IsTerminal() {
			return fmt.Sprintf(":white_check_mark: Task %s is now %s", e.TaskID, e.ToStatus.DisplayName())
		}
		return fmt.Sprintf(":pencil2: Task %s updated (%d%%)", e.TaskID, e.Progress)
	case *events.MilestoneMutated:
		return fmt.Sprintf(":round_pushpin: Milestone %s is %s", e.MilestoneID, e.ToStatus.DisplayName())
	case *events.MilestoneDeleted:
		return fmt.Sprintf(":wastebasket: Milestone %s removed from booking %s", e.MilestoneID, e.BookingID)
	case *events.MilestoneRecalculated:
		return fmt.Sprintf(":bar_chart: Milestone %s at %d%% (%d/%d tasks done)", e.MilestoneID, e.Progress, e.Counters.CompletedTasks, e.Counters.TotalTasks)
	case *events.BookingProgressUpdated:
		return fmt.Sprintf(":chart_with_upwards_trend: Booking %s at %d%%", e.BookingID, e.Progress)
	case *events.CascadeFinished:
		if e.Degraded {
			return fmt.Sprintf(":warning: Progress for booking %s could not be refreshed: %s", e.BookingID, e.Error)
		}
		return fmt.Sprintf(":arrows_counterclockwise: Booking %s recalculated via %s", e.BookingID, e.Strategy)
	default:
		return fmt.Sprintf("Milepost event: %s", event.EventType())
	}
}
