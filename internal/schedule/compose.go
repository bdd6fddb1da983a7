package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/notify"
	"github.com/steward-bot/steward/internal/vault"
)

// IndexComposer renders notification content from the index.
type IndexComposer struct {
	db *index.DB
	// DashboardURL, when set, becomes the tap-through target.
	DashboardURL string
}

// NewIndexComposer creates the default composer.
func NewIndexComposer(db *index.DB, dashboardURL string) *IndexComposer {
	return &IndexComposer{db: db, DashboardURL: dashboardURL}
}

// Compose builds the message for one job occurrence.
func (c *IndexComposer) Compose(ctx context.Context, jobType string, now time.Time) (notify.Message, error) {
	switch jobType {
	case TypeMorningCheckin:
		return c.morning(now)
	case TypeEveningReview:
		return c.evening(now)
	case TypePeriodicCheckin:
		return c.periodic(now)
	}
	return notify.Message{}, fmt.Errorf("unknown notification type %q", jobType)
}

func (c *IndexComposer) click(page string) string {
	if c.DashboardURL == "" {
		return ""
	}
	return strings.TrimRight(c.DashboardURL, "/") + page
}

func (c *IndexComposer) morning(now time.Time) (notify.Message, error) {
	today := now.Format("2006-01-02")
	due, err := c.db.TasksDueBy(today)
	if err != nil {
		return notify.Message{}, err
	}
	active, err := c.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		return notify.Message{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active tasks, %d due today.\n", len(active), len(due))
	for i, t := range due {
		if i == 5 {
			fmt.Fprintf(&b, "...and %d more\n", len(due)-5)
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", t.Title, t.Priority)
	}
	b.WriteString("What's the plan for today?")

	return notify.Message{
		Title:    "Morning check-in",
		Body:     b.String(),
		Priority: notify.PriorityDefault,
		Tags:     []string{"sunrise"},
		ClickURL: c.click("/today"),
	}, nil
}

func (c *IndexComposer) evening(now time.Time) (notify.Message, error) {
	today := now.Format("2006-01-02")
	active, err := c.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		return notify.Message{}, err
	}

	var completedToday int
	completed, err := c.db.TasksByStatus(vault.TaskStatusCompleted)
	if err != nil {
		return notify.Message{}, err
	}
	for _, t := range completed {
		if strings.HasPrefix(t.CompletedAt, today) {
			completedToday++
		}
	}

	body := fmt.Sprintf("%d tasks completed today, %d still active.\nHow did the day go? Reply with a quick review.",
		completedToday, len(active))
	return notify.Message{
		Title:    "Evening review",
		Body:     body,
		Priority: notify.PriorityDefault,
		Tags:     []string{"night_with_stars"},
		ClickURL: c.click("/today"),
	}, nil
}

func (c *IndexComposer) periodic(now time.Time) (notify.Message, error) {
	due, err := c.db.TasksDueBy(now.Format("2006-01-02"))
	if err != nil {
		return notify.Message{}, err
	}

	body := "Quick check: still on track?"
	if len(due) > 0 {
		body = fmt.Sprintf("Quick check: %d tasks due today. Top of the list: %s", len(due), due[0].Title)
	}
	return notify.Message{
		Title:    "Check-in",
		Body:     body,
		Priority: notify.PriorityLow,
		Tags:     []string{"hourglass_flowing_sand"},
		ClickURL: c.click("/today"),
	}, nil
}
