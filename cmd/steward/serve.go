package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/assist"
	"github.com/steward-bot/steward/internal/calendar"
	"github.com/steward-bot/steward/internal/chat"
	"github.com/steward-bot/steward/internal/daemon"
	"github.com/steward-bot/steward/internal/dashboard"
	"github.com/steward-bot/steward/internal/mirror"
	"github.com/steward-bot/steward/internal/notify"
	"github.com/steward-bot/steward/internal/schedule"
	"github.com/steward-bot/steward/internal/session"
	"github.com/steward-bot/steward/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "daemon",
	Short:   "Run the assistant daemon",
	Long: `Run the long-lived assistant process.

The daemon rebuilds the index, watches the vault for edits, cycles the
git mirror, fires check-in notifications with escalation, reconciles the
calendar, and serves the chat dashboard. Components without
configuration (no git remote, no ntfy topic, no API key) degrade to off
rather than failing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		cfg := a.cfg

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		sessions := session.New(session.Config{
			TTL:            cfg.Session.TTL,
			MaxAge:         cfg.Session.MaxAge,
			MessageCeiling: cfg.Session.MessageCeiling,
		}, a.db, a.logs.For("session"))

		// Mirror only when the vault is a git repository.
		var m *mirror.Mirror
		if cfg.Mirror.Enabled {
			mcfg := mirror.DefaultConfig(cfg.VaultPath)
			mcfg.Remote = cfg.Mirror.Remote
			mcfg.Branch = cfg.Mirror.Branch
			m, err = mirror.New(mcfg, a.db, a.sync, a.logs.For("mirror"))
			if err != nil {
				return fmt.Errorf("mirror enabled but unusable: %w", err)
			}
		}

		// Notifications also show up in the dashboard chat; the tee's
		// target is bound once the dashboard exists.
		tee := &teeTransport{}
		var sched *schedule.Scheduler
		if cfg.Notify.Topic != "" {
			ncfg := notify.DefaultConfig(cfg.Notify.Topic)
			ncfg.ServerURL = cfg.Notify.ServerURL
			ncfg.AccessToken = cfg.Notify.AccessToken
			transport, err := notify.New(ncfg, a.logs.For("notify"))
			if err != nil {
				return err
			}
			tee.next = transport
			jobs, err := schedule.JobsAt(cfg.Location(),
				cfg.Schedule.MorningCheckin, cfg.Schedule.EveningReview,
				cfg.Schedule.CheckinInterval, cfg.Schedule.WorkStartHour, cfg.Schedule.WorkEndHour)
			if err != nil {
				return err
			}
			dashURL := fmt.Sprintf("http://localhost:%d/today", cfg.Dashboard.Port)
			composer := schedule.NewIndexComposer(a.db, dashURL)
			scfg := schedule.DefaultConfig()
			if len(cfg.Schedule.EscalationDelays) > 0 {
				scfg.EscalationDelays = cfg.Schedule.EscalationDelays
			}
			sched = schedule.New(scfg, jobs, a.db, tee, composer, a.logs.For("schedule"))
		} else {
			a.logs.For("serve").Println("No ntfy topic configured, notifications disabled")
		}

		var parser assist.Parser = unavailableAssistant{}
		var est assist.Estimator = unavailableAssistant{}
		var summ assist.Summarizer = unavailableAssistant{}
		if cfg.Assist.APIKey != "" {
			acfg := assist.DefaultConfig()
			acfg.APIKey = cfg.Assist.APIKey
			if cfg.Assist.Model != "" {
				acfg.Model = cfg.Assist.Model
			}
			assistant, err := assist.New(acfg)
			if err != nil {
				return err
			}
			parser, est, summ = assistant, assistant, assistant
		} else {
			a.logs.For("serve").Println("No API key configured, language model features disabled")
		}

		var cal *calendar.Manager
		if cfg.Calendar.Enabled {
			cal = calendar.New(calendar.NewFileService(cfg.Calendar.File), a.db, a.sync, a.logs.For("calendar"))
		}

		router := chat.New(a.db, a.sync, sessions, sched, parser, est, summ, a.logs.For("chat"))

		var dash *dashboard.Server
		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: a.logs.For("dashboard"),
			}, a.db, router)
			if err := dash.Start(); err != nil {
				return err
			}
			defer dash.Stop()
			tee.dash = dash
			fmt.Printf("Dashboard: http://localhost:%d (chat at /, agenda at /today)\n", cfg.Dashboard.Port)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.MirrorInterval = cfg.Mirror.Interval
		dcfg.Logger = a.logs.For("daemon")
		d, err := daemon.New(cfg.VaultPath, a.sync, m, sessions, sched, cal, dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("Watching vault at %s\nPress Ctrl+C to stop...\n", cfg.VaultPath)
		return d.Start(ctx)
	},
}

// teeTransport delivers through ntfy and mirrors each notification into
// the dashboard chat.
type teeTransport struct {
	next notify.Transport
	dash *dashboard.Server
}

func (t *teeTransport) Send(ctx context.Context, msg notify.Message) error {
	if t.dash != nil {
		t.dash.Broadcast(dashboard.Message{
			Type: dashboard.MessageTypeNotification,
			From: "steward",
			Text: msg.Title + "\n" + msg.Body,
		})
	}
	if t.next == nil {
		return nil
	}
	return t.next.Send(ctx, msg)
}

// unavailableAssistant stands in when no API key is configured. Parsing
// fails so chat asks the user to rephrase; estimates and summaries fall
// back to their non-model paths.
type unavailableAssistant struct{}

func (unavailableAssistant) ParseTask(context.Context, string, time.Time) (*assist.ParsedTask, error) {
	return nil, fmt.Errorf("language model not configured")
}

func (unavailableAssistant) Estimate(context.Context, string, []*vault.Task) (int, string, error) {
	return 0, "", fmt.Errorf("language model not configured")
}

func (unavailableAssistant) Summarize(context.Context, string) (string, error) {
	return "", fmt.Errorf("language model not configured")
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
