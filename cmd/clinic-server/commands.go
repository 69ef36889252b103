package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/reminder"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/pkg/pagination"
)

// withApp builds the shared dependencies, runs fn and releases them.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, logLevel(cmd))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parseTime accepts RFC 3339 timestamps ("2026-03-02T10:00:00+01:00").
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339: %w", s, err)
	}
	return t, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printSchedule(w io.Writer, res *reminder.ScheduleResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "Reminders: %d created, %d skipped, %d index failure(s)\n",
		len(res.Created), res.Skipped, res.IndexFailures)
	for _, n := range res.Created {
		fmt.Fprintf(w, "  #%-8d %-12s due %s\n", n.ID, n.Type, n.RemindAt.Format(time.RFC3339))
	}
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	migrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, dir), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// ---------------------------------------------------------------------------
// reminders
// ---------------------------------------------------------------------------

var errRunOnceNeedsForce = errors.New("run-once marks due reminders sent without pushing them; rerun with --force")

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect and maintain the reminder index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reindex",
		Short: "Re-add every unsent reminder to the Redis index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.reindexer.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, indexed %d, failed %d.\n", stats.Scanned, stats.Indexed, stats.Failed)
				return nil
			})
		},
	})

	runOnceCmd := &cobra.Command{
		Use:   "run-once",
		Short: "Run a single dispatch cycle from this process",
		Long: `Run a single dispatch cycle from this process.

This process holds no WebSocket sessions, so due reminders are emailed only
and then marked sent. Users connected to a running serve process never get
the push for those reminders. Pass --force to run anyway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return errRunOnceNeedsForce
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats := a.dispatcher(websocket.NewHub(a.logger)).RunCycle(ctx)
				fmt.Fprintf(cmd.OutOrStdout(),
					"Keys %d, due %d, delivered %d, stale %d, invalid %d, push failed %d, email failed %d, email skipped %d, aborted keys %d.\n",
					stats.Keys, stats.Due, stats.Delivered, stats.Stale, stats.Invalid,
					stats.PushFailed, stats.EmailFailed, stats.EmailSkipped, stats.AbortedKeys)
				return nil
			})
		},
	}
	runOnceCmd.Flags().Bool("force", false, "Consume due reminders without push delivery")
	cmd.AddCommand(runOnceCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's reminders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				p := pagination.New(limit, offset)
				items, total, err := a.notifications.ListByUser(ctx, userID, p.Limit, p.Offset)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Reminders for user %d: %s\n", userID, p.Summary(len(items), total))
				for _, n := range items {
					fmt.Fprintf(w, "#%-8d %-12s remind_at=%s sent=%t %s\n",
						n.ID, n.Type, n.RemindAt.Format(time.RFC3339), n.Sent, n.Title)
				}
				return nil
			})
		},
	}
	listCmd.Flags().Int64("user", 0, "User id")
	listCmd.Flags().Int("limit", pagination.DefaultLimit, "Page size")
	listCmd.Flags().Int("offset", 0, "Page offset")
	cmd.AddCommand(listCmd)

	return cmd
}

// ---------------------------------------------------------------------------
// appointment
// ---------------------------------------------------------------------------

func appointmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointment",
		Aliases: []string{"appt"},
		Short:   "Book and manage appointments",
	}

	bookCmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment and schedule its reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			t, err := parseTime(at)
			if err != nil {
				return err
			}
			appt := &appointment.Appointment{ScheduledTime: t}
			appt.UserID, _ = cmd.Flags().GetInt64("user")
			appt.DoctorID, _ = cmd.Flags().GetInt64("doctor")
			appt.ServiceID, _ = cmd.Flags().GetInt64("service")
			appt.Note, _ = cmd.Flags().GetString("note")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.appointments.Book(ctx, appt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Booked appointment %d at %s\n", appt.ID, appt.ScheduledTime.Format(time.RFC3339))
				printSchedule(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	bookCmd.Flags().Int64("user", 0, "Patient user id")
	bookCmd.Flags().Int64("doctor", 0, "Doctor id")
	bookCmd.Flags().Int64("service", 0, "Service id")
	bookCmd.Flags().String("at", "", "Scheduled time (RFC 3339)")
	bookCmd.Flags().String("note", "", "Note")
	cmd.AddCommand(bookCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment and purge its pending reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				msg, err := a.appointments.Cancel(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an appointment as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.appointments.Complete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appointment %d completed\n", id)
				return nil
			})
		},
	})

	rescheduleCmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an appointment and replace its reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			at, _ := cmd.Flags().GetString("at")
			t, err := parseTime(at)
			if err != nil {
				return err
			}
			p := appointment.UpdateParams{ScheduledTime: &t}
			if cmd.Flags().Changed("note") {
				note, _ := cmd.Flags().GetString("note")
				p.Note = &note
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				updated, res, err := a.appointments.Update(ctx, id, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appointment %d now at %s\n", updated.ID, updated.ScheduledTime.Format(time.RFC3339))
				printSchedule(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	rescheduleCmd.Flags().String("at", "", "New scheduled time (RFC 3339)")
	rescheduleCmd.Flags().String("note", "", "Replace the note")
	cmd.AddCommand(rescheduleCmd)

	followUpCmd := &cobra.Command{
		Use:   "follow-up <appointment-id>",
		Short: "Schedule a follow-up visit for an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			at, _ := cmd.Flags().GetString("at")
			t, err := parseTime(at)
			if err != nil {
				return err
			}
			f := &appointment.FollowUp{AppointmentID: id, ScheduledTime: t}
			f.DoctorID, _ = cmd.Flags().GetInt64("doctor")
			f.Note, _ = cmd.Flags().GetString("note")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.appointments.CreateFollowUp(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Follow-up %d scheduled at %s\n", f.ID, f.ScheduledTime.Format(time.RFC3339))
				printSchedule(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	followUpCmd.Flags().String("at", "", "Follow-up time (RFC 3339)")
	followUpCmd.Flags().Int64("doctor", 0, "Doctor id (default: the appointment's doctor)")
	followUpCmd.Flags().String("note", "", "Note")
	cmd.AddCommand(followUpCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments for a patient or a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			doctorID, _ := cmd.Flags().GetInt64("doctor")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			if (userID > 0) == (doctorID > 0) {
				return fmt.Errorf("exactly one of --user or --doctor is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					items []*appointment.Appointment
					total int
					err   error
				)
				p := pagination.New(limit, offset)
				if userID > 0 {
					items, total, err = a.appointments.ListByPatient(ctx, userID, p)
				} else {
					items, total, err = a.appointments.ListByDoctor(ctx, doctorID, p)
				}
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Appointments: %s\n", p.Summary(len(items), total))
				for _, ap := range items {
					fmt.Fprintf(w, "#%-8d %-10s %s doctor=%d patient=%d\n",
						ap.ID, ap.Status, ap.ScheduledTime.Format(time.RFC3339), ap.DoctorID, ap.UserID)
				}
				return nil
			})
		},
	}
	listCmd.Flags().Int64("user", 0, "Patient user id")
	listCmd.Flags().Int64("doctor", 0, "Doctor id")
	listCmd.Flags().Int("limit", pagination.DefaultLimit, "Page size")
	listCmd.Flags().Int("offset", 0, "Page offset")
	cmd.AddCommand(listCmd)

	return cmd
}

// ---------------------------------------------------------------------------
// user
// ---------------------------------------------------------------------------

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &identity.User{}
			u.FullName, _ = cmd.Flags().GetString("name")
			if email, _ := cmd.Flags().GetString("email"); email != "" {
				u.Email = &email
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.users.Register(ctx, u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered user %d\n", u.ID)
				return nil
			})
		},
	}
	addCmd.Flags().String("name", "", "Full name")
	addCmd.Flags().String("email", "", "Email address for reminder emails")
	cmd.AddCommand(addCmd)

	return cmd
}
