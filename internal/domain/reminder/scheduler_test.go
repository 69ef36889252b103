package reminder

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestScheduleReminders_AllOffsetsInFuture(t *testing.T) {
	f := newFixture(t)
	target := f.now.Add(48 * time.Hour)

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, target))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Created) != 3 {
		t.Fatalf("expected 3 reminders, got %d", len(res.Created))
	}
	if res.Skipped != 0 || res.IndexFailures != 0 {
		t.Errorf("skipped=%d index_failures=%d, want 0/0", res.Skipped, res.IndexFailures)
	}

	want := map[time.Time]bool{
		target.Add(-30 * time.Minute): true,
		target.Add(-time.Hour):        true,
		target.Add(-24 * time.Hour):   true,
	}
	for _, n := range res.Created {
		if !want[n.RemindAt] {
			t.Errorf("unexpected remind_at %s", n.RemindAt)
		}
		delete(want, n.RemindAt)
		if n.RemindAt.After(n.ScheduledTime) {
			t.Errorf("remind_at %s after scheduled_time %s", n.RemindAt, n.ScheduledTime)
		}
		if !n.ScheduledTime.Equal(target) {
			t.Errorf("scheduled_time = %s, want %s", n.ScheduledTime, target)
		}
		if n.Sent {
			t.Error("new reminder should not be sent")
		}
		if n.Type != KindAppointment {
			t.Errorf("type = %s, want APPOINTMENT", n.Type)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing reminders for %v", want)
	}

	members := indexedMembers(t, f.mr, 1)
	if len(members) != 3 {
		t.Fatalf("expected 3 index entries, got %v", members)
	}
	for _, n := range res.Created {
		score, err := f.mr.ZScore(f.index.Key(1), strconv.FormatInt(n.ID, 10))
		if err != nil {
			t.Fatalf("zscore %d: %v", n.ID, err)
		}
		if int64(score) != n.RemindAt.UnixMilli() {
			t.Errorf("score for %d = %v, want %d", n.ID, score, n.RemindAt.UnixMilli())
		}
	}
}

func TestScheduleReminders_TooCloseCreatesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, f.now.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Created) != 0 {
		t.Errorf("expected 0 reminders, got %d", len(res.Created))
	}
	if res.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", res.Skipped)
	}
	if f.repo.count() != 0 {
		t.Errorf("expected no rows, got %d", f.repo.count())
	}
	if members := indexedMembers(t, f.mr, 1); len(members) != 0 {
		t.Errorf("expected no index entries, got %v", members)
	}
}

func TestScheduleReminders_PartialOffsets(t *testing.T) {
	f := newFixture(t)

	// 45 minutes out: only the 30m offset is still in the future.
	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, f.now.Add(45*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Created) != 1 || res.Skipped != 2 {
		t.Fatalf("created=%d skipped=%d, want 1/2", len(res.Created), res.Skipped)
	}
	if got := res.Created[0].LeadTime(); got != 30*time.Minute {
		t.Errorf("lead time = %s, want 30m", got)
	}
}

func TestScheduleReminders_DueExactlyNowIsSkipped(t *testing.T) {
	f := newFixture(t)

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, f.now.Add(30*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Created) != 0 {
		t.Errorf("expected offset due exactly now to be skipped, got %d reminders", len(res.Created))
	}
}

func TestScheduleReminders_RendersContent(t *testing.T) {
	f := newFixture(t)
	target := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, target))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range res.Created {
		if n.Title != "Appointment Reminder" {
			t.Errorf("title = %q", n.Title)
		}
		if !strings.Contains(n.Content, "2026-03-05") || !strings.Contains(n.Content, "14:30") {
			t.Errorf("content missing date/time: %q", n.Content)
		}
		if !strings.Contains(n.Content, FormatLeadTime(n.LeadTime())) {
			t.Errorf("content missing lead time: %q", n.Content)
		}
	}
}

func TestScheduleReminders_IndexFailureKeepsRows(t *testing.T) {
	f := newFixture(t)
	f.index.addErr = errBoom

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, f.now.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("index failure should not be returned, got %v", err)
	}
	if res.IndexFailures != 3 {
		t.Errorf("index failures = %d, want 3", res.IndexFailures)
	}
	if f.repo.count() != 3 {
		t.Errorf("expected 3 stored rows, got %d", f.repo.count())
	}
}

func TestScheduleReminders_StoreFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errBoom
	f.repo.createFailAt = 2

	res, err := f.scheduler.ScheduleReminders(context.Background(), f.appointmentRequest(1, f.now.Add(48*time.Hour)))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected the row created before the failure to be reported, got %d", len(res.Created))
	}
	if members := indexedMembers(t, f.mr, 1); len(members) != 1 {
		t.Errorf("expected the stored row to be indexed, got %v", members)
	}
}

func TestStoreReminders_DoesNotIndex(t *testing.T) {
	f := newFixture(t)

	res, err := f.scheduler.StoreReminders(context.Background(), f.appointmentRequest(1, f.now.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if members := indexedMembers(t, f.mr, 1); len(members) != 0 {
		t.Fatalf("expected nothing indexed before IndexReminders, got %v", members)
	}

	f.scheduler.IndexReminders(context.Background(), res)
	if members := indexedMembers(t, f.mr, 1); len(members) != 3 {
		t.Errorf("expected 3 entries after IndexReminders, got %v", members)
	}
}

func TestScheduleReminders_Validation(t *testing.T) {
	f := newFixture(t)
	base := f.appointmentRequest(1, f.now.Add(48*time.Hour))

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"missing user", func(r *Request) { r.UserID = 0 }},
		{"bad kind", func(r *Request) { r.Kind = "BIRTHDAY" }},
		{"zero target", func(r *Request) { r.TargetTime = time.Time{} }},
		{"missing template", func(r *Request) { r.TemplateID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := f.scheduler.ScheduleReminders(context.Background(), req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestScheduleReminders_UnknownTemplate(t *testing.T) {
	f := newFixture(t)
	req := f.appointmentRequest(1, f.now.Add(48*time.Hour))
	req.TemplateID = "no-such-template"

	if _, err := f.scheduler.ScheduleReminders(context.Background(), req); err == nil {
		t.Fatal("expected render error")
	}
	if f.repo.count() != 0 {
		t.Errorf("expected no rows, got %d", f.repo.count())
	}
}

func TestScheduleReminders_RescheduleIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	req := f.appointmentRequest(1, f.now.Add(48*time.Hour))

	for i := 0; i < 2; i++ {
		if _, err := f.scheduler.ScheduleReminders(context.Background(), req); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if f.repo.count() != 6 {
		t.Errorf("expected 6 rows after scheduling twice, got %d", f.repo.count())
	}
}

func TestFormatLeadTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Minute, "30 minutes"},
		{time.Minute, "1 minute"},
		{time.Hour, "1 hour"},
		{90 * time.Minute, "90 minutes"},
		{24 * time.Hour, "24 hours"},
		{48 * time.Hour, "2 days"},
		{45 * time.Second, "45 seconds"},
	}
	for _, tt := range tests {
		if got := FormatLeadTime(tt.in); got != tt.want {
			t.Errorf("FormatLeadTime(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
