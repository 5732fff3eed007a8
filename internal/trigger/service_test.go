package trigger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"audiocast/internal/config"
	logx "audiocast/pkg/logx"
)

func dest(id, at, tz string) config.Destination {
	return config.Destination{ID: id, Token: "tok", ChatID: "1", Enabled: true, TriggerTime: at, Timezone: tz}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    config.Destination
		tz   string
		want string
	}{
		{name: "explicit zone", d: dest("a", "09:30", "Europe/Berlin"), want: "CRON_TZ=Europe/Berlin 30 9 * * *"},
		{name: "global fallback", d: dest("a", "07:05", ""), tz: "Asia/Jakarta", want: "CRON_TZ=Asia/Jakarta 5 7 * * *"},
		{name: "utc default", d: dest("a", "23:59", ""), want: "CRON_TZ=UTC 59 23 * * *"},
		{name: "default time", d: dest("a", "", "UTC"), want: "CRON_TZ=UTC 0 9 * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := cronSpec(tt.d, tt.tz)
			if err != nil {
				t.Fatalf("cronSpec error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("spec = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := cronSpec(dest("a", "25:00", "UTC"), ""); err == nil {
		t.Fatal("expected error for invalid trigger time")
	}
	if _, err := cronSpec(dest("a", "09:00", "Mars/Olympus"), ""); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

// The wall-clock fire time must survive a DST transition: the local hour
// stays put while the UTC instant shifts.
func TestCronSpecAcrossDSTTransition(t *testing.T) {
	t.Parallel()
	spec, err := cronSpec(dest("a", "09:00", "America/New_York"), "")
	if err != nil {
		t.Fatal(err)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		t.Fatalf("ParseStandard(%q): %v", spec, err)
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// 2026-03-08: US DST begins at 02:00 local.
	before := sched.Next(time.Date(2026, 3, 7, 0, 0, 0, 0, loc))
	after := sched.Next(time.Date(2026, 3, 8, 0, 0, 0, 0, loc))

	for _, fire := range []time.Time{before, after} {
		if got := fire.In(loc); got.Hour() != 9 || got.Minute() != 0 {
			t.Fatalf("local fire time = %v, want 09:00", got)
		}
	}
	// EST fire is 14:00 UTC, EDT fire is 13:00 UTC.
	if before.UTC().Hour() != 14 {
		t.Fatalf("pre-DST fire = %v, want 14:00 UTC", before.UTC())
	}
	if after.UTC().Hour() != 13 {
		t.Fatalf("post-DST fire = %v, want 13:00 UTC", after.UTC())
	}
}

func TestReloadBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(func(context.Context, config.Destination) {}, logx.Nop())

	disabled := dest("off", "09:00", "UTC")
	disabled.Enabled = false
	s.Reload("", []config.Destination{
		dest("a", "09:00", "UTC"),
		dest("bad", "99:00", "UTC"),
		disabled,
	})

	if len(s.jobs) != 1 {
		t.Fatalf("jobs = %d, want only the valid enabled destination", len(s.jobs))
	}
	if _, ok := s.jobs["a"]; !ok {
		t.Fatal("destination a missing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	up := s.Upcoming()
	if len(up) != 1 || up[0].DestinationID != "a" {
		t.Fatalf("Upcoming = %+v", up)
	}
	if up[0].At.IsZero() {
		t.Fatal("next fire not computed")
	}
}

func TestReloadWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(func(context.Context, config.Destination) {}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	s.Reload("", []config.Destination{
		dest("a", "09:00", "UTC"),
		dest("b", "10:00", "UTC"),
	})
	if got := len(s.Upcoming()); got != 2 {
		t.Fatalf("Upcoming = %d entries, want 2", got)
	}
	entryA := s.jobs["a"].entry

	// b removed, a unchanged, c added. a must keep its cron entry.
	s.Reload("", []config.Destination{
		dest("a", "09:00", "UTC"),
		dest("c", "11:00", "UTC"),
	})
	up := s.Upcoming()
	if len(up) != 2 {
		t.Fatalf("Upcoming = %+v, want a and c", up)
	}
	for _, u := range up {
		if u.DestinationID == "b" {
			t.Fatal("removed destination still scheduled")
		}
	}
	if s.jobs["a"].entry != entryA {
		t.Fatal("unchanged destination was rescheduled")
	}

	// Changing the trigger time replaces the entry.
	s.Reload("", []config.Destination{
		dest("a", "12:30", "UTC"),
		dest("c", "11:00", "UTC"),
	})
	if s.jobs["a"].entry == entryA {
		t.Fatal("changed destination kept its stale entry")
	}
	for _, u := range s.Upcoming() {
		if u.DestinationID == "a" && !strings.Contains(u.Spec, "30 12") {
			t.Fatalf("spec not updated: %q", u.Spec)
		}
	}
}

func TestSameDefinition(t *testing.T) {
	t.Parallel()
	a := dest("a", "09:00", "UTC")
	a.Schedules = []string{"schedule.csv"}

	b := a
	if !sameDefinition(a, b) {
		t.Fatal("identical definitions reported different")
	}

	b = a
	b.CreatedAt = "2026-01-01"
	if !sameDefinition(a, b) {
		t.Fatal("created_at must not count as a definition change")
	}

	b = a
	b.Token = "other"
	if sameDefinition(a, b) {
		t.Fatal("token change not detected")
	}

	b = a
	b.Schedules = []string{"schedule_b.csv"}
	if sameDefinition(a, b) {
		t.Fatal("schedule list change not detected")
	}
}

func TestRunOnePanicRecovered(t *testing.T) {
	t.Parallel()
	s := New(func(context.Context, config.Destination) { panic("dispatch blew up") }, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// Must not propagate.
	s.runOne(dest("a", "09:00", "UTC"))
}

func TestRunOneSkipsAfterShutdown(t *testing.T) {
	t.Parallel()
	fired := false
	s := New(func(context.Context, config.Destination) { fired = true }, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer s.Stop(context.Background())

	cancel()
	s.runOne(dest("a", "09:00", "UTC"))
	if fired {
		t.Fatal("fired after base context cancel")
	}
}
