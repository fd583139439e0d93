// Package scheduler manages recurring backup schedule rules and enqueues
// jobs at due times.
package scheduler

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/supporttools/GoPanelGuard/pkg/jobs"
	"github.com/supporttools/GoPanelGuard/pkg/metrics"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// Rule is one recurring backup definition for a (panel, database) pair
type Rule struct {
	ID         string
	PanelName  string
	Database   panel.Database
	Kind       string // hourly, daily, weekly or custom
	AnchorTime string // "HH:MM"; minute only for hourly rules
	AnchorDay  int    // weekly rules, 0 = Monday
	CronExpr   string // custom rules
	Enabled    bool
}

// ConnectionLookup resolves a panel name to its connection snapshot
type ConnectionLookup func(name string) (panel.Connection, bool)

// entry tracks one rule's next fire time
type entry struct {
	rule     Rule
	schedule cron.Schedule
	next     time.Time
}

// Scheduler runs the due-check tick loop. The tick timer is independent of
// job execution: enqueueing never blocks on a running backup.
type Scheduler struct {
	pool   *jobs.Pool
	lookup ConnectionLookup
	tick   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a scheduler over the job pool
func New(pool *jobs.Pool, lookup ConnectionLookup, tick time.Duration) *Scheduler {
	return &Scheduler{
		pool:    pool,
		lookup:  lookup,
		tick:    tick,
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetRules replaces the rule set. Disabled rules are dropped; each enabled
// rule gets its next fire time computed from now.
func (s *Scheduler) SetRules(rules []Rule) error {
	now := s.now()
	entries := make(map[string]*entry)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		schedule, err := BuildSchedule(rule)
		if err != nil {
			return fmt.Errorf("rule %s (%s/%s): %w", rule.ID, rule.PanelName, rule.Database.Name, err)
		}
		entries[rule.ID] = &entry{
			rule:     rule,
			schedule: schedule,
			next:     schedule.Next(now),
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	metrics.ScheduledRules.Set(float64(len(entries)))
	log.Printf("Scheduler loaded %d enabled rules", len(entries))
	return nil
}

// Start begins the due-check tick loop
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		log.Printf("Scheduler started (tick every %s)", s.tick)
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.checkDue(s.now())
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	log.Println("Scheduler stopped")
}

// checkDue enqueues a job for every due rule. A rule whose pair still has an
// active job is logged as a missed tick and skipped, and its next fire time
// advances regardless, so a stuck job never accumulates a backlog.
func (s *Scheduler) checkDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}

		rule := e.rule
		if s.pool.Busy(rule.PanelName, rule.Database.Name) {
			log.Printf("Scheduler: missed tick for %s/%s, previous job still active",
				rule.PanelName, rule.Database.Name)
			metrics.MissedTicks.WithLabelValues(rule.PanelName, rule.Database.Name).Inc()
		} else if conn, ok := s.lookup(rule.PanelName); !ok {
			log.Printf("Scheduler: rule %s references unknown panel %s, skipping", rule.ID, rule.PanelName)
		} else if _, err := s.pool.Trigger(conn, rule.Database, jobs.TriggerScheduled); err != nil {
			log.Printf("Scheduler: failed to enqueue job for %s/%s: %v",
				rule.PanelName, rule.Database.Name, err)
		}

		// Next fire advances past now whether or not a job was enqueued.
		for !e.next.After(now) {
			e.next = e.schedule.Next(e.next)
		}
	}
}

// EntryStatus is the admin view of one scheduled rule
type EntryStatus struct {
	Rule     Rule      `json:"rule"`
	NextFire time.Time `json:"nextFire"`
}

// Entries returns the current rule set with next fire times
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryStatus{Rule: e.rule, NextFire: e.next})
	}
	return out
}

// BuildSchedule converts a rule's recurrence into a schedule. Custom rules
// use standard five-field cron expressions.
func BuildSchedule(rule Rule) (cron.Schedule, error) {
	switch rule.Kind {
	case "hourly":
		_, minute, err := parseAnchor(rule.AnchorTime)
		if err != nil {
			return nil, err
		}
		return hourlySchedule{minute: minute}, nil

	case "daily":
		hour, minute, err := parseAnchor(rule.AnchorTime)
		if err != nil {
			return nil, err
		}
		return dailySchedule{hour: hour, minute: minute}, nil

	case "weekly":
		hour, minute, err := parseAnchor(rule.AnchorTime)
		if err != nil {
			return nil, err
		}
		if rule.AnchorDay < 0 || rule.AnchorDay > 6 {
			return nil, fmt.Errorf("invalid anchor day %d", rule.AnchorDay)
		}
		// Rules count days from Monday; time.Weekday counts from Sunday.
		weekday := time.Weekday((rule.AnchorDay + 1) % 7)
		return weeklySchedule{weekday: weekday, hour: hour, minute: minute}, nil

	case "custom":
		schedule, err := cron.ParseStandard(rule.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", rule.CronExpr, err)
		}
		return schedule, nil

	default:
		return nil, fmt.Errorf("unknown recurrence kind %q", rule.Kind)
	}
}

// parseAnchor parses "HH:MM"
func parseAnchor(anchor string) (hour, minute int, err error) {
	parts := strings.Split(anchor, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid anchor time %q", anchor)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid anchor time %q", anchor)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid anchor time %q", anchor)
	}
	return hour, minute, nil
}

// hourlySchedule fires at a fixed minute of every hour
type hourlySchedule struct {
	minute int
}

func (h hourlySchedule) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), h.minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.Add(time.Hour)
	}
	return next
}

// dailySchedule fires at a fixed time every day
type dailySchedule struct {
	hour   int
	minute int
}

func (d dailySchedule) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// weeklySchedule fires at a fixed weekday and time every week
type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (w weeklySchedule) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), w.hour, w.minute, 0, 0, t.Location())
	days := (int(w.weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
