package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/adminserver"
	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/delivery"
	"github.com/supporttools/GoPanelGuard/pkg/delivery/s3"
	"github.com/supporttools/GoPanelGuard/pkg/delivery/telegram"
	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
	"github.com/supporttools/GoPanelGuard/pkg/panel/bt"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// panelRegistry holds the active panel set. The API mutates it through the
// reload callbacks, the scheduler and manual triggers read it.
type panelRegistry struct {
	mu     sync.RWMutex
	panels map[string]config.PanelConfig
}

func newPanelRegistry(panels []config.PanelConfig) *panelRegistry {
	r := &panelRegistry{}
	r.replace(panels)
	return r
}

func (r *panelRegistry) replace(panels []config.PanelConfig) {
	m := make(map[string]config.PanelConfig, len(panels))
	for _, p := range panels {
		m[p.Name] = p
	}
	r.mu.Lock()
	r.panels = m
	r.mu.Unlock()
}

// lookup resolves an enabled panel to a connection snapshot
func (r *panelRegistry) lookup(name string) (panel.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.panels[name]
	if !ok || !p.Enabled {
		return panel.Connection{}, false
	}
	return panel.Connection{Name: p.Name, URL: p.URL, APIKey: p.APIKey}, true
}

func (r *panelRegistry) all() []config.PanelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.PanelConfig, 0, len(r.panels))
	for _, p := range r.panels {
		out = append(out, p)
	}
	return out
}

func main() {
	log.Println("Starting GoPanelGuard...")

	config.LoadConfiguration()
	if err := config.ValidateConfig(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	if config.CFG.Debug {
		config.DisplayConfiguration()
	}

	if err := history.Initialize(); err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}

	var sweeper *history.RetentionSweeper
	if retention, _ := time.ParseDuration(config.CFG.HistoryRetention); retention > 0 {
		sweeper = history.NewRetentionSweeper(history.DefaultStore, retention, 6*time.Hour)
		sweeper.Start()
	}

	registry := newPanelRegistry(config.CFG.Panels)

	// Seed the config tables from YAML on first run, then prefer the
	// database as the source of truth
	if config.CFG.HistoryDB.Enabled && history.DB != nil {
		panelRepo := history.NewPanelRepository(history.DB)
		if err := panelRepo.SeedFromConfig(config.CFG.Panels); err != nil {
			log.Printf("Warning: failed to seed panel configurations: %v", err)
		}
		scheduleRepo := history.NewScheduleRepository(history.DB)
		if err := scheduleRepo.SeedFromConfig(config.CFG.Schedules); err != nil {
			log.Printf("Warning: failed to seed schedule rules: %v", err)
		}
		if err := reloadPanelsFromDatabase(registry); err != nil {
			log.Printf("Warning: failed to load panels from database: %v", err)
		}
	}

	panelTimeout, _ := time.ParseDuration(config.CFG.Runner.PanelTimeout)
	clients := func(conn panel.Connection) panel.Client {
		return bt.NewClient(conn, panelTimeout)
	}

	channel, err := buildDeliveryChannel()
	if err != nil {
		log.Fatalf("Failed to initialize delivery channel: %v", err)
	}
	channelName := config.CFG.Delivery.Channel

	locks := jobs.NewLockTable()
	runner := jobs.NewRunner(locks, history.DefaultStore, channel, channelName,
		clients, jobs.OptionsFromConfig(config.CFG.Runner))
	pool := jobs.NewPool(runner, locks, config.CFG.Runner.Workers, config.CFG.Runner.QueueSize)

	tick, _ := time.ParseDuration(config.CFG.Scheduler.TickInterval)
	sched := scheduler.New(pool, registry.lookup, tick)

	reloadRules := func() error {
		return reloadSchedulerRules(sched)
	}
	if err := reloadRules(); err != nil {
		log.Fatalf("Failed to load schedule rules: %v", err)
	}
	sched.Start()

	adminSrv := adminserver.NewServer(adminserver.Options{
		Store:       history.DefaultStore,
		Pool:        pool,
		Scheduler:   sched,
		Lookup:      registry.lookup,
		Clients:     clients,
		Panels:      registry.all,
		ChannelName: channelName,
		ReloadPanels: func() error {
			return reloadPanelsFromDatabase(registry)
		},
		ReloadRules: reloadRules,
	})
	httpServer := adminSrv.Start()

	setupSignalHandling(sched, pool, sweeper, httpServer)

	log.Println("GoPanelGuard is running. Press Ctrl+C to exit.")
	select {}
}

// buildDeliveryChannel constructs the configured delivery channel
func buildDeliveryChannel() (delivery.Channel, error) {
	switch config.CFG.Delivery.Channel {
	case "telegram":
		return telegram.NewChannel(config.CFG.Delivery.Telegram)
	case "s3":
		return s3.NewChannel(config.CFG.Delivery.S3)
	default:
		return nil, fmt.Errorf("unknown delivery channel: %q", config.CFG.Delivery.Channel)
	}
}

// reloadPanelsFromDatabase replaces the registry contents with the panel
// table. A no-op when the history database is disabled.
func reloadPanelsFromDatabase(registry *panelRegistry) error {
	if history.DB == nil {
		return nil
	}

	repo := history.NewPanelRepository(history.DB)
	entries, err := repo.GetAllPanels()
	if err != nil {
		return err
	}

	panels := make([]config.PanelConfig, 0, len(entries))
	for _, e := range entries {
		panels = append(panels, e.ToPanelConfig())
	}
	registry.replace(panels)
	log.Printf("Loaded %d panel configurations from database", len(panels))
	return nil
}

// reloadSchedulerRules rebuilds the scheduler rule set from the database,
// falling back to the YAML configuration when the database is disabled
func reloadSchedulerRules(sched *scheduler.Scheduler) error {
	var rules []scheduler.Rule

	if history.DB != nil {
		repo := history.NewScheduleRepository(history.DB)
		entries, err := repo.GetAllSchedules()
		if err != nil {
			return err
		}
		for _, e := range entries {
			rules = append(rules, e.ToRule())
		}
	} else {
		rules = scheduler.RulesFromConfig(config.CFG.Schedules)
	}

	return sched.SetRules(rules)
}

// setupSignalHandling configures graceful shutdown on SIGINT or SIGTERM
func setupSignalHandling(sched *scheduler.Scheduler, pool *jobs.Pool, sweeper *history.RetentionSweeper, httpServer *http.Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		fmt.Printf("Received signal %s, shutting down...\n", sig)

		sched.Stop()

		// Let in-flight jobs reach a checkpoint before exiting
		pool.Stop()

		if sweeper != nil {
			sweeper.Stop()
		}

		if httpServer != nil {
			if err := httpServer.Close(); err != nil {
				log.Printf("Error shutting down HTTP server: %v", err)
			}
		}

		if err := history.Close(); err != nil {
			log.Printf("Error closing history database: %v", err)
		}

		os.Exit(0)
	}()
}
