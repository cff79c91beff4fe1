// Command invctl runs the closed-loop hybrid inverter controller: it
// connects to the telemetry bus, builds the limit-calculator engine and
// mode runner, and optionally exposes an operator console and a websocket
// diagnostics feed.
//
// Grounded on ryansname-powerctl/src/main.go: flag parsing, .env-based
// credential loading, and a SafeGo-style supervised goroutine per
// long-running worker (here govern.TaskGroup, an errgroup.Group wrapping
// that same panic-recovery/backoff loop), finishing with a
// signal.Notify-driven shutdown sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moat-inv/invctl/internal/bus"
	"github.com/moat-inv/invctl/internal/cli"
	"github.com/moat-inv/invctl/internal/config"
	"github.com/moat-inv/invctl/internal/control"
	"github.com/moat-inv/invctl/internal/govern"
	"github.com/moat-inv/invctl/internal/runner"
	"github.com/moat-inv/invctl/internal/statuspush"
)

const (
	fetchWindow  = 5 * time.Second
	tickInterval = 1100 * time.Millisecond
	pushInterval = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "invctl.yaml", "path to the controller's YAML configuration")
	console := flag.Bool("console", false, "launch the interactive operator console")
	statusAddr := flag.String("status-addr", "", "address to serve the websocket diagnostics feed on (empty disables it)")
	statusPath := flag.String("status-path", "/ws", "HTTP path the diagnostics feed is served on")
	flag.Parse()

	log.Println("starting invctl...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		log.Fatalf("credentials: %v", err)
	}

	group, ctx := govern.NewTaskGroup(context.Background())

	paths, bmsPaths, topics := buildPaths(cfg)

	cache := bus.NewCache()
	group.Go("bus-cache", func(ctx context.Context) {
		if err := cache.Connect(ctx, creds.Broker, creds.ClientID, creds.Username, creds.Password, topics, fetchWindow); err != nil && ctx.Err() == nil {
			log.Printf("bus-cache: %v", err)
		}
	})

	damper := &govern.StepDamper{}
	damperFn := func(p, soc float64) float64 {
		return damper.Update(p, soc, govern.DamperConfig{FStep: cfg.FStep, PStep: cfg.PStep, FDelta: cfg.FDelta})
	}
	eng := control.NewEngine(cfg, damperFn)

	bmsAdapter := bus.NewBMS(cache, bmsPaths)
	rnr := runner.NewRunner(cache, eng, cfg, paths, bmsAdapter)

	if err := rnr.Start(ctx); err != nil {
		log.Fatalf("runner: %v", err)
	}

	group.Go("averaging-tick", func(ctx context.Context) {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rnr.Tick()
			}
		}
	})

	if *console {
		group.Go("console", func(ctx context.Context) {
			if err := cli.Run(ctx, group.Cancel, rnr); err != nil {
				log.Printf("console: %v", err)
			}
		})
	}

	if *statusAddr != "" {
		pusher := statuspush.New(rnr, *statusAddr, *statusPath, pushInterval)
		group.Go("statuspush", func(ctx context.Context) {
			if err := pusher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("statuspush: %v", err)
			}
		})
	}

	group.Go("shutdown-signal", func(ctx context.Context) {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Println("shutting down...")
		case <-ctx.Done():
			log.Println("shutting down due to error...")
		}
		group.Cancel()
	})

	_ = group.Wait()
}

// buildPaths composes the bus topic strings spec §6 names, scoped by
// cfg.Name, and returns the full set for the initial bulk fetch alongside
// the runner.Paths/bus.BMSPaths views into it.
func buildPaths(cfg control.Config) (runner.Paths, bus.BMSPaths, []string) {
	ns := cfg.Name
	sys := func(p string) string { return fmt.Sprintf("system%s%s", ns, p) }
	inv := func(p string) string { return fmt.Sprintf("vebus%s%s", ns, p) }
	bms := func(p string) string { return fmt.Sprintf("battery%s%s", ns, p) }

	load := make([]string, cfg.NumPhases)
	pcrit := make([]string, cfg.NumPhases)
	invSet := make([]string, cfg.NumPhases)
	actualP := make([]string, cfg.NumPhases)
	for i := 0; i < cfg.NumPhases; i++ {
		l := i + 1
		load[i] = sys(fmt.Sprintf("/Ac/Consumption/L%d/Power", l))
		pcrit[i] = sys(fmt.Sprintf("/Ac/ConsumptionOnOutput/L%d/Power", l))
		invSet[i] = inv(fmt.Sprintf("/Hub4/L%d/AcPowerSetpoint", l))
		actualP[i] = inv(fmt.Sprintf("/Ac/ActiveIn/L%d/P", l))
	}

	paths := runner.Paths{
		UDC:     sys("/Dc/Battery/Voltage"),
		IPV:     sys("/Dc/Pv/Current"),
		BCap:    bms("/Capacity"),
		UMax:    bms("/Info/MaxChargeVoltage"),
		UMin:    bms("/Info/BatteryLowVoltage"),
		IBMin:   bms("/Info/MaxDischargeCurrent"),
		IBMax:   bms("/Info/MaxChargeCurrent"),
		BattSoc: sys("/Dc/Battery/Soc"),
		// SolarP/PCons read a single representative path rather than an
		// aggregate across phases: the telemetry table names per-phase
		// consumption and PV current, not a pre-summed total topic.
		SolarP:   sys("/Dc/Pv/Current"),
		PCons:    sys("/Ac/Consumption/L1/Power"),
		Load:     load,
		PCrit:    pcrit,
		InvSet:   invSet,
		ActualP:  actualP,
		BattISet: sys("/Dc/Battery/Current"),
		Trigger:  inv("/Ac/ActiveIn/P"),
	}

	bmsPaths := bus.BMSPaths{
		CellVoltageMin:   bms("/Balancing/CellVoltageMin"),
		CellVoltageMax:   bms("/Balancing/CellVoltageMax"),
		LimMax:           bms("/Info/MaxChargeVoltage"),
		ExtMax:           bms("/Info/MaxCellVoltage"),
		LimMin:           bms("/Info/BatteryLowVoltage"),
		ExtMin:           bms("/Info/MinCellVoltage"),
		BalanceDelta:     bms("/Balancing/CellVoltageDelta"),
		ChargedEnergy:    bms("/History/ChargedEnergy"),
		DischargedEnergy: bms("/History/DischargedEnergy"),
		Capacity:         bms("/Capacity"),
		LossFactor:       bms("/History/LossFactor"),
		TopOff:           bms("/Settings/TopOff"),
	}

	seen := map[string]bool{}
	var topics []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		topics = append(topics, p)
	}

	add(paths.UDC)
	add(paths.IPV)
	add(paths.BCap)
	add(paths.UMax)
	add(paths.UMin)
	add(paths.IBMin)
	add(paths.IBMax)
	add(paths.BattSoc)
	add(paths.SolarP)
	add(paths.PCons)
	for _, p := range paths.Load {
		add(p)
	}
	for _, p := range paths.PCrit {
		add(p)
	}
	for _, p := range paths.ActualP {
		add(p)
	}
	add(paths.Trigger)
	add(bmsPaths.CellVoltageMin)
	add(bmsPaths.CellVoltageMax)
	add(bmsPaths.LimMax)
	add(bmsPaths.ExtMax)
	add(bmsPaths.LimMin)
	add(bmsPaths.ExtMin)
	add(bmsPaths.BalanceDelta)
	add(bmsPaths.ChargedEnergy)
	add(bmsPaths.DischargedEnergy)

	return paths, bmsPaths, topics
}
