// Command replay runs a scenario headless through the engine against an
// in-memory store and prints what was detected. Useful for checking a
// signature catalog or a config document before deploying it.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"dupeguard.ai/internal/engine"
	"dupeguard.ai/internal/engine/catalog"
	"dupeguard.ai/internal/engine/settings"
	"dupeguard.ai/internal/logging"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/sim/world"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario yaml to run")
		catalogPath  = flag.String("catalog", "", "signature catalog yaml (optional)")
		configPath   = flag.String("config", "", "engine config json (optional)")
		ticks        = flag.Int("ticks", 200, "ticks to run")
		logLevel     = flag.String("log", "warn", "log level")
	)
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "missing -scenario")
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: *logLevel, Format: "console"})

	s, err := world.LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load scenario:", err)
		os.Exit(1)
	}
	w := world.NewFromScenario(s)

	cat := catalog.Defaults()
	if *catalogPath != "" {
		if cat, err = catalog.Load(*catalogPath); err != nil {
			fmt.Fprintln(os.Stderr, "load catalog:", err)
			os.Exit(1)
		}
	}

	// The clock follows the simulated tick, not the wall.
	start := time.Unix(0, 0).UTC()
	var tick int
	eng := engine.New(engine.Options{
		World:   w,
		Surface: kv.NewMemory(0),
		Catalog: cat,
		Now:     func() time.Time { return start.Add(time.Duration(tick) * 50 * time.Millisecond) },
		Logger:  logging.Component("engine"),
	})
	eng.Load()

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read config:", err)
			os.Exit(1)
		}
		g, err := settings.Decode(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		eng.UpdateConfig(func(cur *settings.GlobalConfig) { *cur = g })
	}

	for tick = 0; tick < *ticks; tick++ {
		eng.Step()
	}

	fmt.Printf("replay world=%s ticks=%d catalog=%s\n", w.ID(), *ticks, cat.Digest())
	es := eng.Incidents().Newest(0)
	for i := len(es) - 1; i >= 0; i-- {
		fmt.Println(es[i].Text())
	}
	for _, k := range w.Kicks() {
		fmt.Printf("kick actor=%s reason=%q\n", k.Name, k.Reason)
	}
	b, _ := json.Marshal(eng.StatsValue())
	fmt.Println("stats", string(b))
}
