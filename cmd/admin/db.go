package main

import (
	"flag"
	"fmt"
	"os"

	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/persistence/kv"
	persistlog "dupeguard.ai/internal/persistence/log"
)

// archiveCmd reads the hourly incident archive offline, without a server.
func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dir := fs.String("dir", "./data/incidents", "incident archive directory")
	limit := fs.Int("limit", 50, "newest entries to print (0 for all)")
	_ = fs.Parse(args)

	es, err := persistlog.ReadIncidents(*dir, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}
	// ReadIncidents is oldest first; print newest first like the live log.
	for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
		es[i], es[j] = es[j], es[i]
	}
	fmt.Println(incidents.Export(es))
}

// kvCmd dumps one persisted record straight from a stopped server's store.
func kvCmd(args []string) {
	fs := flag.NewFlagSet("kv", flag.ExitOnError)
	backend := fs.String("backend", "sqlite", "sqlite or badger")
	path := fs.String("path", "./data/dupeguard.sqlite", "store path")
	key := fs.String("key", "antidupe:registry", "record key")
	_ = fs.Parse(args)

	var (
		s   kv.Surface
		err error
	)
	switch *backend {
	case "sqlite":
		s, err = kv.OpenSQLite(*path, 0)
	case "badger":
		s, err = kv.OpenBadger(*path, 0)
	default:
		fmt.Fprintln(os.Stderr, "unknown backend:", *backend)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.(kv.Closer).Close()

	v, ok, err := s.Get(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "not found:", *key)
		os.Exit(1)
	}
	fmt.Println(string(v))
}
