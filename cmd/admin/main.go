// Command dupeguard-admin drives a running server's admin API and inspects
// its on-disk state offline.
package main

import (
	"fmt"
	"os"
)

var commands = map[string]func(args []string){
	"profiles":        profilesCmd,
	"profile":         profileCmd,
	"reset":           resetCmd,
	"clear":           clearCmd,
	"kickloop":        kickLoopCmd,
	"config":          configCmd,
	"patch":           patchCmd,
	"incidents":       incidentsCmd,
	"clear-incidents": clearIncidentsCmd,
	"stats":           statsCmd,
	"archive":         archiveCmd,
	"kv":              kvCmd,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
		usage()
		os.Exit(2)
	}
	cmd(os.Args[2:])
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: dupeguard-admin <command> [flags]

live (needs -url, default http://127.0.0.1:8080):
  profiles | profile <name> | reset <name> | clear
  kickloop [-off] [-interval s] <name>
  config get | config set -file cfg.json
  patch [-off] <category>
  incidents [-limit n] [-json] | clear-incidents
  stats

offline:
  archive [-dir d] [-limit n]
  kv [-backend sqlite|badger] [-path p] [-key k]
`)
}
