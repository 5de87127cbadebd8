package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type client struct {
	base string
	hc   *http.Client
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	return fs, baseURL
}

func newClient(baseURL string) *client {
	return &client{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:   &http.Client{Timeout: 5 * time.Second},
	}
}

// do prints the response body and exits 1 on a transport error or a non-2xx
// status.
func (c *client) do(method, path string, body any) {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		raw = b
	}
	c.doRaw(method, path, raw)
}

func (c *client) doRaw(method, path string, raw []byte) {
	var rd io.Reader
	if raw != nil {
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func nameArg(fs *flag.FlagSet, cmd string) string {
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintf(os.Stderr, "usage: dupeguard-admin %s [flags] <name>\n", cmd)
		os.Exit(2)
	}
	return url.PathEscape(fs.Arg(0))
}

func profilesCmd(args []string) {
	fs, u := newFlagSet("profiles")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodGet, "/admin/v1/profiles", nil)
}

func profileCmd(args []string) {
	fs, u := newFlagSet("profile")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodGet, "/admin/v1/profiles/"+nameArg(fs, "profile"), nil)
}

func resetCmd(args []string) {
	fs, u := newFlagSet("reset")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodPost, "/admin/v1/profiles/"+nameArg(fs, "reset")+"/reset", nil)
}

func clearCmd(args []string) {
	fs, u := newFlagSet("clear")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodDelete, "/admin/v1/profiles", nil)
}

func kickLoopCmd(args []string) {
	fs, u := newFlagSet("kickloop")
	off := fs.Bool("off", false, "disable instead of enable")
	interval := fs.Int("interval", 0, "seconds between kicks (0 uses the default)")
	_ = fs.Parse(args)
	body := map[string]any{"enabled": !*off, "interval_seconds": *interval}
	newClient(*u).do(http.MethodPut, "/admin/v1/profiles/"+nameArg(fs, "kickloop")+"/kickloop", body)
}

func configCmd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dupeguard-admin config get|set [flags]")
		os.Exit(2)
	}
	switch args[0] {
	case "get":
		fs, u := newFlagSet("config get")
		_ = fs.Parse(args[1:])
		newClient(*u).do(http.MethodGet, "/admin/v1/config", nil)
	case "set":
		fs, u := newFlagSet("config set")
		path := fs.String("file", "", "config json document (- for stdin)")
		_ = fs.Parse(args[1:])
		raw, err := readInput(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		newClient(*u).doRaw(http.MethodPut, "/admin/v1/config", raw)
	default:
		fmt.Fprintln(os.Stderr, "unknown config subcommand:", args[0])
		os.Exit(2)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func patchCmd(args []string) {
	fs, u := newFlagSet("patch")
	off := fs.Bool("off", false, "disable the patch")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodPut, "/admin/v1/config/patches/"+nameArg(fs, "patch"), map[string]bool{"enabled": !*off})
}

func incidentsCmd(args []string) {
	fs, u := newFlagSet("incidents")
	limit := fs.Int("limit", 0, "max entries, newest first (0 for all)")
	asJSON := fs.Bool("json", false, "print json instead of log lines")
	_ = fs.Parse(args)
	q := url.Values{}
	if *limit > 0 {
		q.Set("limit", fmt.Sprint(*limit))
	}
	if !*asJSON {
		q.Set("format", "text")
	}
	path := "/admin/v1/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	newClient(*u).do(http.MethodGet, path, nil)
}

func clearIncidentsCmd(args []string) {
	fs, u := newFlagSet("clear-incidents")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodDelete, "/admin/v1/incidents", nil)
}

func statsCmd(args []string) {
	fs, u := newFlagSet("stats")
	_ = fs.Parse(args)
	newClient(*u).do(http.MethodGet, "/admin/v1/stats", nil)
}
