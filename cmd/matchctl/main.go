// matchctl is the operational CLI for the batch daemon: fire a run,
// inspect batches, cancel one, or check health over the admin API.
//
// Exit codes: 0 success, 1 user error, 2 transient failure (retry may
// help), 3 fatal.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ignite/jobmatch-batch/internal/pkg/httpretry"
)

const (
	exitOK        = 0
	exitUserError = 1
	exitTransient = 2
	exitFatal     = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: matchctl [-addr host:port] <command> [args]

Commands:
  run-now              start a batch immediately
  status <batch_id>    show one batch
  list [--status s]    list recent batches
  cancel <batch_id>    cancel a running batch
  health               daemon health and scheduler state
`)
}

func main() {
	addr := flag.String("addr", envOr("BATCHD_ADDR", "127.0.0.1:8085"), "admin API address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(exitUserError)
	}

	c := &client{
		base: "http://" + *addr,
		http: httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2),
	}

	var code int
	switch args[0] {
	case "run-now":
		code = c.post("/api/batches/run", nil)
	case "status":
		if len(args) != 2 {
			usage()
			code = exitUserError
			break
		}
		code = c.get("/api/batches/" + url.PathEscape(args[1]))
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		status := fs.String("status", "", "filter by batch status")
		if err := fs.Parse(args[1:]); err != nil {
			code = exitUserError
			break
		}
		path := "/api/batches"
		if *status != "" {
			path += "?status=" + url.QueryEscape(*status)
		}
		code = c.get(path)
	case "cancel":
		if len(args) != 2 {
			usage()
			code = exitUserError
			break
		}
		code = c.post("/api/batches/"+url.PathEscape(args[1])+"/cancel", nil)
	case "health":
		code = c.get("/health")
	default:
		fmt.Fprintf(os.Stderr, "matchctl: unknown command %q\n", args[0])
		usage()
		code = exitUserError
	}
	os.Exit(code)
}

type client struct {
	base string
	http httpretry.HTTPDoer
}

func (c *client) get(path string) int {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.base+path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchctl: %v\n", err)
		return exitFatal
	}
	resp, err := c.http.Do(req)
	return c.render(resp, err)
}

func (c *client) post(path string, body []byte) int {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchctl: %v\n", err)
		return exitFatal
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	return c.render(resp, err)
}

// render prints the response body (pretty-printed when it is JSON) and
// maps the HTTP outcome onto the exit code contract.
func (c *client) render(resp *http.Response, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchctl: %v\n", err)
		return exitTransient
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchctl: read response: %v\n", err)
		return exitTransient
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		os.Stdout.Write(raw)
	}

	switch {
	case resp.StatusCode < 300:
		return exitOK
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict:
		return exitUserError
	case resp.StatusCode >= 500:
		return exitTransient
	default:
		return exitFatal
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
