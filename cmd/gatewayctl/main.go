package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

var version = "dev"

// loadEnvFile reads ~/.gateway/env (written by an operator's startup
// script) and sets any key=value pairs not already present in the process
// environment, so gatewayctl works out of the box without shell profile
// configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.gateway/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("gatewayctl %s\n", version)
	case "status", "health":
		printJSON(doGet("/api/v1/health"))
	case "models":
		printJSON(doGet("/api/v1/models"))
	case "circuits":
		printJSON(doGet("/admin/v1/circuits"))
	case "provider-health":
		printJSON(doGet("/admin/v1/health"))
	case "cache":
		printJSON(doGet("/admin/v1/cache"))
	case "budgets":
		doBudgets(args)
	case "events":
		doEvents()
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `gatewayctl — CLI for the gateway's admin API

Usage: gatewayctl <command> [arguments]

Environment:
  GATEWAY_URL          Base URL (default: http://localhost:8080)
  GATEWAY_ADMIN_TOKEN  Bearer token for admin endpoints

  ~/.gateway/env       Auto-sourced on startup. Explicit environment
                       variables take precedence.

Commands:
  status | health            Show aggregate provider health
  models                     List known logical models and capabilities
  circuits                   Show per-provider circuit breaker state
  provider-health            Show full per-provider health stats
  cache                      Show cache hit/miss counters
  budgets --user U [--project P]
                             Show current budgets and spend for a caller
  events                     Stream the routing trace sink (SSE)

  version                    Show version
  help                       Show this help

Examples:
  gatewayctl status
  gatewayctl circuits
  gatewayctl budgets --user alice
  gatewayctl events
`)
}

func baseURL() string {
	if u := os.Getenv("GATEWAY_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("GATEWAY_ADMIN_TOKEN")
}

func doRequest(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest(http.MethodGet, path)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fatal(fmt.Errorf("decode response: %w", err))
	}
	return result
}

func doBudgets(args []string) {
	userID, projectID := "", ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user":
			i++
			if i < len(args) {
				userID = args[i]
			}
		case "--project":
			i++
			if i < len(args) {
				projectID = args[i]
			}
		}
	}
	path := fmt.Sprintf("/admin/v1/budgets?userId=%s&projectId=%s", userID, projectID)
	printJSON(doGet(path))
}

// doEvents opens the admin SSE stream and prints each event line as it
// arrives, until the process is interrupted.
func doEvents() {
	resp, err := doRequest(http.MethodGet, "/admin/v1/events")
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fmt.Println(line)
	}
}

func printJSON(v map[string]any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
