package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	rpcCheckTimeout       = 5 * time.Second
	rpcCongestedThreshold = 1500 * time.Millisecond
	apiHealthTimeout      = 5 * time.Second
)

type endpointHealth struct {
	Status  string
	Latency time.Duration
	Detail  string
}

type apiHealthResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Warnings []string `json:"warnings"`
}

var (
	checkAPIHealthFunc       = checkAPIHealth
	checkRPCFunc             = checkRPC
	rpcStatusFromLatencyFunc = rpcStatusFromLatency
)

// Health checks facilitator API and network RPC health.
func Health() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var wg sync.WaitGroup

	var apiStatus endpointHealth
	var apiWarnings []string
	var baseStatus endpointHealth
	var sepoliaStatus endpointHealth

	wg.Add(3)
	go func() {
		defer wg.Done()
		apiStatus, apiWarnings = checkAPIHealthFunc(config.API.Endpoint)
	}()
	go func() {
		defer wg.Done()
		baseStatus = checkRPCFunc(config.RPC.Base)
	}()
	go func() {
		defer wg.Done()
		sepoliaStatus = checkRPCFunc(config.RPC.BaseSepolia)
	}()
	wg.Wait()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║           Tollgate Health                ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("API:")
	printHealthLine("Facilitator", config.API.Endpoint, apiStatus)
	for _, warning := range apiWarnings {
		fmt.Printf("    Warning: %s\n", warningStyle.Render(warning))
	}
	fmt.Println()

	fmt.Println("RPC Networks:")
	printHealthLine("Base", config.RPC.Base, baseStatus)
	printHealthLine("Base Sepolia", config.RPC.BaseSepolia, sepoliaStatus)
	fmt.Println()
	fmt.Println("Legend:")
	fmt.Println("  up        - endpoint responded normally")
	fmt.Println("  congested - endpoint responded but latency exceeded threshold")
	fmt.Println("  down      - endpoint did not respond before timeout")
	fmt.Println()

	return nil
}

func checkAPIHealth(baseURL string) (endpointHealth, []string) {
	healthURL := strings.TrimRight(baseURL, "/") + "/health"
	client := &http.Client{Timeout: apiHealthTimeout}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, healthURL, nil)
	if err != nil {
		return endpointHealth{
			Status: "down",
			Detail: err.Error(),
		}, nil
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return endpointHealth{
			Status:  "down",
			Latency: latency,
			Detail:  err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return endpointHealth{
			Status:  "down",
			Latency: latency,
			Detail:  fmt.Sprintf("HTTP %d", resp.StatusCode),
		}, nil
	}

	var body apiHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return endpointHealth{
			Status:  "down",
			Latency: latency,
			Detail:  "invalid health response",
		}, nil
	}

	// Map API-level degraded to "congested" for a consistent health vocabulary.
	switch body.Status {
	case "healthy":
		return endpointHealth{
			Status:  "up",
			Latency: latency,
			Detail:  versionDetail(body.Version),
		}, body.Warnings
	case "degraded":
		return endpointHealth{
			Status:  "congested",
			Latency: latency,
			Detail:  "reported degraded",
		}, body.Warnings
	default:
		return endpointHealth{
			Status:  "down",
			Latency: latency,
			Detail:  fmt.Sprintf("reported %q", body.Status),
		}, body.Warnings
	}
}

func versionDetail(version string) string {
	if version == "" {
		return ""
	}
	return "version " + version
}

func checkRPC(rpcURL string) endpointHealth {
	ctx, cancel := context.WithTimeout(context.Background(), rpcCheckTimeout)
	defer cancel()

	start := time.Now()
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return endpointHealth{
			Status:  "down",
			Latency: time.Since(start),
			Detail:  err.Error(),
		}
	}
	defer client.Close()

	if _, err := client.BlockNumber(ctx); err != nil {
		return endpointHealth{
			Status:  "down",
			Latency: time.Since(start),
			Detail:  err.Error(),
		}
	}

	latency := time.Since(start)
	return endpointHealth{
		Status:  rpcStatusFromLatencyFunc(latency),
		Latency: latency,
	}
}

func rpcStatusFromLatency(latency time.Duration) string {
	if latency > rpcCongestedThreshold {
		return "congested"
	}
	return "up"
}

func printHealthLine(name, target string, health endpointHealth) {
	status := healthStatusText(health.Status)
	fmt.Printf("  %-13s %s (%s)\n", name+":", status, target)
	if health.Latency > 0 {
		fmt.Printf("    Latency: %s\n", health.Latency.Round(time.Millisecond))
	}
	if health.Detail != "" {
		fmt.Printf("    Detail:  %s\n", health.Detail)
	}
}

func healthStatusText(status string) string {
	switch status {
	case "up":
		return successStyle.Render(status)
	case "congested":
		return warningStyle.Render(status)
	default:
		return errorStyle.Render(status)
	}
}
