package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

type healthResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Status               string `json:"status"`
		Timestamp            string `json:"timestamp"`
		BusConnected         *bool  `json:"bus_connected"`
		DashboardConnections int    `json:"dashboard_connections"`
		NotificationsEnabled bool   `json:"notifications_enabled"`
	} `json:"data"`
}

func main() {
	url := pflag.String("url", "http://localhost:3000/api/health", "health endpoint to probe")
	timeout := pflag.Duration("timeout", 5*time.Second, "request timeout")
	pflag.Parse()

	fmt.Println("smartbin Health Check Utility")
	fmt.Println("-----------------------------")

	health, err := checkServiceHealth(*url, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status:                %s\n", health.Data.Status)
	fmt.Printf("Server time:           %s\n", health.Data.Timestamp)
	if health.Data.BusConnected != nil {
		fmt.Printf("Bus connected:         %t\n", *health.Data.BusConnected)
	}
	fmt.Printf("Dashboard connections: %d\n", health.Data.DashboardConnections)
	fmt.Printf("Notifications enabled: %t\n", health.Data.NotificationsEnabled)

	if health.Data.BusConnected != nil && !*health.Data.BusConnected {
		fmt.Println("Service is up but NOT receiving telemetry!")
		os.Exit(1)
	}
	fmt.Println("Service is healthy!")
}

func checkServiceHealth(url string, timeout time.Duration) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !health.Success || health.Data.Status != "ok" {
		return nil, fmt.Errorf("service reported status %q", health.Data.Status)
	}
	return &health, nil
}
