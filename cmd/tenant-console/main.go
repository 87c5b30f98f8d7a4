// Command tenant-console runs the tenant-wide conversation overview as a
// line-oriented terminal client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-console-core/internal/console/tenant"
	"chat-console-core/internal/env"
)

func main() {
	_ = godotenv.Load()
	serveMetrics()

	c, err := tenant.New(tenant.Config{
		BaseURL:     env.MustGet(env.APIBaseURL),
		RealtimeURL: env.Get(env.RealtimeURL),
		Token:       env.MustGet(env.BearerToken),
	})
	if err != nil {
		log.Fatalf("tenant console init: %v", err)
	}

	ctx := context.Background()
	if err := c.Refresh(ctx); err != nil {
		log.Fatalf("tenant console refresh: %v", err)
	}
	c.Connect()
	defer c.Close()

	fmt.Println("commands: ls, open <id>, thread, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit":
			return
		case line == "ls":
			if err := c.Refresh(ctx); err != nil {
				fmt.Printf("refresh: %v\n", err)
				continue
			}
			for _, conversation := range c.Conversations() {
				fmt.Printf("%s  %-8s  agent=%s  last=%s\n",
					conversation.ID, conversation.Status, conversation.AssignedAgent,
					conversation.LastActiveAt.Format("15:04:05"))
			}
		case strings.HasPrefix(line, "open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "open "))
			if err := c.Open(ctx, id); err != nil {
				fmt.Printf("open: %v\n", err)
			}
		case line == "thread":
			for _, m := range c.Thread() {
				fmt.Printf("[%s] %s\n", m.Sender, m.Text)
			}
		default:
			fmt.Println("commands: ls, open <id>, thread, quit")
		}
	}
}

func serveMetrics() {
	addr := env.Get(env.MetricsAddr)
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics listener: %v", err)
		}
	}()
}
