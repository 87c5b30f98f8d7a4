// Command widget runs the visitor chat widget as a line-oriented terminal
// client, mostly useful against the stub server during development.
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

	"chat-console-core/internal/console/widget"
	"chat-console-core/internal/env"
	"chat-console-core/internal/session"
)

func main() {
	_ = godotenv.Load()
	serveMetrics()

	cfg := widget.Config{
		BaseURL:     env.MustGet(env.APIBaseURL),
		RealtimeURL: env.Get(env.RealtimeURL),
		BotID:       env.MustGet(env.WidgetBotID),
		Token:       env.MustGet(env.BearerToken),
	}
	if path := env.Get(env.SessionFile); path != "" {
		cfg.Sessions = session.NewFileStore(path)
	}

	w, err := widget.New(cfg)
	if err != nil {
		log.Fatalf("widget init: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		log.Fatalf("widget start: %v", err)
	}
	w.Connect()
	defer w.Close()

	fmt.Printf("session %s, status %s\n", w.SessionID(), w.Status())
	fmt.Println("type a message, or /history /status /agent /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/status":
			fmt.Printf("status: %s, input enabled: %v, hand-off allowed: %v\n",
				w.Status(), w.InputEnabled(), w.CanRequestAgent())
		case line == "/history":
			for _, m := range w.Messages() {
				fmt.Printf("[%s] %s\n", m.Sender, m.Text)
			}
			for _, e := range w.Errors() {
				fmt.Printf("[error] %s (retriable: %v)\n", e.Text, e.Retriable)
			}
		case line == "/agent":
			state, err := w.RequestAgent(ctx)
			if err != nil {
				fmt.Printf("request agent: %v\n", err)
				continue
			}
			fmt.Println(widget.AvailabilityNotice(state))
		default:
			if err := w.Send(ctx, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
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
