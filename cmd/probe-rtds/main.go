// Command probe-rtds subscribes to the Polymarket real-time data stream and
// prints trade activity for a wallet. A diagnostic for verifying how fast
// the stream surfaces a trader's fills compared to Data API polling.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

const defaultRTDSURL = "wss://ws-live-data.polymarket.com"

// pingInterval keeps the connection alive; the server drops idle clients.
const pingInterval = 10 * time.Second

type subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

type subscribeMessage struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

func main() {
	var (
		url  = pflag.String("url", defaultRTDSURL, "RTDS websocket URL")
		user = pflag.String("user", "", "wallet address to filter trades by (empty for all)")
	)
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *url, *user); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, url, user string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	sub := subscription{Topic: "activity", Type: "trades"}
	if user != "" {
		filters, err := json.Marshal(map[string]string{"user": user})
		if err != nil {
			return fmt.Errorf("marshal filters: %w", err)
		}
		sub.Filters = string(filters)
	}

	msg := subscribeMessage{Action: "subscribe", Subscriptions: []subscription{sub}}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("subscribed", "url", url, "user", user)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339), raw)
	}
}
