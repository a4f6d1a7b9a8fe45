// cmd/sdblive fans decoded quote/trade records out to WebSocket clients.
// It subscribes to the Redis Streams cmd/sdbtail publishes to and
// broadcasts each record to every client subscribed to that stream's key.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"secdb/internal/config"
	"secdb/internal/livefeed"
	"secdb/internal/logger"
	"secdb/internal/metrics"
	"secdb/internal/record"
	"secdb/internal/tail"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[sdblive] starting...")

	streamsFlag := flag.String("streams", "", "comma-separated exchange:symbol:instrument tuples to subscribe to (required)")
	flag.Parse()

	if *streamsFlag == "" {
		log.Fatal("[sdblive] -streams is required, e.g. KRX:KR4101:KR4101K60008")
	}

	sl := logger.Init("sdblive", slog.LevelInfo)
	cfg := config.Load()
	sl.Info("loaded configuration", "redis_addr", cfg.RedisAddr, "listen_addr", cfg.ListenAddr)

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sub, err := tail.NewSubscriber(tail.SubscriberConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, ConsumerGroup: "sdblive",
	})
	if err != nil {
		log.Fatalf("[sdblive] subscriber: %v", err)
	}
	health.StartLivenessChecker(ctx, sub.Client(), nil, 10*time.Second)
	health.SetLivefeedUp(true)
	health.SetCatalogOK(true) // sdblive has no catalog dependency

	hub := livefeed.NewHub()
	hub.OnDrop = func(streamKey string) { m.LivefeedFanoutDrops.WithLabelValues(streamKey).Inc() }

	handlers := tail.Handlers{
		OnQuote: func(streamKey string, ts time.Time, q record.Quote) {
			hub.BroadcastQuote(streamKey, ts, q)
			health.SetLastRecordTime(ts)
		},
		OnTrade: func(streamKey string, ts time.Time, t record.Trade) {
			hub.BroadcastTrade(streamKey, ts, t)
			health.SetLastRecordTime(ts)
		},
	}

	for _, tuple := range strings.Split(*streamsFlag, ",") {
		parts := strings.Split(strings.TrimSpace(tuple), ":")
		if len(parts) != 3 {
			log.Fatalf("[sdblive] malformed stream tuple %q, want exchange:symbol:instrument", tuple)
		}
		streamKey := tail.StreamKey(parts[0], parts[1], parts[2])
		go func(key string) {
			if err := sub.Consume(ctx, key, handlers); err != nil && ctx.Err() == nil {
				log.Printf("[sdblive] consume %s: %v", key, err)
			}
		}(streamKey)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		streamKey := r.URL.Query().Get("stream")
		if streamKey == "" {
			http.Error(w, "missing stream query parameter", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[sdblive] ws upgrade: %v", err)
			return
		}
		hub.Register(conn, streamKey)
		m.LivefeedClients.Set(float64(hub.ClientCount()))
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[sdblive] websocket server listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[sdblive] http server error: %v", err)
		}
	}()

	<-sigCh
	sl.Info("shutting down")
	cancel()
	sub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}
