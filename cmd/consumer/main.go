package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-rewards/internal/config"
	"github.com/example/ride-rewards/internal/distance"
	"github.com/example/ride-rewards/internal/ingest"
	"github.com/example/ride-rewards/internal/logging"
	"github.com/example/ride-rewards/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_rewards",
		Name:      "consumer_messages_consumed_total",
		Help:      "Total ride completion messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_rewards",
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	mintsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_rewards",
		Name:      "consumer_mints_total",
		Help:      "Total rides rewarded",
	})
	mintsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_rewards",
		Name:      "consumer_mints_duplicate_total",
		Help:      "Total rides that were already rewarded",
	})
	mintErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_rewards",
		Name:      "consumer_mint_errors_total",
		Help:      "Total rides that could not be rewarded",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, mintsForwarded, mintsDuplicate, mintErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (overrides METRICS_ADDR)")
	flag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	logger, logCloser := logging.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.RideTopic, GroupID: cfg.GroupID, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	p := &pipeline{
		logger:   logger,
		minter:   newHTTPMinter(cfg.MintURL, cfg.MintAuthority, cfg.MintTimeout),
		attempts: cfg.MintAttempts,
		delay:    cfg.RetryDelay,
	}
	if cfg.DeadLetterTopic != "" {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.DeadLetterTopic)
		defer producer.Close()
		p.dlq = producer
	}
	if cfg.OSRMURL != "" {
		p.router = distance.NewOSRMClient(cfg.OSRMURL)
	}
	logger.Info("consumer listening", "topic", cfg.RideTopic, "brokers", cfg.KafkaBrokers, "group", cfg.GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		// FetchMessage + CommitMessages so a ride is only committed once it
		// has been rewarded or parked.
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			sleepCtx(ctx, backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()
		p.handle(ctx, m)
		if ctx.Err() != nil {
			// interrupted mid-retry; leave the offset for the next run
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("kafka commit failed", "offset", m.Offset, "err", err)
		}
	}
}

// deadLetter is satisfied by *ingest.KafkaProducer.
type deadLetter interface {
	PublishRaw(ctx context.Context, key, value []byte, headers map[string]string) error
}

// router is satisfied by *distance.OSRMClient.
type router interface {
	TraceMeters(ctx context.Context, trace []models.Coord) (uint64, error)
}

type pipeline struct {
	logger   *slog.Logger
	minter   Minter
	dlq      deadLetter
	router   router
	attempts int
	delay    time.Duration
}

func (p *pipeline) handle(ctx context.Context, m kafka.Message) {
	req, err := p.decodeRide(ctx, m.Value)
	if err != nil {
		msgsInvalid.Inc()
		p.logger.Warn("invalid message", "offset", m.Offset, "err", err)
		p.park(ctx, m, err)
		return
	}
	err = mintWithRetry(ctx, p.minter, req, p.attempts, p.delay)
	switch {
	case err == nil:
		mintsForwarded.Inc()
	case errors.Is(err, errAlreadyRewarded):
		mintsDuplicate.Inc()
		p.logger.Info("ride already rewarded", "tx_id", req.TransactionID.Hex())
	case ctx.Err() != nil:
	default:
		mintErrors.Inc()
		p.logger.Error("mint failed", "tx_id", req.TransactionID.Hex(), "err", err)
		p.park(ctx, m, err)
	}
}

func (p *pipeline) park(ctx context.Context, m kafka.Message, cause error) {
	if p.dlq == nil {
		return
	}
	if err := p.dlq.PublishRaw(ctx, m.Key, m.Value, map[string]string{"error": cause.Error()}); err != nil {
		p.logger.Error("dead letter publish failed", "offset", m.Offset, "err", err)
	}
}

// decodeRide turns a ride completion event into a mint request. Rides
// reported without meters are measured from their trace, along the road
// network when a router is configured.
func (p *pipeline) decodeRide(ctx context.Context, value []byte) (models.RideRewardRequest, error) {
	var ev models.RideEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return models.RideRewardRequest{}, err
	}
	if !ev.VehicleClass.Valid() {
		return models.RideRewardRequest{}, models.ErrInvalidVehicleClass
	}
	if ev.Recipient.IsZero() {
		return models.RideRewardRequest{}, models.ErrInvalidAddress
	}
	if ev.TransactionID == (models.TxID{}) {
		return models.RideRewardRequest{}, models.ErrInvalidTxID
	}
	meters := distance.RideMeters(ev)
	if ev.DistanceMeters == 0 && p.router != nil && len(ev.Trace) > 1 {
		if routed, err := p.router.TraceMeters(ctx, ev.Trace); err == nil {
			meters = routed
		} else {
			p.logger.Warn("routing failed; using straight-line trace length", "tx_id", ev.TransactionID.Hex(), "err", err)
		}
	}
	return models.RideRewardRequest{
		VehicleClass:   ev.VehicleClass,
		DistanceMeters: meters,
		TransactionID:  ev.TransactionID,
		Recipient:      ev.Recipient,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
