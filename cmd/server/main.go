package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"clearline/config"
	"clearline/domain/market"
	"clearline/domain/settle"
	"clearline/infra/feed"
	"clearline/infra/history"
	"clearline/jobs/broadcaster"
	"clearline/service"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("bad log level %q: %v", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "server")

	// ---------------- History store ----------------

	store, err := history.Open(cfg.History.Dir)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	// ---------------- Service (replays WAL) ----------------

	policy := settle.PolicyLenient
	if cfg.Settlement.Policy == "strict" {
		policy = settle.PolicyStrict
	}

	svc, err := service.New(service.Options{
		WALDir:        cfg.WAL.Dir,
		WALSegment:    cfg.WAL.SegmentSize,
		WALSegmentAge: cfg.WAL.SegmentDuration.Std(),
		Store:         store,
		Markets:       cfg.Engine.Markets,
		ArenaCapacity: cfg.Engine.ArenaCapacity,
		VWAPWindow:    cfg.Engine.VWAPWindow,
		Policy:        policy,
		Log:           logrus.WithField("component", "engine"),
	})
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}
	defer svc.Close()

	log.WithField("digest", svc.StateDigest()).Info("state restored")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------- Broadcaster ----------------

	bc, err := broadcaster.New(store, cfg.Kafka.Brokers, cfg.Kafka.OutboundTopic,
		logrus.WithField("component", "broadcaster"))
	if err != nil {
		log.Fatalf("broadcaster init failed: %v", err)
	}
	defer bc.Close()
	bc.Start(ctx)

	// ---------------- Settlement ticker ----------------

	go func() {
		ticker := time.NewTicker(cfg.Settlement.Interval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.RunSettlement(); err != nil {
					log.WithError(err).Error("settlement pass failed")
				}
			}
		}
	}()

	// ---------------- Inbound feed ----------------

	consumer := feed.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.InboundTopic,
		cfg.Kafka.InboundGroupID, logrus.WithField("component", "feed"))
	defer consumer.Close()

	go func() {
		err := consumer.Run(ctx, func(m feed.Message) error {
			seq := market.SeqKey{Height: m.Height, Index: m.Index}
			switch m.Kind {
			case feed.KindSubmit:
				side := market.Buy
				if m.Side == "sell" {
					side = market.Sell
				}
				res, err := svc.SubmitOrder(seq, service.OrderTx{
					Addr:     m.Addr,
					MarketID: m.MarketID,
					Side:     side,
					Price:    m.Price,
					Amount:   m.Amount,
					Leverage: m.Leverage,
				})
				if err != nil {
					log.WithError(err).WithField("addr", m.Addr).Info("order rejected")
				} else {
					log.WithField("result", res.String()).Debug("order applied")
				}
			case feed.KindCancel:
				if _, err := svc.CancelOrder(seq, service.CancelTx{
					Addr:         m.Addr,
					MarketID:     m.MarketID,
					TargetHeight: m.TargetHeight,
					TargetIndex:  m.TargetIndex,
				}); err != nil {
					log.WithError(err).WithField("addr", m.Addr).Info("cancel rejected")
				}
			default:
				log.WithField("kind", m.Kind).Warn("unknown message kind, skipping")
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Error("feed consumer exited")
			cancel()
		}
	}()

	log.Info("engine running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down")
	case <-ctx.Done():
	}
}
