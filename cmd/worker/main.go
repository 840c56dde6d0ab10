package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/spiritbooking/config"
	"github.com/Domenick1991/spiritbooking/internal/bootstrap"
	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/email"
	"github.com/Domenick1991/spiritbooking/internal/kafka"
	"github.com/Domenick1991/spiritbooking/internal/rabbitmq"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type eventConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.BookingEvent) error) error
	Close() error
}

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := bootstrap.NewLogger(cfg.Log).WithField("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDeps(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init dependencies")
	}
	defer deps.Close()

	sender, err := email.NewSender(cfg.SMTP, log)
	if err != nil {
		log.WithError(err).Fatal("init mailer")
	}

	consumer, err := newConsumer(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init consumer")
	}
	if consumer != nil {
		defer consumer.Close()
		go func() {
			err := consumer.Consume(ctx, func(ctx context.Context, event domain.BookingEvent) error {
				if err := sender.Send(ctx, event); err != nil {
					log.WithError(err).WithFields(logrus.Fields{
						"event":      event.Type,
						"booking_id": event.BookingID,
					}).Error("failed to send notification")
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("consumer stopped")
			}
		}()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		log.WithError(err).Fatal("init scheduler")
	}
	if _, err := bootstrap.ScheduleReminderSweep(ctx, scheduler, deps, *cfg); err != nil {
		log.WithError(err).Fatal("schedule reminder sweep")
	}
	scheduler.Start()
	log.Info("worker started")

	<-ctx.Done()
	log.Info("shutting down")
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
}

// newConsumer returns nil when no broker is configured.
func newConsumer(cfg *config.Config, log *logrus.Entry) (eventConsumer, error) {
	switch cfg.Events.Broker {
	case "kafka":
		return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Events.NotificationsTopic, log), nil
	case "rabbitmq":
		return rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue,
			[]string{cfg.Events.NotificationsTopic}, log)
	}
	return nil, nil
}
