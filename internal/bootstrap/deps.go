package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/Domenick1991/spiritbooking/api"
	"github.com/Domenick1991/spiritbooking/config"
	"github.com/Domenick1991/spiritbooking/internal/auth"
	"github.com/Domenick1991/spiritbooking/internal/cache"
	"github.com/Domenick1991/spiritbooking/internal/kafka"
	"github.com/Domenick1991/spiritbooking/internal/meeting"
	"github.com/Domenick1991/spiritbooking/internal/rabbitmq"
	"github.com/Domenick1991/spiritbooking/internal/repository"
	"github.com/Domenick1991/spiritbooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Deps holds everything the API and worker processes share. Close releases
// them in reverse order of creation.
type Deps struct {
	Log      *logrus.Entry
	Bookings repository.BookingRepository
	Verifier auth.Verifier
	Cache    *cache.RedisCache
	Producer booking.Producer
	Service  *booking.BookingService
	Checks   map[string]api.Checker

	firebase *firebase.App
	closers  []func() error
}

// NewLogger configures logrus from cfg. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logrus.NewEntry(logger).WithField("service", "spiritbooking")
}

func NewDeps(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Deps, error) {
	d := &Deps{Log: log, Checks: map[string]api.Checker{}}

	if err := d.openStore(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openVerifier(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		d.Cache = cache.NewRedisCache(cfg.Redis)
		d.closers = append(d.closers, d.Cache.Close)
		d.Checks["redis"] = d.Cache.Ping
	}
	if err := d.openProducer(cfg); err != nil {
		d.Close()
		return nil, err
	}

	opts := []booking.BookingServiceOption{
		booking.WithNotificationsTopic(cfg.Events.NotificationsTopic),
		booking.WithPlatformFeeRate(cfg.Booking.FeeRate()),
		booking.WithLogger(log),
	}
	var c booking.Cache
	if d.Cache != nil {
		c = d.Cache
		opts = append(opts, booking.WithLockTTL(cfg.Booking.LockTTL()))
	}
	d.Service = booking.NewBookingService(
		d.Bookings,
		auth.ContextIdentity{},
		meeting.NewAllocator(cfg.Meeting.BaseURL, cfg.Meeting.RoomPrefix, cfg.Meeting.PasswordLength),
		c,
		d.Producer,
		cfg.Events.BookingTopic,
		opts...,
	)
	return d, nil
}

func (d *Deps) app(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	if d.firebase != nil {
		return d.firebase, nil
	}
	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	d.firebase = app
	return app, nil
}

func (d *Deps) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case "firestore":
		app, err := d.app(ctx, cfg)
		if err != nil {
			return err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("connect firestore: %w", err)
		}
		d.closers = append(d.closers, client.Close)
		d.Bookings = repository.NewFirestoreBookingRepository(client, cfg.Store.Collection)
		d.Checks["store"] = firestoreCheck(client, cfg.Store.Collection)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		d.Bookings = repository.NewBookingRepository(pool)
		d.Checks["store"] = pool.Ping
	default:
		d.Log.Warn("using in-memory booking store")
		d.Bookings = repository.NewMemoryBookingRepository()
	}
	return nil
}

func firestoreCheck(client *firestore.Client, collection string) api.Checker {
	return func(ctx context.Context) error {
		_, err := client.Collection(collection).Limit(1).Documents(ctx).Next()
		if err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func (d *Deps) openVerifier(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.Provider != "firebase" {
		d.Verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
		return nil
	}
	app, err := d.app(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return fmt.Errorf("init firebase auth: %w", err)
	}
	d.Verifier = auth.NewFirebaseVerifier(client)
	return nil
}

func (d *Deps) openProducer(cfg *config.Config) error {
	switch cfg.Events.Broker {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, d.Log)
		d.closers = append(d.closers, p.Close)
		d.Producer = p
		d.Checks["kafka"] = p.CheckConnection
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, d.Log)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		d.closers = append(d.closers, p.Close)
		d.Producer = p
	}
	return nil
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Log.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
