// Package app builds the marketplace services from configuration. MongoDB,
// Redis and MinIO are optional: without them the services run on in-memory
// repositories, which is how the tests and local development use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/catalog"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/conversations"
	"github.com/kolesa/kolesa/backend/go-services/internal/database"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/locations"
	"github.com/kolesa/kolesa/backend/go-services/internal/media"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/moderation"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/internal/notify"
	"github.com/kolesa/kolesa/backend/go-services/internal/oidc"
	"github.com/kolesa/kolesa/backend/go-services/internal/payments"
	"github.com/kolesa/kolesa/backend/go-services/internal/payments/providers"
	"github.com/kolesa/kolesa/backend/go-services/internal/sessions"
	"github.com/kolesa/kolesa/backend/go-services/internal/storage"
	"github.com/kolesa/kolesa/backend/go-services/internal/support"
	"github.com/kolesa/kolesa/backend/go-services/internal/tasks"
	"github.com/kolesa/kolesa/backend/go-services/internal/tokens"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/internal/verification"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Options tune how New connects.
type Options struct {
	// MongoAttempts is the number of connection attempts; 5 when zero.
	MongoAttempts int
	MongoBackoff  time.Duration
	// RequireMongo fails New instead of falling back to memory.
	RequireMongo bool
}

// App holds the connected backends and every service.
type App struct {
	Config *config.Config
	Mongo  *mongo.Client
	DB     *mongo.Database
	Redis  *redis.Client
	Store  storage.ObjectStore

	Verifier middleware.Verifier
	Keycloak *oidc.Keycloak

	Users         *users.Service
	Sessions      *sessions.Service
	Verification  *verification.Service
	Catalog       *catalog.Service
	Locations     *locations.Service
	Listings      *listing.Service
	Moderation    *moderation.Service
	Admin         *moderation.Admin
	Hub           *conversations.Hub
	Conversations *conversations.Service
	Media         *media.Service
	Notifications *notifications.Service
	Dispatcher    *notifications.Dispatcher
	Queue         notifications.Queue
	Payments      *payments.Service
	Support       *support.Service
	Runner        *tasks.Runner
}

// New connects to the configured backends and wires the services.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.connect(ctx, opts); err != nil {
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context, opts Options) error {
	cfg := a.Config
	if cfg.MongoDB.URI != "" {
		attempts, backoff := opts.MongoAttempts, opts.MongoBackoff
		if attempts == 0 {
			attempts = 5
		}
		if backoff == 0 {
			backoff = time.Second
		}
		client, err := database.ConnectMongoRetry(ctx, cfg.MongoDB, attempts, backoff)
		switch {
		case err == nil:
			a.Mongo = client
			a.DB = client.Database(cfg.MongoDB.Database)
			logger.Infof("connected to MongoDB database %s", cfg.MongoDB.Database)
		case opts.RequireMongo:
			return err
		default:
			logger.Warnf("%v; falling back to in-memory repositories", err)
		}
	} else if opts.RequireMongo {
		return errors.New("MONGODB_URI is not set")
	}

	rc, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warnf("redis unavailable, continuing without it: %v", err)
	} else if rc != nil {
		a.Redis = rc
		logger.Infof("connected to Redis at %s", cfg.Redis.Addr())
	}

	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			logger.Warnf("minio unavailable, storing media in memory: %v", err)
		} else {
			a.Store = store
		}
	}
	if a.Store == nil {
		a.Store = storage.NewMemoryStore()
	}
	return nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	// users, sessions and verification
	if a.DB != nil {
		accounts, err := users.NewMongoUserRepository(a.DB.Collection("users"))
		if err != nil {
			return fmt.Errorf("users indexes: %w", err)
		}
		devices, err := users.NewMongoDeviceRepository(a.DB.Collection("user_devices"))
		if err != nil {
			return fmt.Errorf("devices indexes: %w", err)
		}
		reviews, err := users.NewMongoReviewRepository(a.DB.Collection("user_reviews"))
		if err != nil {
			return fmt.Errorf("reviews indexes: %w", err)
		}
		a.Users = users.NewService(accounts, devices, reviews)
	} else {
		a.Users = users.NewMemoryService()
	}

	var sessRepo sessions.Repository
	switch {
	case a.Redis != nil:
		sessRepo = sessions.NewRedisRepository(a.Redis, "session:")
		sessions.SetBlacklistClient(a.Redis)
	case a.DB != nil:
		repo, err := sessions.NewMongoRepository(a.DB.Collection("sessions"))
		if err != nil {
			return fmt.Errorf("sessions indexes: %w", err)
		}
		sessRepo = repo
	default:
		sessRepo = sessions.NewMemoryRepository()
	}
	a.Sessions = sessions.NewService(sessRepo, cfg.JWT.RefreshTokenTTL)

	mailer := notify.NewMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	sms := notify.LogSMSSender{}
	var codes verification.Store = verification.NewMemoryStore()
	if a.Redis != nil {
		codes = verification.NewRedisStore(a.Redis)
	}
	a.Verification = verification.NewService(codes, sms, mailer, cfg.Server.PublicURL)

	a.Verifier = tokens.NewJWTVerifier(cfg.JWT.Secret).WithAccounts(func(ctx context.Context, id string) (*models.User, error) {
		u, err := a.Users.Get(ctx, id)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil
		}
		return u, err
	})
	a.Keycloak = oidc.NewKeycloak(cfg.Keycloak, cfg.Keycloak.AllowInsecure)

	// reference data
	if err := a.buildReference(ctx); err != nil {
		return err
	}

	// notifications first: most services notify users
	var notes notifications.Repository
	var noteSettings notifications.SettingsRepository
	if a.DB != nil {
		repo, err := notifications.NewMongoRepository(a.DB.Collection("notifications"))
		if err != nil {
			return fmt.Errorf("notifications indexes: %w", err)
		}
		notes = repo
		noteSettings = notifications.NewMongoSettingsRepository(a.DB.Collection("notification_settings"))
	} else {
		notes = notifications.NewMemoryRepository()
		noteSettings = notifications.NewMemorySettingsRepository()
	}
	a.Dispatcher = notifications.NewDispatcher(notes, a.Users, mailer, sms, notify.LogPushSender{})
	if a.Redis != nil {
		a.Queue = notifications.NewRedisQueue(a.Redis)
	} else {
		a.Queue = notifications.InlineQueue{P: a.Dispatcher}
	}
	templates, err := notifications.NewTemplates()
	if err != nil {
		return fmt.Errorf("notification templates: %w", err)
	}
	a.Notifications = notifications.NewService(notes, noteSettings, a.Users, a.Queue, templates)

	if err := a.buildMarketplace(); err != nil {
		return err
	}
	if err := a.buildSupportAndPayments(ctx); err != nil {
		return err
	}
	if err := a.buildMessaging(); err != nil {
		return err
	}
	if err := a.buildMedia(); err != nil {
		return err
	}
	a.buildAdmin()
	return a.buildTasks()
}

func (a *App) buildReference(ctx context.Context) error {
	if a.DB != nil {
		cat, err := catalog.NewMongoRepository(a.DB)
		if err != nil {
			return fmt.Errorf("catalog indexes: %w", err)
		}
		loc, err := locations.NewMongoRepository(a.DB)
		if err != nil {
			return fmt.Errorf("locations indexes: %w", err)
		}
		a.Catalog = catalog.NewService(cat)
		a.Locations = locations.NewService(loc)
		if err := a.Catalog.Reload(ctx); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		if err := a.Locations.Reload(ctx); err != nil {
			return fmt.Errorf("load locations: %w", err)
		}
		brands, err := a.Catalog.Brands(ctx, false, "", 1)
		if err != nil {
			return err
		}
		if len(brands) == 0 {
			logger.Infof("reference collections are empty, seeding")
			if err := a.SeedReference(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	cat, err := catalog.NewMemoryRepository()
	if err != nil {
		return fmt.Errorf("catalog seed: %w", err)
	}
	loc, err := locations.NewMemoryRepository()
	if err != nil {
		return fmt.Errorf("locations seed: %w", err)
	}
	a.Catalog = catalog.NewService(cat)
	a.Locations = locations.NewService(loc)
	if err := a.Catalog.Reload(ctx); err != nil {
		return err
	}
	return a.Locations.Reload(ctx)
}

// SeedReference writes the bundled car catalog and locations to MongoDB
// and reloads both services. It is a no-op for in-memory repositories,
// which are seeded on construction.
func (a *App) SeedReference(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	cd, err := catalog.Seed()
	if err != nil {
		return err
	}
	cat, err := catalog.NewMongoRepository(a.DB)
	if err != nil {
		return err
	}
	if err := cat.Save(ctx, cd); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	ld, err := locations.Seed()
	if err != nil {
		return err
	}
	loc, err := locations.NewMongoRepository(a.DB)
	if err != nil {
		return err
	}
	if err := loc.Save(ctx, ld); err != nil {
		return fmt.Errorf("seed locations: %w", err)
	}
	if err := a.Catalog.Reload(ctx); err != nil {
		return err
	}
	return a.Locations.Reload(ctx)
}

func (a *App) buildMarketplace() error {
	var (
		repo  listing.Repository
		favs  listing.FavoriteRepository
		items moderation.ItemRepository
		reps  moderation.ReportRepository
	)
	if a.DB != nil {
		var err error
		if repo, err = listing.NewMongoRepository(a.DB.Collection("listings")); err != nil {
			return fmt.Errorf("listings indexes: %w", err)
		}
		if favs, err = listing.NewMongoFavoriteRepository(a.DB.Collection("favorites")); err != nil {
			return fmt.Errorf("favorites indexes: %w", err)
		}
		if items, err = moderation.NewMongoItemRepository(a.DB.Collection("moderation_queue")); err != nil {
			return fmt.Errorf("moderation queue indexes: %w", err)
		}
		if reps, err = moderation.NewMongoReportRepository(a.DB.Collection("reports")); err != nil {
			return fmt.Errorf("reports indexes: %w", err)
		}
	} else {
		repo = listing.NewMemoryRepository()
		favs = listing.NewMemoryFavoriteRepository()
		items = moderation.NewMemoryItemRepository()
		reps = moderation.NewMemoryReportRepository()
	}
	a.Listings = listing.NewService(repo, favs, a.Catalog, a.Locations, a.Users)
	if a.Redis != nil {
		a.Listings.SetViewTracker(listing.NewRedisViewTracker(a.Redis))
	}
	a.Moderation = moderation.NewService(items, reps, a.Listings, a.Users, a.Notifications)
	a.Listings.SetModeration(a.Moderation)

	a.Moderation.RegisterEntity(moderation.EntityListing, a.Listings.Exists)
	a.Moderation.RegisterEntity(moderation.EntityUser, a.userExists)
	return nil
}

func (a *App) userExists(ctx context.Context, id string) (bool, error) {
	_, err := a.Users.Get(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (a *App) buildSupportAndPayments(ctx context.Context) error {
	var (
		tickets   support.TicketRepository
		responses support.ResponseRepository
		content   support.ContentRepository
	)
	if a.DB != nil {
		var err error
		if tickets, err = support.NewMongoTickets(a.DB); err != nil {
			return fmt.Errorf("tickets indexes: %w", err)
		}
		if responses, err = support.NewMongoResponses(a.DB); err != nil {
			return fmt.Errorf("responses indexes: %w", err)
		}
		mc, err := support.NewMongoContent(a.DB)
		if err != nil {
			return fmt.Errorf("support content indexes: %w", err)
		}
		if n, err := mc.SeedDefaults(ctx); err != nil {
			return fmt.Errorf("seed support content: %w", err)
		} else if n > 0 {
			logger.Infof("seeded %d support documents", n)
		}
		content = mc
	} else {
		tickets = support.NewMemoryTickets()
		responses = support.NewMemoryResponses()
		mc, err := support.NewMemoryContent()
		if err != nil {
			return fmt.Errorf("support content: %w", err)
		}
		content = mc
	}
	a.Support = support.NewService(tickets, responses, content, a.Users, a.Notifications)

	var (
		txs      payments.TransactionRepository
		promos   payments.PromotionRepository
		services payments.ServiceRepository
	)
	if a.DB != nil {
		var err error
		if txs, err = payments.NewMongoTransactions(a.DB); err != nil {
			return err
		}
		if promos, err = payments.NewMongoPromotions(a.DB); err != nil {
			return err
		}
		if services, err = payments.NewMongoServices(a.DB); err != nil {
			return err
		}
	} else {
		txs = payments.NewMemoryTransactions()
		promos = payments.NewMemoryPromotions()
		services = payments.StaticServices(payments.DefaultServices)
	}
	a.Payments = payments.NewService(txs, promos, services, a.Listings, a.Notifications, providers.FromConfig(a.Config.Payments), a.Config.Payments)
	return nil
}

func (a *App) buildMessaging() error {
	var (
		convs conversations.Repository
		msgs  conversations.MessageRepository
	)
	if a.DB != nil {
		var err error
		if convs, err = conversations.NewMongoRepository(a.DB); err != nil {
			return err
		}
		if msgs, err = conversations.NewMongoMessageRepository(a.DB); err != nil {
			return err
		}
	} else {
		convs = conversations.NewMemoryRepository()
		msgs = conversations.NewMemoryMessageRepository()
	}
	a.Hub = conversations.NewHub()
	a.Conversations = conversations.NewService(convs, msgs, a.Users, a.Listings, a.Notifications, a.Hub)
	a.Moderation.RegisterEntity(moderation.EntityMessage, a.Conversations.MessageExists)
	return nil
}

func (a *App) buildMedia() error {
	var repo media.Repository
	if a.DB != nil {
		var err error
		if repo, err = media.NewMongoRepository(a.DB); err != nil {
			return err
		}
	} else {
		repo = media.NewMemoryRepository()
	}
	a.Media = media.NewService(repo, a.Store, a.Config.Upload)

	a.Media.RegisterOwner(media.EntityListing, func(ctx context.Context, entityID, userID string) (bool, error) {
		owner, err := a.Listings.OwnerOf(ctx, entityID)
		if err != nil {
			return false, err
		}
		return owner == userID, nil
	})
	a.Media.RegisterOwner(media.EntityUser, func(ctx context.Context, entityID, userID string) (bool, error) {
		if _, err := a.Users.Get(ctx, entityID); err != nil {
			return false, err
		}
		return entityID == userID, nil
	})
	a.Media.RegisterOwner(media.EntitySupportTicket, a.Support.OwnsTicket)
	a.Media.RegisterOwner(media.EntityMessage, a.Conversations.OwnsMessage)
	return nil
}

func (a *App) buildAdmin() {
	a.Admin = moderation.NewAdmin(a.Moderation, a.Users, a.Listings)
	a.Admin.SetTicketCounter(a.Support)
	a.Admin.SetRevenueSource(a.Payments)
	if a.Mongo != nil {
		client := a.Mongo
		a.Admin.AddCheck("mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) })
	}
	if a.Redis != nil {
		rc := a.Redis
		a.Admin.AddCheck("redis", func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}
	a.Admin.AddCheck("storage", a.Store.Ping)
}

func (a *App) buildTasks() error {
	var store tasks.Store = tasks.NewMemoryStore()
	if a.DB != nil {
		ms, err := tasks.NewMongoStore(a.DB)
		if err != nil {
			return fmt.Errorf("job runs indexes: %w", err)
		}
		store = ms
	}
	a.Runner = tasks.NewRunner(store)
	a.Runner.Register(tasks.Jobs(a.TaskDeps())...)
	return nil
}

// TaskDeps lists the services the maintenance jobs work on.
func (a *App) TaskDeps() tasks.Deps {
	return tasks.Deps{
		Listings:      a.Listings,
		Promotions:    a.Payments,
		Sessions:      a.Sessions,
		Media:         a.Media,
		Notifications: a.Notifications,
		Users:         a.Users,
		Payments:      a.Payments,
		Support:       a.Support,
		Location:      a.Config.Location(),
	}
}

// Close releases the backend connections.
func (a *App) Close(ctx context.Context) {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warnf("close redis: %v", err)
		}
	}
	if a.Mongo != nil {
		if err := a.Mongo.Disconnect(ctx); err != nil {
			logger.Warnf("disconnect mongo: %v", err)
		}
	}
}
