// Package app turns configuration into the concrete backends shared by the
// api server and the maintenance commands.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/shinyyama/remu-backend/internal/config"
	"github.com/shinyyama/remu-backend/internal/db"
	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/media"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/service"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

const dbWait = 2 * time.Minute

type Runtime struct {
	Config    *config.Config
	Log       *logrus.Logger
	Identity  identity.Provider
	Directory repository.AccountDirectory
	// DB is nil until MySQL is reachable; the sql directory backend opens it
	// eagerly.
	DB     *gorm.DB
	Images service.ImageRemover

	firestore *firestore.Client
	storage   *storage.Client
}

func (r *Runtime) clientOptions() []option.ClientOption {
	if r.Config.FirebaseCredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(r.Config.FirebaseCredentialsFile)}
}

// Open connects the identity provider and the account directory selected by
// DIRECTORY_BACKEND.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Runtime, error) {
	r := &Runtime{Config: cfg, Log: log}
	opts := r.clientOptions()

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.FirebaseProjectID,
		StorageBucket: cfg.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	authClient, err := fbApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	if r.Identity, err = identity.NewFirebaseProvider(ctx, authClient, cfg.FirebaseAPIKey); err != nil {
		return nil, err
	}
	if cfg.FirebaseAPIKey == "" {
		log.Warn("FIREBASE_API_KEY not set; sign-in and password reset are disabled")
	}

	switch cfg.DirectoryBackend {
	case config.DirectoryFirestore:
		r.firestore, err = fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		r.Directory = repository.NewFirestoreDirectory(r.firestore, cfg.AccountsCollection)
	case config.DirectorySQL:
		if !cfg.HasDB() {
			return nil, fmt.Errorf("DIRECTORY_BACKEND=sql needs DB_USER, DB_NAME and DB_HOST or INSTANCE_CONNECTION_NAME")
		}
		if err := r.ConnectDB(ctx); err != nil {
			return nil, err
		}
		r.Directory = repository.NewSQLDirectory(r.DB)
	case config.DirectoryMemory:
		log.Warn("using the in-memory account directory; records are lost on restart")
		r.Directory = repository.NewMemoryDirectory()
	default:
		return nil, fmt.Errorf("unknown DIRECTORY_BACKEND %q", cfg.DirectoryBackend)
	}

	if cfg.StorageBucket != "" {
		r.storage, err = storage.NewClient(ctx, opts...)
		if err != nil {
			log.WithError(err).Warn("storage client unavailable; product images will not be cleaned up")
		} else {
			r.Images = media.NewBucket(r.storage, cfg.StorageBucket)
		}
	}
	return r, nil
}

// ConnectDB dials MySQL with retries and migrates the tables this service
// owns.
func (r *Runtime) ConnectDB(ctx context.Context) error {
	if r.DB != nil {
		return nil
	}
	conn, err := db.ConnectWithRetry(ctx, r.Config, dbWait, func(err error, next time.Duration) {
		r.Log.WithError(err).WithField("retry_in", next.String()).Warn("mysql not reachable yet")
	})
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	if err := db.Migrate(conn, r.Config.DirectoryBackend == config.DirectorySQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	r.DB = conn
	return nil
}

func (r *Runtime) Ledger() service.LedgerService {
	return service.NewLedgerService(r.Directory, r.Identity, service.NewCodeGenerator(), r.Log)
}

func (r *Runtime) Close() {
	if r.firestore != nil {
		r.firestore.Close()
	}
	if r.storage != nil {
		r.storage.Close()
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
