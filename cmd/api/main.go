package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/adapter/repository"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/firebase"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/redisbridge"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.Init(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		firebaseApp     *fbapp.App
		firestoreClient *firestore.Client
	)
	if cfg.NeedsFirebase() {
		firebaseApp, err = fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, firebaseCredentials()...)
		if err != nil {
			fatal("Failed to initialize Firebase: %v", err)
		}
	}

	var (
		convRepo   domainrepo.ConversationRepository
		identities domainrepo.IdentityRepository
	)
	switch cfg.StorageDriver {
	case "firestore":
		firestoreClient, err = firebaseApp.Firestore(ctx)
		if err != nil {
			fatal("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()
		convRepo = repository.NewFirestoreConversationRepository(firestoreClient)
		identities = repository.NewFirestoreIdentityRepository(firestoreClient)
	default:
		logger.Warn("Using in-memory storage; data is lost on restart")
		memIdentities := repository.NewMemoryIdentityRepository()
		if cfg.IdentitySeedFile != "" {
			seedIdentities(memIdentities, cfg.IdentitySeedFile)
		}
		convRepo = repository.NewMemoryConversationRepository()
		identities = memIdentities
	}

	var verifier auth.TokenVerifier
	switch cfg.AuthProvider {
	case "firebase":
		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			fatal("Failed to initialize Firebase Auth: %v", err)
		}
		verifier = firebase.NewFirebaseAuthClient(authClient)
	default:
		if cfg.JWKSURL != "" {
			jwks, err := auth.NewJWKSVerifier(cfg.JWKSURL, cfg.JWTIssuer)
			if err != nil {
				fatal("Failed to load JWKS: %v", err)
			}
			defer jwks.Close()
			verifier = jwks
		} else {
			hs, err := auth.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				fatal("Failed to configure JWT verifier: %v", err)
			}
			verifier = hs
		}
	}

	localPresence := websocket.NewPresence()
	rooms := websocket.NewRooms()
	var (
		presence websocket.PresenceRegistry = localPresence
		fanout   websocket.Fanout           = websocket.NewLocalFanout(rooms, localPresence)
	)
	if cfg.RedisURL != "" {
		redisClient, err := redisbridge.Connect(ctx, cfg.RedisURL)
		if err != nil {
			fatal("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		bridge := redisbridge.NewFanout(fanout, redisClient, cfg.RedisChannel, cfg.InstanceID)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("Redis bridge stopped: %v", err)
			}
		}()
		fanout = bridge
		redisPresence := redisbridge.NewPresence(localPresence, redisClient, cfg.InstanceID, cfg.PresenceTTL)
		go redisPresence.Run(ctx)
		presence = redisPresence
	}

	rateLimiter := ratelimit.NewRateLimiter(ratelimit.DefaultPolicies(cfg.MessagesPerMinute, cfg.TypingPerMinute))
	rateLimiter.StartCleanupRoutine(ctx)

	notificationRouter := usecase.NewNotificationRouter(convRepo, identities, presence, fanout)
	gatewayUseCase := usecase.NewGatewayUseCase(verifier, identities, presence, rooms, fanout, notificationRouter)
	deliveryUseCase := usecase.NewDeliveryUseCase(convRepo, rooms, fanout, notificationRouter, rateLimiter, usecase.DeliveryConfig{
		MaxContentLength: cfg.MaxContentLength,
	})

	wsManager := websocket.NewManager(usecase.NewRealtimeUseCase(gatewayUseCase, deliveryUseCase))
	wsManager.Start(ctx)

	deps := handler.Dependencies{
		Delivery: deliveryUseCase,
		Gateway:  gatewayUseCase,
		Manager:  wsManager,
		WebSocket: handler.WebSocketConfig{
			AuthTimeout:    cfg.AuthTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
			Client: websocket.ClientOptions{
				BufferSize: cfg.SendBufferSize,
				PongWait:   cfg.PongWait,
				ReadLimit:  cfg.ReadLimitBytes,
			},
		},
		InstanceID:  cfg.InstanceID,
		StorageName: cfg.StorageDriver,
	}
	if cfg.AuthProvider == "jwt" && cfg.JWTSecret != "" {
		deps.DevTokenSecret = cfg.JWTSecret
		deps.DevTokenIssuer = cfg.JWTIssuer
	}
	handler.Setup(deps)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: true,
	}))
	e.Use(metrics.Middleware())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(gatewayUseCase)
	router.Setup(e, authMiddleware, rateLimiter, cfg.Environment)

	go func() {
		logger.Info("Server starting on port %s (instance %s, storage %s, auth %s)", cfg.ServerPort, cfg.InstanceID, cfg.StorageDriver, cfg.AuthProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	wsManager.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
}

// firebaseCredentials prefers inline service account JSON, then a file path,
// then application default credentials.
func firebaseCredentials() []option.ClientOption {
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(serviceAccountJSON))}
	}
	if serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); serviceAccountPath != "" {
		if _, err := os.Stat(serviceAccountPath); err != nil {
			fatal("Service account file does not exist: %s", serviceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", serviceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(serviceAccountPath)}
	}
	logger.Info("Using application default credentials for Firebase")
	return nil
}

func seedIdentities(repo *repository.MemoryIdentityRepository, path string) {
	f, err := os.Open(path)
	if err != nil {
		fatal("Failed to open identity seed %s: %v", path, err)
	}
	defer f.Close()

	n, err := repo.LoadSeed(f)
	if err != nil {
		fatal("Failed to load identity seed %s: %v", path, err)
	}
	logger.Info("Loaded %d identities from %s", n, path)
}

func fatal(format string, v ...interface{}) {
	logger.Error(format, v...)
	os.Exit(1)
}
