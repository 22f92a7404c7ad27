package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"

	api "levramail-backend/cmd/api"
	accountdomain "levramail-backend/internal/account/domain"
	accountRepo "levramail-backend/internal/account/repository"
	accountUsecase "levramail-backend/internal/account/usecase"
	"levramail-backend/internal/attachment/cache"
	attachmentDelivery "levramail-backend/internal/attachment/delivery"
	attachmentUsecase "levramail-backend/internal/attachment/usecase"
	authDelivery "levramail-backend/internal/auth/delivery"
	authdomain "levramail-backend/internal/auth/domain"
	authRepo "levramail-backend/internal/auth/repository"
	authUsecase "levramail-backend/internal/auth/usecase"
	integrationDelivery "levramail-backend/internal/integration/delivery"
	integrationdomain "levramail-backend/internal/integration/domain"
	integrationRepo "levramail-backend/internal/integration/repository"
	integrationUsecase "levramail-backend/internal/integration/usecase"
	maildomain "levramail-backend/internal/mail/domain"
	mailRepo "levramail-backend/internal/mail/repository"
	mailUsecase "levramail-backend/internal/mail/usecase"
	syncDelivery "levramail-backend/internal/mailsync/delivery"
	"levramail-backend/internal/mailsync/scheduler"
	syncUsecase "levramail-backend/internal/mailsync/usecase"
	"levramail-backend/internal/notification"
	searchDelivery "levramail-backend/internal/search/delivery"
	searchdomain "levramail-backend/internal/search/domain"
	searchRepo "levramail-backend/internal/search/repository"
	searchUsecase "levramail-backend/internal/search/usecase"
	"levramail-backend/pkg/ai"
	"levramail-backend/pkg/chroma"
	"levramail-backend/pkg/config"
	"levramail-backend/pkg/crypto"
	"levramail-backend/pkg/database"
	"levramail-backend/pkg/deltasync"
	"levramail-backend/pkg/embedding"
	"levramail-backend/pkg/fcm"
	"levramail-backend/pkg/fileproc"
	"levramail-backend/pkg/gmail"
	"levramail-backend/pkg/redisclient"

	"google.golang.org/api/option"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&maildomain.Thread{}, &maildomain.Email{}, &maildomain.EmailAddress{}, &maildomain.EmailAttachment{},
		&integrationdomain.AppConnection{}, &integrationdomain.SyncedItem{}, &integrationdomain.ChatAttachment{},
		&searchdomain.QAEntry{},
		&authdomain.FCMToken{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Repositories
	sealer := crypto.NewSealer(cfg.TokenEncryptionKey)
	accounts := accountRepo.NewAccountRepository(db, sealer)
	threads := mailRepo.NewThreadRepository(db)
	emails := mailRepo.NewEmailRepository(db)
	addresses := mailRepo.NewAddressRepository(db)
	attachments := mailRepo.NewAttachmentRepository(db)
	connections := integrationRepo.NewConnectionRepository(db, sealer)
	items := integrationRepo.NewItemRepository(db)
	chatFiles := integrationRepo.NewChatAttachmentRepository(db)
	qaEntries := searchRepo.NewQARepository(db)
	fcmTokens := authRepo.NewFCMTokenRepository(db)

	// AI and embeddings
	generator, err := ai.NewGenerator(ai.Config{
		Provider:         ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:     cfg.GeminiApiKey,
		OllamaBaseURL:    cfg.OllamaBaseURL,
		OllamaModel:      cfg.OllamaModel,
		OllamaEmbedModel: cfg.OllamaEmbedModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize AI provider:", err)
	}
	assistant := ai.NewAssistant(generator)

	embedder, err := embedding.New(embedding.Config{
		Provider:         cfg.EmbeddingProvider,
		GeminiAPIKey:     cfg.GeminiApiKey,
		Model:            cfg.EmbeddingModel,
		OllamaBaseURL:    cfg.OllamaBaseURL,
		OllamaEmbedModel: cfg.OllamaEmbedModel,
		MaxChars:         cfg.EmbeddingMaxChars,
	})
	if err != nil {
		log.Fatal("Failed to initialize embeddings:", err)
	}
	processor := fileproc.NewProcessor(embedder, cfg.MaxAttachmentBytes)

	// Search and answer cache
	engine := searchUsecase.NewEngine(searchRepo.NewVectorRepository(db), embedder, searchUsecase.Defaults{
		Limit:     cfg.SearchDefaultLimit,
		Threshold: cfg.SearchSimilarityThreshold,
	})
	var qaIndex searchUsecase.QAIndex
	if cfg.ChromaAPIKey != "" {
		chromaClient, err := chroma.NewClient(ctx, cfg, chroma.DefaultCollection)
		if err != nil {
			log.Printf("[WARN] Chroma unavailable, answer cache uses stored vectors: %v", err)
		} else {
			qaIndex = searchUsecase.NewChromaIndex(chromaClient)
		}
	}
	qaCache := searchUsecase.NewQACache(qaEntries, qaIndex, embedder)

	// Provider clients
	tokens := accountUsecase.NewTokenUsecase(accounts, accountUsecase.OAuthCredentials{
		GoogleClientID:        cfg.GoogleClientID,
		GoogleClientSecret:    cfg.GoogleClientSecret,
		MicrosoftClientID:     cfg.MicrosoftClientID,
		MicrosoftClientSecret: cfg.MicrosoftClientSecret,
		MicrosoftTenant:       cfg.MicrosoftTenant,
	})
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Sync pipeline
	upserter := mailUsecase.NewUpserter(threads, emails, addresses, attachments, assistant, embedder, engine, mailUsecase.Options{
		AITimeout: cfg.AICallTimeout,
	})
	sources := syncUsecase.NewSourceFactory(accounts, tokens, gmailService, syncUsecase.ProviderConfig{
		DeltaBaseURL: cfg.DeltaAPIBaseURL,
		GraphBaseURL: cfg.GraphBaseURL,
		Delta: deltasync.Options{
			DaysWithin:   cfg.SyncDaysWithin,
			PollInterval: cfg.SyncPollInterval,
			MaxPolls:     cfg.SyncMaxPolls,
			PageDelay:    cfg.SyncPageDelay,
		},
	})

	var locker syncUsecase.Locker
	if cfg.RedisURL != "" {
		redisClient, err := redisclient.NewClient(cfg.RedisURL, "levramail:sync:")
		if err != nil {
			log.Printf("[WARN] Redis unavailable, sync locking is per process: %v", err)
		} else {
			locker = redisClient
			defer redisClient.Close()
		}
	}

	var notifier syncUsecase.Notifier
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Printf("[WARN] Failed to initialize FCM client (push notifications disabled): %v", err)
		} else {
			notifier = notification.NewPushNotifier(fcmClient, fcmTokens)
		}
	}

	syncer := syncUsecase.NewSyncUsecase(accounts, sources, upserter, locker, notifier, syncUsecase.Options{})
	syncScheduler := scheduler.NewSyncScheduler(syncer, cfg.SyncInterval)
	syncScheduler.Start()
	defer syncScheduler.Stop()

	// Gmail push notifications
	if cfg.GoogleProjectID != "" {
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentials))
		}
		notifService, err := notification.NewService(ctx, cfg.GoogleProjectID, topicName, notification.NewDispatcher(accounts, syncer), opts...)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(ctx)
			defer notifService.Close()
		}
	} else {
		log.Printf("[WARN] GOOGLE_PROJECT_ID not configured, push-triggered sync disabled")
	}

	// Attachments
	attachmentCache := cache.New(cfg.AttachmentCacheTTL)
	attachmentCache.StartJanitor(cfg.AttachmentCacheTTL / 4)
	defer attachmentCache.Stop()
	fetcher := attachmentUsecase.NewFetcherUsecase(attachments, accounts, map[string]attachmentUsecase.Downloader{
		accountdomain.ProviderAurinko:   attachmentUsecase.NewDeltaDownloader(tokens, cfg.DeltaAPIBaseURL),
		accountdomain.ProviderGoogle:    attachmentUsecase.NewGmailDownloader(accounts, gmailService),
		accountdomain.ProviderMicrosoft: attachmentUsecase.NewGraphDownloader(tokens, cfg.GraphBaseURL),
	}, processor, attachmentCache, attachmentUsecase.Options{
		MaxBytes:        cfg.MaxAttachmentBytes,
		DownloadTimeout: cfg.AttachmentDownloadTimeout,
		Concurrency:     int64(cfg.AttachmentConcurrency),
	})

	// Integrations
	files := integrationUsecase.NewFileUsecase(chatFiles, processor)
	drive := integrationUsecase.NewDriveSyncUsecase(connections, items, embedder,
		integrationUsecase.OAuthDriveServices(tokens.OAuthConfig(accountdomain.ProviderGoogle)))

	// HTTP
	auth := authUsecase.NewAuthUsecase(cfg.JWTSecret)
	handler := api.NewHandler(
		auth,
		accounts,
		syncDelivery.NewSyncHandler(syncer, accounts),
		searchDelivery.NewSearchHandler(engine, qaCache),
		attachmentDelivery.NewAttachmentHandler(fetcher),
		integrationDelivery.NewIntegrationHandler(files, drive, cfg.MaxAttachmentBytes),
		authDelivery.NewFCMHandler(authUsecase.NewFCMUsecase(fcmTokens)),
	)

	if err := handler.Start(ctx, ":"+cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
	log.Println("Server stopped")
}
