package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"municonsole_back/assistants"
	"municonsole_back/authorization"
	"municonsole_back/cache"
	"municonsole_back/chat"
	"municonsole_back/config"
	"municonsole_back/contact"
	"municonsole_back/database"
	"municonsole_back/directory"
	"municonsole_back/knowledgebase"
	"municonsole_back/middleware"
	"municonsole_back/municipalities"
	"municonsole_back/notifications"
	"municonsole_back/storage"
	"municonsole_back/tools"
	"municonsole_back/vectorstore"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	rdb, err := cache.Connect(cfg.Redis)
	if err != nil {
		log.Printf("main: redis disabled: %v", err)
		rdb = nil
	}
	defer cache.Close()

	objects, err := storage.New(ctx, cfg.Minio)
	if err != nil {
		log.Printf("main: object storage disabled: %v", err)
		objects = nil
	}

	r := gin.Default()
	r.Use(middleware.Trace())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Session-Token", "X-Trace-Id"},
		ExposeHeaders:    []string{"X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 鉴权必须最先注册，路由保护才能覆盖后续模块
	auth, err := authorization.RegisterRoutes(r, db, cfg.Auth)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}
	guard := auth.Guard()

	if cfg.Auth.BootstrapEmail != "" && cfg.Auth.BootstrapPassword != "" {
		if _, created, err := auth.Users().EnsureSuperAdmin(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
			log.Printf("main: bootstrap super admin: %v", err)
		} else if created {
			log.Printf("main: created super admin %s", cfg.Auth.BootstrapEmail)
		}
	}

	storage.RegisterRoutes(r, objects, func(c *gin.Context) uint64 {
		if identity := authorization.CurrentIdentity(c); identity != nil {
			return identity.UserID
		}
		return 0
	})

	municipalityService, err := municipalities.NewService(db, objects)
	if err != nil {
		log.Fatalf("init municipalities: %v", err)
	}
	municipalities.RegisterRoutes(r, municipalityService, guard)

	var mailer directory.Mailer
	if cfg.SMTP.Enabled() {
		mailer = directory.NewSMTPMailer(cfg.SMTP)
	}
	directoryService, err := directory.NewService(db, auth, municipalityService, directory.Options{
		Mailer:    mailer,
		BaseURL:   cfg.App.BaseURL,
		InviteTTL: cfg.Auth.InviteTTL,
	})
	if err != nil {
		log.Fatalf("init directory: %v", err)
	}
	directory.RegisterRoutes(r, directoryService, guard)

	catalog := assistants.NewCatalog(cfg.LLM.CatalogFile)
	if err := catalog.Watch(ctx); err != nil {
		log.Printf("main: watch model catalog: %v", err)
	}
	assistantService, err := assistants.NewService(db, catalog, municipalityService)
	if err != nil {
		log.Fatalf("init assistants: %v", err)
	}
	assistants.RegisterRoutes(r, assistantService, guard)

	toolService, err := tools.NewService(db, assistantService)
	if err != nil {
		log.Fatalf("init tools: %v", err)
	}
	tools.RegisterRoutes(r, toolService, guard)

	knowledgeService, index, err := newKnowledgeService(db, cfg, objects, rdb, assistantService)
	if err != nil {
		log.Fatalf("init knowledge base: %v", err)
	}
	defer index.Close()
	knowledgebase.RegisterRoutes(r, knowledgeService, guard)

	notificationService, err := notifications.NewService(db, municipalityService)
	if err != nil {
		log.Fatalf("init notifications: %v", err)
	}
	notifications.RegisterRoutes(r, notificationService, guard)

	chatOptions := chat.Options{
		Assistants: assistantService,
		Knowledge:  knowledgeService,
		Tools:      toolService,
		Redis:      rdb,
	}
	generator, err := chat.NewClient(cfg.LLM)
	if err != nil {
		log.Fatalf("init chat model client: %v", err)
	}
	if generator != nil {
		chatOptions.Generator = generator
	} else {
		log.Printf("main: LLM_API_KEY not set, assistant replies are disabled")
	}
	chatService, err := chat.NewService(db, chatOptions)
	if err != nil {
		log.Fatalf("init chat: %v", err)
	}
	chat.RegisterRoutes(r, chatService, guard)

	contactService, err := contact.NewService(db, contact.Options{
		Secret:     cfg.Contact.SessionSecret,
		SessionTTL: cfg.Contact.SessionTTL,
		Assistants: assistantService,
		Captcha:    authorization.NewCaptchaStore(5 * time.Minute),
	})
	if err != nil {
		log.Fatalf("init contact: %v", err)
	}
	contact.RegisterRoutes(r, contactService, guard)
	chat.RegisterWidgetRoutes(r, chatService, contactService)

	// 删除市政单位时级联清理各模块数据
	municipalityService.OnDelete(assistantService.DeleteByMunicipality)
	municipalityService.OnDelete(knowledgeService.DeleteByMunicipality)
	municipalityService.OnDelete(notificationService.DeleteByMunicipality)
	municipalityService.OnDelete(chatService.DeleteByMunicipality)
	municipalityService.OnDelete(contactService.DeleteByMunicipality)
	municipalityService.OnDelete(directoryService.DeleteByMunicipality)

	assistantService.OnDelete(knowledgeService.DeleteByAssistant)
	assistantService.OnDelete(toolService.DeleteByAssistant)
	assistantService.OnDelete(chatService.CloseByAssistant)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	go func() {
		if err := knowledgeService.Run(ctx, cfg.Knowledge.Workers, cfg.Knowledge.RefreshInterval); err != nil {
			log.Printf("main: knowledge workers stopped: %v", err)
		}
	}()
	go purgeContactSessions(ctx, contactService)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: shutdown: %v", err)
		}
	}()

	log.Printf("main: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("start server: %v", err)
	}
}

func newKnowledgeService(db *gorm.DB, cfg *config.Config, objects *storage.ObjectStorage, rdb *redis.Client, lookup knowledgebase.AssistantLookup) (*knowledgebase.Service, *vectorstore.QdrantIndex, error) {
	opts := knowledgebase.Options{
		Fetcher:    knowledgebase.NewFetcher(cfg.Knowledge.FetchRate),
		Objects:    objects,
		Assistants: lookup,
		Validator:  knowledgebase.NewValidator(cfg.Knowledge.URLPattern),
		Splitter:   knowledgebase.NewSplitter(cfg.Knowledge.ChunkMaxChars, cfg.Knowledge.ChunkMinChars),
		VectorDim:  cfg.Qdrant.VectorDim,
	}
	if rdb != nil {
		opts.Queue = knowledgebase.NewRedisQueue(rdb, cfg.Knowledge.QueueKey)
	}

	index, err := vectorstore.NewQdrant(cfg.Qdrant)
	if err != nil {
		return nil, nil, err
	}
	if index != nil {
		opts.Index = index
	} else {
		log.Printf("main: QDRANT_ADDR not set, using the in-memory vector index")
	}

	embedder, err := knowledgebase.NewHTTPEmbedder(cfg.Embedding, cfg.Qdrant.VectorDim)
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	if embedder != nil {
		opts.Embedder = embedder
	}
	service, err := knowledgebase.NewService(db, opts)
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	return service, index, nil
}

// purgeContactSessions drops expired widget sessions once an hour.
func purgeContactSessions(ctx context.Context, service *contact.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := service.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("main: purge contact sessions: %v", err)
			} else if removed > 0 {
				log.Printf("main: purged %d expired contact sessions", removed)
			}
		}
	}
}
