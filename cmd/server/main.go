package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/patali/fluxgraph/internal/api"
	"github.com/patali/fluxgraph/internal/config"
	"github.com/patali/fluxgraph/internal/credentials"
	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/engine/pool"
	"github.com/patali/fluxgraph/internal/nodes"
	"github.com/patali/fluxgraph/internal/outbox"
	"github.com/patali/fluxgraph/internal/queue"
	"github.com/patali/fluxgraph/internal/sleepsched"
	"github.com/patali/fluxgraph/internal/store"
	"github.com/patali/fluxgraph/internal/trigger"
	"github.com/patali/fluxgraph/internal/webhook"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	registry := engine.NewRegistry()

	emailSenders := map[string]nodes.EmailSender{}
	if cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" {
		emailSenders["mailgun"] = nodes.NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey)
	}
	if awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion)); err == nil {
		emailSenders["ses"] = nodes.NewSESSender(ses.NewFromConfig(awsCfg))
	} else {
		log.Printf("warning: SES sender unavailable: %v", err)
	}

	var openaiClient *openai.Client
	if cfg.OpenAIAPIKey != "" {
		openaiClient = openai.NewClient(cfg.OpenAIAPIKey)
	}

	webhookRegistry := webhook.NewRegistry()

	nodes.Register(registry, nodes.Dependencies{
		HTTPClient:      http.DefaultClient,
		EmailSenders:    emailSenders,
		DefaultProvider: cfg.EmailDefaultProvider,
		OpenAIClient:    openaiClient,
		WebhookRegistry: webhookRegistry,
	})

	var credManager *credentials.Manager
	if cfg.CredentialEncryptionKey != "" {
		credManager, err = credentials.NewManager(db, []byte(cfg.CredentialEncryptionKey))
		if err != nil {
			log.Fatalf("failed to initialize credential manager: %v", err)
		}
	}

	pools := pools(cfg)
	scheduler := &engine.Scheduler{
		Registry:  registry,
		Pools:     pools,
		Publisher: engine.NewLogPublisher(),
		Config: engine.Config{
			MaxConcurrentNodes: cfg.StandardPoolSize,
			AIConcurrentLimit:  cfg.AIConcurrentLimit,
			DefaultTimeout:     cfg.DefaultNodeTimeout,
			WorkflowTimeout:    cfg.DefaultWorkflowTimeout,
		},
	}
	if credManager != nil {
		scheduler.Credentials = credManager
	}

	orchestrator := engine.NewOrchestrator(scheduler, st, st)

	idFunc := func() string { return uuid.New().String() }
	triggerManager := trigger.NewManager(registry, st, orchestrator, idFunc)

	poller := sleepsched.NewPoller(orchestrator, cfg.SleepPollInterval)
	pollerCtx, stopPoller := context.WithCancel(ctx)
	go poller.Run(pollerCtx)
	defer stopPoller()

	queueClient, err := queue.NewClient(ctx, cfg.DatabaseURL, orchestrator)
	if err != nil {
		log.Fatalf("failed to create queue client: %v", err)
	}
	if err := queueClient.Start(ctx); err != nil {
		log.Fatalf("failed to start queue workers: %v", err)
	}
	defer queueClient.Stop(ctx)

	outboxWorker := outbox.NewWorker(st, 5*time.Second)
	registerOutboxDispatchers(outboxWorker, emailSenders, cfg.EmailDefaultProvider, http.DefaultClient)
	outboxCtx, stopOutbox := context.WithCancel(ctx)
	go outboxWorker.Run(outboxCtx)
	defer stopOutbox()

	server := api.NewServer(api.Dependencies{
		Store:           st,
		Orchestrator:    orchestrator,
		TriggerManager:  triggerManager,
		WebhookRegistry: webhookRegistry,
		QueueClient:     queueClient,
		IDFunc:          idFunc,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.Router()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		log.Printf("starting fluxgraph on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server shutdown complete")
}

func pools(cfg *config.Config) *pool.Pools {
	return pool.New(cfg.StandardPoolSize, cfg.AIConcurrentLimit)
}

// registerOutboxDispatchers binds the outbox event types to the same senders
// the inline nodes use, so a message queued with store.CreateOutboxMessage
// is delivered the same way a node would send it inline. No node reads a
// "deferred" config flag or enqueues outbox messages; the nodes send inline.
func registerOutboxDispatchers(w *outbox.Worker, emailSenders map[string]nodes.EmailSender, defaultProvider string, httpClient *http.Client) {
	w.Register("email.send", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		provider, _ := payload["provider"].(string)
		if provider == "" {
			provider = defaultProvider
		}
		sender, ok := emailSenders[provider]
		if !ok {
			return nil, fmt.Errorf("no email sender configured for provider %q", provider)
		}
		msg := nodes.EmailMessage{}
		msg.From, _ = payload["from"].(string)
		msg.Subject, _ = payload["subject"].(string)
		msg.Text, _ = payload["text"].(string)
		msg.HTML, _ = payload["html"].(string)
		if to, ok := payload["to"].(string); ok && to != "" {
			msg.To = []string{to}
		}
		messageID, err := sender.Send(ctx, msg)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message_id": messageID, "provider": provider}, nil
	})

	w.Register("slack.send", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		webhookURL, _ := payload["webhookUrl"].(string)
		if webhookURL == "" {
			return nil, fmt.Errorf("webhookUrl is required")
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal slack payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build slack request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("slack webhook delivery failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
		}
		return map[string]interface{}{"sent": true, "status_code": resp.StatusCode}, nil
	})

	w.Register("http.request", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		url, _ := payload["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("url is required")
		}
		method, _ := payload["method"].(string)
		if method == "" {
			method = http.MethodPost
		}
		var bodyReader io.Reader
		if body, ok := payload["body"]; ok {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal http body: %w", err)
			}
			bodyReader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("build http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()
		return map[string]interface{}{"status_code": resp.StatusCode}, nil
	})
}
