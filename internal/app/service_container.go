package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"intent-backend/internal/clock"
	"intent-backend/internal/config"
	"intent-backend/internal/db"
	"intent-backend/internal/repository"
	"intent-backend/internal/services"
	"intent-backend/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// ServiceContainer wires repositories, transport and services together. The
// database driver and transport mode come from config, so the same container
// runs against postgres+NATS in production and memory+local in tests.
type ServiceContainer struct {
	// Database (nil when running on the memory driver)
	DB *gorm.DB

	// Repositories
	IntentRepo    repository.IntentRepository
	ReceiptRepo   repository.ReceiptRepository
	ProcessedRepo repository.ProcessedMessageRepository
	BatchRootRepo repository.BatchRootRepository

	// Transport
	Transport      transport.Transport
	localTransport *transport.LocalTransport
	natsTransport  *transport.NATSTransport

	// Core Services
	Clock                clock.Clock
	Orchestrator         *services.OrchestratorService
	WebSocketPushService *services.WebSocketPushService
	DeadlineSweeper      *services.DeadlineSweeperService

	sealStop chan struct{}
	sealWG   sync.WaitGroup
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

func witnessPollInterval() time.Duration {
	if config.AppConfig != nil && config.AppConfig.Transport.WitnessPollIntervalMs > 0 {
		return config.AppConfig.WitnessPollInterval()
	}
	return 500 * time.Millisecond
}

func witnessMaxWait() time.Duration {
	if config.AppConfig != nil && config.AppConfig.Transport.WitnessMaxWaitMs > 0 {
		return config.AppConfig.WitnessMaxWait()
	}
	return 30 * time.Second
}

func sweepInterval() time.Duration {
	if config.AppConfig != nil && config.AppConfig.Protocol.SweepIntervalSeconds > 0 {
		return config.AppConfig.SweepInterval()
	}
	return 30 * time.Second
}

// InitializeContainer builds the container once and starts the background
// services.
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{
			Clock: clock.NewSystemClock(),
		}

		if err := container.initRepositories(); err != nil {
			initErr = fmt.Errorf("failed to initialize repositories: %w", err)
			return
		}

		if err := container.initTransport(); err != nil {
			initErr = fmt.Errorf("failed to initialize transport: %w", err)
			return
		}

		if err := container.initCoreServices(); err != nil {
			initErr = fmt.Errorf("failed to initialize core services: %w", err)
			return
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

// initRepositories picks the storage backend from config.database.driver
func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	driver := "postgres"
	if config.AppConfig != nil && config.AppConfig.Database.Driver != "" {
		driver = config.AppConfig.Database.Driver
	}

	switch driver {
	case "memory":
		receipts := repository.NewMemoryReceiptRepository()
		c.IntentRepo = repository.NewMemoryIntentRepository(receipts)
		c.ReceiptRepo = receipts
		c.ProcessedRepo = repository.NewMemoryProcessedMessageRepository()
		c.BatchRootRepo = repository.NewMemoryBatchRootRepository()
		log.Println("✅ Repositories initialized (in-memory driver)")
	case "postgres":
		database, err := db.InitDB()
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		c.DB = database
		c.IntentRepo = repository.NewIntentRepository(database)
		c.ReceiptRepo = repository.NewReceiptRepository(database)
		c.ProcessedRepo = repository.NewProcessedMessageRepository(database)
		c.BatchRootRepo = repository.NewBatchRootRepository(database)
		log.Println("✅ Repositories initialized (postgres driver)")
	default:
		return fmt.Errorf("unknown database driver: %s", driver)
	}

	return nil
}

// initTransport picks the message transport from config.transport.mode
func (c *ServiceContainer) initTransport() error {
	mode := "local"
	if config.AppConfig != nil && config.AppConfig.Transport.Mode != "" {
		mode = config.AppConfig.Transport.Mode
	}

	switch mode {
	case "local":
		c.localTransport = transport.NewLocalTransport(c.BatchRootRepo, witnessPollInterval())
		c.Transport = c.localTransport
		c.startSealLoop()
		log.Println("✅ Transport initialized (local)")
	case "nats":
		if config.AppConfig == nil || config.AppConfig.NATS.URL == "" {
			return fmt.Errorf("NATS transport selected but nats.url is not configured")
		}
		timeout := 5 * time.Second
		if config.AppConfig.NATS.Timeout > 0 {
			timeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
		}
		nt, err := transport.NewNATSTransport(
			config.AppConfig.NATS.URL,
			timeout,
			c.BatchRootRepo,
			witnessPollInterval(),
		)
		if err != nil {
			log.Printf("❌ Failed to connect to NATS at %s: %v", config.AppConfig.NATS.URL, err)
			log.Printf("   → Please ensure NATS server is running on port 4222 (or configured port)")
			return fmt.Errorf("failed to create NATS transport: %w", err)
		}
		c.natsTransport = nt
		c.Transport = nt
		log.Printf("✅ Transport initialized (NATS: %s)", config.AppConfig.NATS.URL)
	default:
		return fmt.Errorf("unknown transport mode: %s", mode)
	}

	return nil
}

// startSealLoop periodically seals the local transport's open batch so that
// membership witnesses become available without external settlement activity.
func (c *ServiceContainer) startSealLoop() {
	interval := 2 * time.Second
	if config.AppConfig != nil && config.AppConfig.Transport.BatchSealIntervalMs > 0 {
		interval = time.Duration(config.AppConfig.Transport.BatchSealIntervalMs) * time.Millisecond
	}

	c.sealStop = make(chan struct{})
	c.sealWG.Add(1)
	go func() {
		defer c.sealWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, sealed, err := c.localTransport.SealBatch(context.Background()); err != nil {
					log.Printf("⚠️ Batch seal failed: %v", err)
				} else if sealed {
					log.Printf("📦 Sealed batch #%d", c.localTransport.SealedBatches()-1)
				}
			case <-c.sealStop:
				return
			}
		}
	}()
}

// initCoreServices builds the orchestrator and starts the background services
func (c *ServiceContainer) initCoreServices() error {
	log.Println("🔧 Initializing Core Services...")

	c.WebSocketPushService = services.NewWebSocketPushService()

	var feeBps int64
	var settlementAddr common.Address
	if config.AppConfig != nil {
		feeBps = config.AppConfig.Protocol.FeeBps
		settlementAddr = common.HexToAddress(config.AppConfig.Protocol.SettlementAddress)
	}

	c.Orchestrator = services.NewOrchestratorService(
		c.IntentRepo,
		c.ReceiptRepo,
		c.ProcessedRepo,
		c.BatchRootRepo,
		c.Transport,
		c.Clock,
		feeBps,
		settlementAddr,
		c.WebSocketPushService,
	)

	c.DeadlineSweeper = services.NewDeadlineSweeperService(
		c.IntentRepo,
		c.Clock,
		c.WebSocketPushService,
		sweepInterval(),
	)
	c.DeadlineSweeper.Start()
	log.Printf("✅ [ServiceContainer] Deadline sweeper started")

	// NATS mode: settlement confirmations arrive over the wire instead of
	// being applied by the caller. Each message waits for its membership
	// witness before it is applied.
	if c.natsTransport != nil {
		err := c.natsTransport.SubscribeConfirmations(func(content []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), witnessMaxWait())
			defer cancel()
			if _, err := c.Orchestrator.AwaitConfirmation(ctx, content, 0); err != nil {
				log.Printf("⚠️ Confirmation rejected: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to confirmations: %w", err)
		}
		log.Printf("✅ [ServiceContainer] Subscribed to settlement confirmations")
	}

	log.Println("✅ Core Services initialized")
	return nil
}

// Cleanup stops background services in reverse start order
func (c *ServiceContainer) Cleanup() {
	log.Println("🧹 Cleaning up Service Container...")

	if c.DeadlineSweeper != nil {
		c.DeadlineSweeper.Stop()
	}

	if c.sealStop != nil {
		close(c.sealStop)
		c.sealWG.Wait()
	}

	if c.natsTransport != nil {
		c.natsTransport.Close()
	}

	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	log.Println("✅ Service Container cleaned up")
}
