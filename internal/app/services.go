package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/config"
	"github.com/dokzlo13/towerd/internal/controller"
	"github.com/dokzlo13/towerd/internal/db"
	"github.com/dokzlo13/towerd/internal/eventbus"
	"github.com/dokzlo13/towerd/internal/hw"
	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/ledger"
	"github.com/dokzlo13/towerd/internal/metrics"
	"github.com/dokzlo13/towerd/internal/mqttpub"
	"github.com/dokzlo13/towerd/internal/nvram"
	"github.com/dokzlo13/towerd/internal/serialport"
	"github.com/dokzlo13/towerd/internal/settings"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	Batcher *ledger.Batcher
	Bus     *eventbus.Bus

	// Device
	NVRAM      nvram.Device
	Settings   *settings.Store
	Hardware   *hw.Hardware
	Link       *serialport.Link
	Controller *controller.Controller

	// High-level services
	Loop   *LoopService
	Health *HealthService
	MQTT   *mqttpub.Client
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	dev, database, err := OpenNVRAM(cfg)
	if err != nil {
		return nil, err
	}
	s.NVRAM = dev
	s.DB = database
	s.Settings = settings.NewStore(dev)

	// Event bus fans controller events out to the side services
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	metrics.Subscribe(s.Bus)

	if s.DB != nil && cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(s.DB.DB)
		s.Batcher = ledger.NewBatcher(cfg.Ledger.BatchSize, cfg.Ledger.FlushInterval.Duration(), s.Ledger.AppendBatch)
		ledger.Subscribe(s.Bus, s.Batcher)
	}

	if cfg.MQTT.Enabled {
		s.MQTT, err = mqttpub.Connect(mqttpub.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		mqttpub.New(s.MQTT, cfg.MQTT.TopicPrefix).Subscribe(s.Bus)
	}

	s.Hardware, err = hw.Open(hw.Config{
		Driver: cfg.Hardware.Driver,
		Pins: lamp.Pins{
			Green:  cfg.Hardware.Pins.Green,
			Red:    cfg.Hardware.Pins.Red,
			Yellow: cfg.Hardware.Pins.Yellow,
		},
		ADC:       cfg.Hardware.ADC,
		StaticRaw: cfg.Hardware.StaticRaw,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Controller = controller.New(controller.Options{
		Settings:  s.Settings,
		Output:    s.Hardware.Output,
		Source:    s.Hardware.Source,
		SelfTest:  selfTest(cfg.Loop.GetSelfTestRounds(), cfg.Loop.SelfTestStep.Duration()),
		Publisher: s.Bus,
	})

	s.Link = serialport.New(serialport.Config{
		Name:          cfg.Serial.Port,
		BaudRate:      cfg.Serial.Baud,
		ReadTimeout:   cfg.Serial.ReadTimeout.Duration(),
		RetryInterval: cfg.Serial.RetryInterval.Duration(),
		VID:           cfg.Serial.VID,
	})

	s.Loop = NewLoopService(cfg, s.Controller, s.Link, s.Hardware.Output)
	s.Health = NewHealthService(cfg, s.Loop, s.Link)

	return s, nil
}

// OpenNVRAM opens the configured settings device. The database is nil for the memory backend.
func OpenNVRAM(cfg *config.Config) (nvram.Device, *db.DB, error) {
	switch cfg.NVRAM.Backend {
	case "memory":
		log.Warn().Msg("Using in-memory NV storage, settings will not survive a restart")
		return nvram.NewMemoryDevice(cfg.NVRAM.Device, cfg.NVRAM.Size), nil, nil
	case "sqlite":
		database, err := db.Open(cfg.NVRAM.Path)
		if err != nil {
			return nil, nil, err
		}
		return nvram.NewSQLiteDevice(database.DB, cfg.NVRAM.Device, int64(cfg.NVRAM.Size)), database, nil
	default:
		return nil, nil, fmt.Errorf("unknown nvram backend %q", cfg.NVRAM.Backend)
	}
}

// selfTest returns the power-on lamp sequence, or nil when disabled.
func selfTest(rounds int, step time.Duration) controller.SelfTestFunc {
	if rounds <= 0 {
		return nil
	}
	return func(ctx context.Context, out lamp.Output) error {
		return lamp.SelfTest(ctx, out, rounds, step)
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (loop failure or stall).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Loop.Start(ctx, onFatalError)
	s.Health.Start(ctx)

	if s.Ledger != nil {
		go runLedgerCleanup(ctx, s.Ledger, s.cfg.Ledger.Retention(), s.cfg.Ledger.CleanupInterval.Duration())
	}

	return nil
}

// Stop gracefully stops all services.
// The loop is the only publisher, so it is stopped before the bus closes.
func (s *Services) Stop() error {
	s.Loop.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	s.Bus.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Link != nil {
		if err := s.Link.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close serial port")
		}
	}
	if s.Batcher != nil {
		s.Batcher.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
