package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when recording before Start or after Stop
	ErrNotStarted = errors.New("audit service not started")

	// ErrBufferFull is returned when the event was dropped
	ErrBufferFull = errors.New("audit event buffer full")
)

// AuditService persists access events asynchronously. Recording never
// blocks the caller; when the buffer is full the event is dropped.
type AuditService struct {
	repo        repositories.AccessEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AccessEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.AccessEventRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.AccessEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("audit service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for the buffered ones to be
// persisted. After timeout, in-flight inserts are cancelled.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("audit service stopped gracefully",
			zap.Uint64("recorded", s.recorded.Load()),
			zap.Uint64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// RecordAccess queues an event for persistence without blocking
func (s *AuditService) RecordAccess(event *models.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("path", event.Path))
		return ErrBufferFull
	}
}

// RecordLogin records a successful sign-in
func (s *AuditService) RecordLogin(userID uuid.UUID, role models.Role, path, requestID string) error {
	event := models.NewAccessEvent(models.AccessActionLogin, path).WithUser(userID, role)
	event.RequestID = requestID
	return s.RecordAccess(event)
}

// RecordLogout records a sign-out
func (s *AuditService) RecordLogout(userID uuid.UUID, role models.Role, path, requestID string) error {
	event := models.NewAccessEvent(models.AccessActionLogout, path).WithUser(userID, role)
	event.RequestID = requestID
	return s.RecordAccess(event)
}

// RecordRoleChange records an administrator changing a user's role
func (s *AuditService) RecordRoleChange(actorID uuid.UUID, actorRole models.Role, targetID uuid.UUID, from, to models.Role, requestID string) error {
	event := models.NewAccessEvent(models.AccessActionRoleChanged, "/api/v1/users/"+targetID.String()+"/role").
		WithUser(actorID, actorRole)
	event.RequestID = requestID
	event.Reason = string(to)
	if err := event.SetDetails(map[string]string{
		"target_user_id": targetID.String(),
		"from":           string(from),
		"to":             string(to),
	}); err != nil {
		return err
	}
	return s.RecordAccess(event)
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("path", event.Path))
			continue
		}
		s.recorded.Add(1)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *models.AccessEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert access event: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Started:       s.started,
		WorkerCount:   s.workerCount,
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		Recorded:      s.recorded.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	Started       bool   `json:"started"`
	WorkerCount   int    `json:"worker_count"`
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	Recorded      uint64 `json:"recorded"`
	Dropped       uint64 `json:"dropped"`
	Failed        uint64 `json:"failed"`
}
