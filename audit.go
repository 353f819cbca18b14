package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the actions this package emits itself.
// Consumers append their own entity-level actions.
type AuditAction = string

const (
	AuditActionLoginSuccess       AuditAction = "auth.login.success"
	AuditActionLoginFailure       AuditAction = "auth.login.failure"
	AuditActionLogout             AuditAction = "auth.logout"
	AuditActionPasswordChanged    AuditAction = "auth.password.changed"
	AuditActionPasswordReset      AuditAction = "auth.password.reset"
	AuditActionEmailVerified      AuditAction = "auth.email.verified"
	AuditActionSessionRevoked     AuditAction = "auth.session.revoked"
	AuditActionOrgRegistered      AuditAction = "org.registered"
	AuditActionInvitationCreated  AuditAction = "invitation.created"
	AuditActionInvitationAccepted AuditAction = "invitation.accepted"
	AuditActionInvitationRevoked  AuditAction = "invitation.revoked"
)

// AuditEvent captures one before/after change record. The content is
// decided synchronously inside the operation that performed the
// change; only persistence is deferred.
type AuditEvent struct {
	OrganizationID uuid.UUID
	ActorID        uuid.UUID
	Action         AuditAction
	EntityType     string
	EntityID       string
	Before         map[string]any
	After          map[string]any
	Metadata       map[string]any
	OccurredAt     time.Time
}

// AuditRecorder consumes audit events for persistence.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditRecorderFunc adapts a function to the AuditRecorder interface.
type AuditRecorderFunc func(ctx context.Context, event AuditEvent) error

// Record implements AuditRecorder.
func (f AuditRecorderFunc) Record(ctx context.Context, event AuditEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEvent) error {
	return nil
}

func normalizeAuditRecorder(r AuditRecorder) AuditRecorder {
	if r == nil {
		return noopAuditRecorder{}
	}
	return r
}

// NewRepositoryAuditRecorder persists events as append-only rows.
func NewRepositoryAuditRecorder(repo RepositoryManager) AuditRecorder {
	return AuditRecorderFunc(func(ctx context.Context, event AuditEvent) error {
		occurred := event.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now()
		}

		entry := &AuditLogEntry{
			ID:             uuid.New(),
			OrganizationID: event.OrganizationID,
			ActorID:        event.ActorID,
			Action:         event.Action,
			EntityType:     event.EntityType,
			EntityID:       event.EntityID,
			Before:         event.Before,
			After:          event.After,
			Metadata:       event.Metadata,
			CreatedAt:      &occurred,
		}

		_, err := repo.AuditLogs().Create(ctx, entry)
		return err
	})
}

// AuditEmitter decouples audit persistence from the mutation it
// describes: Emit never blocks the caller beyond a channel send and a
// recorder failure is logged, never propagated. Close drains the
// queue; events emitted after Close are dropped.
type AuditEmitter struct {
	recorder AuditRecorder
	logger   Logger
	events   chan AuditEvent
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// AuditEmitterOption customizes an AuditEmitter.
type AuditEmitterOption func(*AuditEmitter)

// WithAuditLogger overrides the emitter's logger.
func WithAuditLogger(logger Logger) AuditEmitterOption {
	return func(e *AuditEmitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAuditQueueSize sets the buffered queue depth.
func WithAuditQueueSize(size int) AuditEmitterOption {
	return func(e *AuditEmitter) {
		if size > 0 {
			e.events = make(chan AuditEvent, size)
		}
	}
}

// NewAuditEmitter creates and starts an emitter draining into recorder.
func NewAuditEmitter(recorder AuditRecorder, opts ...AuditEmitterOption) *AuditEmitter {
	e := &AuditEmitter{
		recorder: normalizeAuditRecorder(recorder),
		logger:   defLogger{},
		events:   make(chan AuditEvent, 256),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	go e.run()
	return e
}

func (e *AuditEmitter) run() {
	defer close(e.done)
	for event := range e.events {
		// Recorder failures never reach the caller; the mutation the
		// event describes has already committed.
		if err := e.recorder.Record(context.Background(), event); err != nil {
			e.logger.Error("failed to record audit event %s: %v", event.Action, err)
		}
	}
}

// Emit queues one event. Drops with a log line when the queue is full
// or the emitter is closed.
func (e *AuditEmitter) Emit(event AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.logger.Error("audit emitter closed, dropping event %s", event.Action)
		return
	}

	select {
	case e.events <- event:
	default:
		e.logger.Error("audit queue full, dropping event %s", event.Action)
	}
}

// Close stops intake and blocks until queued events are recorded.
func (e *AuditEmitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()
	<-e.done
}
