package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/config"
	"github.com/sunfac/flavr-sub007/recipe"
	"github.com/sunfac/flavr-sub007/upstream"
)

// Manager owns the registry of live conversation sessions: created on
// connect, removed on close, error, or idle timeout, never leaked. It also
// holds the process-wide recipe store that both the voice and chat channels
// write into.
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config

	client    *genai.Client
	completer upstream.Completer
	store     *recipe.Store
}

// NewManager creates a session manager with its model client and an optional
// Redis mirror of session metadata.
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Redis unavailable, continue without it
		redisClient = nil
	}

	return &Manager{
		sessions:  make(map[string]*ClientSession),
		redis:     redisClient,
		config:    cfg,
		client:    client,
		completer: upstream.NewCompletionClient(client, cfg.ChatModel, recipe.BuildTools()),
		store:     recipe.NewStore(),
	}, nil
}

// Store returns the shared recipe store.
func (sm *Manager) Store() *recipe.Store {
	return sm.store
}

// Completer returns the shared Completion Service client.
func (sm *Manager) Completer() upstream.Completer {
	return sm.completer
}

// CreateSession creates a new client session and negotiates its upstream
// binding: live first, degraded on any failure. Binding failure is never
// fatal to the session.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.RLock()
	count := len(sm.sessions)
	sm.mu.RUnlock()

	if count >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, sm.store, sm.config.MaxBufferSize)

	session.MarkConnecting()
	session.Bind(sm.negotiateBinding(ctx, sessionID))

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	sm.mirrorSession(ctx, session)
	return session, nil
}

// negotiateBinding attempts the Live API and falls back to the Completion
// Service when the live session cannot be established for any reason.
func (sm *Manager) negotiateBinding(ctx context.Context, sessionID string) upstream.Binding {
	live, err := upstream.NewLiveBinding(ctx, sm.client, sm.config.LiveModel, DefaultSystemPrompt, recipe.BuildTools())
	if err == nil {
		return live
	}

	log.Printf("⚠️ [%s] live binding failed, running degraded: %v", sessionID[:8], err)
	return upstream.NewFallbackBinding(sm.completer, DefaultSystemPrompt)
}

// mirrorSession records session metadata in Redis when available.
func (sm *Manager) mirrorSession(ctx context.Context, session *ClientSession) {
	if sm.redis == nil {
		return
	}

	mode := "live"
	if session.Binding.Degraded() {
		mode = "degraded"
	}

	sm.redis.HSet(ctx, "session:"+session.ID, map[string]interface{}{
		"created_at":    session.CreatedAt.Format(time.RFC3339),
		"last_activity": session.LastActivity.Format(time.RFC3339),
		"status":        "active",
		"mode":          mode,
	})
	sm.redis.SAdd(ctx, "active_sessions", session.ID)
	sm.redis.Expire(ctx, "session:"+session.ID, sm.config.SessionTimeout)
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}

	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity) > sm.config.SessionTimeout {
			session.Close()
			delete(sm.sessions, id)

			if sm.redis != nil {
				sm.redis.Del(ctx, "session:"+id)
				sm.redis.SRem(ctx, "active_sessions", id)
			}
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
