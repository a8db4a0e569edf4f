package supervisor

import (
	"context"
	"log"
	"sync"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/remote"
	"github.com/coconiss/WalkTracker-sub000/internal/syncer"
	"github.com/coconiss/WalkTracker-sub000/internal/tracker"
	"github.com/google/uuid"
)

// ProfileSource provides the read-only user physiology.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (activity.Profile, error)
}

// Registry hosts one running supervisor per user.
type Registry struct {
	local    syncer.LocalStore
	remote   remote.Store
	profiles ProfileSource
	cfg      Config

	onStatus   func(activity.Snapshot)
	onLocation func(userID string, fix activity.LocationFix)

	mu       sync.Mutex
	sessions map[string]*Supervisor
	ids      map[string]string
}

type RegistryOption func(*Registry)

func WithStatusSink(fn func(activity.Snapshot)) RegistryOption {
	return func(r *Registry) { r.onStatus = fn }
}

func WithLocationSink(fn func(userID string, fix activity.LocationFix)) RegistryOption {
	return func(r *Registry) { r.onLocation = fn }
}

func NewRegistry(local syncer.LocalStore, remoteStore remote.Store, profiles ProfileSource, cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		local:    local,
		remote:   remoteStore,
		profiles: profiles,
		cfg:      cfg,
		sessions: map[string]*Supervisor{},
		ids:      map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins tracking for the user, or returns the already-running
// supervisor.
func (r *Registry) Start(ctx context.Context, userID string) (*Supervisor, error) {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	profile, err := r.profiles.Profile(ctx, userID)
	if err != nil {
		log.Printf("registry: profile load failed for %s, using defaults: %v", userID, err)
		profile = activity.DefaultProfile
	}

	opts := []tracker.Option{}
	if r.onStatus != nil {
		opts = append(opts, tracker.WithStatusSink(r.onStatus))
	}
	if r.onLocation != nil {
		uid := userID
		opts = append(opts, tracker.WithLocationSink(func(fix activity.LocationFix) {
			r.onLocation(uid, fix)
		}))
	}

	proc := tracker.NewProcessor(userID, profile, opts...)
	engine := syncer.New(r.local, r.remote)
	s := New(userID, proc, engine, r.local, r.remote, r.cfg)

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	r.mu.Lock()
	r.sessions[userID] = s
	r.ids[userID] = sessionID
	r.mu.Unlock()

	log.Printf("registry: tracking started user=%s session=%s", userID, sessionID)
	return s, nil
}

// Get returns the running supervisor for the user, if any.
func (r *Registry) Get(userID string) (*Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Stop ends tracking for the user with a final bounded sync.
func (r *Registry) Stop(ctx context.Context, userID string) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	sessionID := r.ids[userID]
	delete(r.sessions, userID)
	delete(r.ids, userID)
	r.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}
	err := s.Stop(ctx)
	log.Printf("registry: tracking stopped user=%s session=%s", userID, sessionID)
	return err
}

// StopAll shuts every session down, used on server shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	r.mu.Unlock()

	for _, userID := range users {
		if err := r.Stop(ctx, userID); err != nil {
			log.Printf("registry: stop failed for %s: %v", userID, err)
		}
	}
}
