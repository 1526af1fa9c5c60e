package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/vcs"
)

// Link is an automation's binding to a remote repository.
type Link struct {
	AutomationID uuid.UUID
	State        vcs.ConnectionState
	Repo         vcs.RepoRef
}

// Store is the persistence the coordinator runs on.
type Store interface {
	// GetLink returns the automation's repository link, or
	// domain.ErrNotFound when the automation was never linked.
	GetLink(ctx context.Context, automationID uuid.UUID) (Link, error)
	SetSyncStatus(ctx context.Context, versionID uuid.UUID, status domain.SyncStatus) error
	GetVersion(ctx context.Context, versionID uuid.UUID) (domain.Version, error)
}

// Breaker guards the remote provider. The circuit trips after repeated
// push failures so a dead remote cannot slow down local versioning.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// MetricsSink defines the coordinator's metrics hooks.
type MetricsSink interface {
	SyncOutcome(outcome string)
}

// Coordinator mirrors newly created versions to linked remote
// repositories. Mirroring is strictly best-effort: the local version
// store is the source of truth and a failed push only marks the version
// sync_failed, it never rolls anything back or blocks a save.
type Coordinator struct {
	store   Store
	client  vcs.Client
	breaker Breaker     // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
}

func New(store Store, client vcs.Client) *Coordinator {
	return &Coordinator{
		store:  store,
		client: client,
	}
}

func (c *Coordinator) WithBreaker(b Breaker) *Coordinator {
	c.breaker = b
	return c
}

func (c *Coordinator) WithMetrics(m MetricsSink) *Coordinator {
	c.metrics = m
	return c
}

// Run processes events from the channel until the context is cancelled,
// then drains remaining buffered events with a timeout.
func (c *Coordinator) Run(ctx context.Context, ch <-chan domain.VersionCreated) {
	for {
		select {
		case <-ctx.Done():
			c.drain(ch)
			return
		case event := <-ch:
			if err := c.Process(ctx, event.Version); err != nil {
				log.Printf("sync: error: %v", err)
			}
		}
	}
}

// DrainTimeout bounds how long buffered events are processed during
// shutdown.
const DrainTimeout = 30 * time.Second

func (c *Coordinator) drain(ch <-chan domain.VersionCreated) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("sync: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("sync: drain complete, processed %d events", count)
				return
			}
			if err := c.Process(drainCtx, event.Version); err != nil {
				log.Printf("sync: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("sync: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Process mirrors one version to its automation's linked repository, if
// any. Unlinked automations keep the version unsynced without error.
func (c *Coordinator) Process(ctx context.Context, v domain.Version) error {
	link, err := c.store.GetLink(ctx, v.AutomationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get link: %w", err)
	}
	if link.State != vcs.StateRepositoryLinked {
		return nil
	}

	key := link.Repo.Slug()
	if c.breaker != nil {
		if err := c.breaker.Allow(key); err != nil {
			c.outcome("circuit_open")
			return c.markFailed(ctx, v, fmt.Errorf("%s: %w", key, err))
		}
	}

	err = c.client.Push(ctx, vcs.PushRequest{
		Repo:          link.Repo,
		SemVer:        v.SemVer,
		CommitMessage: v.CommitMessage,
		Code:          v.Code,
		Dependencies:  v.Dependencies,
		EnvVarNames:   v.EnvVarNames,
	})
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure(key)
		}
		c.outcome("failed")
		return c.markFailed(ctx, v, err)
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess(key)
	}
	if err := c.store.SetSyncStatus(ctx, v.ID, domain.SyncStatusSynced); err != nil {
		return fmt.Errorf("mark version %s synced: %w", v.ID, err)
	}
	c.outcome("synced")
	log.Printf("sync: version %s (%s) pushed to %s", v.ID, v.SemVer, key)
	return nil
}

// markFailed records the failure on the version. The version itself
// stands; only its mirror status changes.
func (c *Coordinator) markFailed(ctx context.Context, v domain.Version, cause error) error {
	if err := c.store.SetSyncStatus(ctx, v.ID, domain.SyncStatusSyncFailed); err != nil {
		return fmt.Errorf("mark version %s sync_failed (push error: %v): %w", v.ID, cause, err)
	}
	log.Printf("sync: version %s (%s) push failed: %v", v.ID, v.SemVer, cause)
	return nil
}

// Retry re-attempts the mirror of a single version on user request.
func (c *Coordinator) Retry(ctx context.Context, versionID uuid.UUID) error {
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	return c.Process(ctx, v)
}

func (c *Coordinator) outcome(o string) {
	if c.metrics != nil {
		c.metrics.SyncOutcome(o)
	}
}
