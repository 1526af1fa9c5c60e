package vcs

import (
	"context"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// ConnectionState is how far an automation has progressed toward a
// linked remote repository.
type ConnectionState string

const (
	StateNoConnection     ConnectionState = "no_connection"
	StateAccountConnected ConnectionState = "account_connected"
	StateRepositoryLinked ConnectionState = "repository_linked"
)

// Account is a connected version-control account.
type Account struct {
	Provider string
	Login    string
	// AvatarURL is informational only.
	AvatarURL string
}

// RepoRef identifies a remote repository.
type RepoRef struct {
	Owner  string
	Name   string
	Branch string
}

func (r RepoRef) Slug() string {
	return r.Owner + "/" + r.Name
}

// PushRequest is one version snapshot to mirror to a remote repository.
type PushRequest struct {
	Repo          RepoRef
	SemVer        string
	CommitMessage string
	Code          domain.CodePayload
	Dependencies  []string
	EnvVarNames   []string
}

// Client is the version-control provider surface the sync coordinator
// and the API depend on. Implementations wrap a provider bridge; they
// never see environment-variable values, only names.
type Client interface {
	// Connect exchanges an authorization code for a connected account.
	Connect(ctx context.Context, authorizationCode string) (Account, error)
	// ListRepositories returns the account's repositories.
	ListRepositories(ctx context.Context) ([]RepoRef, error)
	// CreateRepository creates a repository under the connected account.
	CreateRepository(ctx context.Context, name string, private bool) (RepoRef, error)
	// LinkRepository binds an automation to a repository.
	LinkRepository(ctx context.Context, automationID uuid.UUID, repo RepoRef) error
	// UnlinkRepository removes the binding. The remote repository is left
	// untouched.
	UnlinkRepository(ctx context.Context, automationID uuid.UUID) error
	// Disconnect severs the account. Remote repositories are left
	// untouched.
	Disconnect(ctx context.Context) error
	// Push mirrors one version to the linked repository.
	Push(ctx context.Context, req PushRequest) error
}
