package api

import (
	"context"

	"ops-console/domain"
	"ops-console/session"
)

// Sessions hands out the per-user layout sessions.
type Sessions interface {
	Get(ctx context.Context, userID string) *session.Session
	Defaults() []domain.Item
}

// Templates is the read-only template catalog.
type Templates interface {
	Get(name string) (domain.Template, bool)
	List() []domain.Template
}

// PendingImports parks a filtered import until the user confirms it.
type PendingImports interface {
	Put(ctx context.Context, userID string, items []domain.Item) (string, error)
	Take(ctx context.Context, userID, token string) ([]domain.Item, error)
}

// Authenticator is implemented by types able to resolve the caller from headers.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (domain.Principal, error)
}

// Upstream starts long-running operations on the operations API.
type Upstream interface {
	StartSync(ctx context.Context) (string, error)
	StartDeployment(ctx context.Context, clusterID string, action domain.DeploymentAction) (string, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error
