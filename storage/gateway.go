package storage

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ops-console/domain"
)

// Gateway loads and saves a user's layout.
type Gateway interface {
	FetchLayout(ctx context.Context, userID string) ([]domain.Item, error)
	SaveLayout(ctx context.Context, userID string, items []domain.Item) error
}

// Mode selects the persistence strategy.
type Mode string

const (
	ModeRemote      Mode = "remote"
	ModeLocal       Mode = "local"
	ModeRemoteLocal Mode = "remote+local"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRemote, ModeLocal, ModeRemoteLocal:
		return m, nil
	case "":
		return ModeRemote, nil
	}
	return "", fmt.Errorf("unknown persistence mode %q", s)
}

// Select returns the gateway for mode. remote or local may be nil when the
// mode does not use them.
func Select(mode Mode, remote, local Gateway, logger *log.Logger) (Gateway, error) {
	switch mode {
	case ModeRemote:
		if remote == nil {
			return nil, errors.New("remote persistence is not configured")
		}
		return remote, nil
	case ModeLocal:
		if local == nil {
			return nil, errors.New("local persistence is not configured")
		}
		return local, nil
	case ModeRemoteLocal:
		if remote == nil || local == nil {
			return nil, errors.New("remote+local persistence needs both stores")
		}
		return NewFallback(remote, local, logger), nil
	}
	return nil, fmt.Errorf("unknown persistence mode %q", mode)
}

// Fallback reads from primary and falls back to local on transport errors.
// Successful saves to primary are mirrored to local.
type Fallback struct {
	primary Gateway
	local   Gateway
	logger  *log.Logger
	tracer  trace.Tracer
}

func NewFallback(primary, local Gateway, logger *log.Logger) *Fallback {
	return &Fallback{
		primary: primary,
		local:   local,
		logger:  logger,
		tracer:  otel.GetTracerProvider().Tracer("ops-console/storage"),
	}
}

func (f *Fallback) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	ctx, span := f.tracer.Start(ctx, "layout.fetch", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	items, err := f.primary.FetchLayout(ctx, userID)
	if err == nil || errors.Is(err, ErrNoConfig) {
		span.SetAttributes(attribute.String("layout.source", "primary"))
		return items, err
	}
	span.RecordError(err)
	f.logger.WithError(err).WithField("user", userID).Warn("primary layout store unavailable, reading local copy")

	items, lerr := f.local.FetchLayout(ctx, userID)
	if lerr != nil {
		span.SetStatus(codes.Error, "local fallback failed")
		return nil, fmt.Errorf("%w (local: %v)", err, lerr)
	}
	span.SetAttributes(attribute.String("layout.source", "local"))
	return items, nil
}

func (f *Fallback) SaveLayout(ctx context.Context, userID string, items []domain.Item) error {
	ctx, span := f.tracer.Start(ctx, "layout.save", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("layout.items", len(items)),
	))
	defer span.End()

	if err := f.primary.SaveLayout(ctx, userID, items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "primary save failed")
		return err
	}
	if err := f.local.SaveLayout(ctx, userID, items); err != nil {
		span.RecordError(err)
		f.logger.WithError(err).WithField("user", userID).Warn("local layout mirror failed")
	}
	return nil
}
