package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
)

// ErrNoConfig is returned when the user has no stored layout.
var ErrNoConfig = domain.ErrNoConfig

// layoutRowKey is the single row each user owns in the layouts table.
const layoutRowKey = "layout"

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage keeps one layout entity per user in Azure Table storage and
// publishes an audit event to a queue after each save.
type Storage struct {
	layoutTable tableClient
	eventQueue  queueClient
	logger      *log.Logger
	now         func() time.Time
}

// New creates a Storage instance from the given connection string. An empty
// eventQueue disables audit events.
func New(connStr, layoutsTable, eventQueue string, logger *log.Logger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{layoutTable: svc.NewClient(layoutsTable), logger: logger, now: time.Now}
	if eventQueue == "" {
		return s, nil
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s.eventQueue = q
	return s, nil
}

type layoutEntity struct {
	aztables.Entity
	Items     string `json:"Items"`
	ItemCount int    `json:"ItemCount"`
	UpdatedAt int64  `json:"UpdatedAt"`
}

// FetchLayout returns the stored items for userID, or ErrNoConfig.
func (s *Storage) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	resp, err := s.layoutTable.GetEntity(ctx, userID, layoutRowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("get layout entity: %w", err)
	}
	return decodeLayoutEntity(resp.Value)
}

func decodeLayoutEntity(data []byte) ([]domain.Item, error) {
	var ent layoutEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return nil, fmt.Errorf("decode layout entity: %w", err)
	}
	if ent.Items == "" {
		return nil, ErrNoConfig
	}
	var items []domain.Item
	if err := sonic.ConfigStd.UnmarshalFromString(ent.Items, &items); err != nil {
		return nil, fmt.Errorf("decode layout items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoConfig
	}
	return items, nil
}

// SaveLayout replaces the stored layout. The last writer wins. A failed
// event publish is logged and does not fail the save.
func (s *Storage) SaveLayout(ctx context.Context, userID string, items []domain.Item) error {
	payload, err := sonic.ConfigStd.MarshalToString(items)
	if err != nil {
		return fmt.Errorf("encode layout items: %w", err)
	}
	now := s.now().UTC()
	ent := layoutEntity{
		Entity:    aztables.Entity{PartitionKey: userID, RowKey: layoutRowKey},
		Items:     payload,
		ItemCount: len(items),
		UpdatedAt: now.UnixMilli(),
	}
	data, err := sonic.ConfigStd.Marshal(ent)
	if err != nil {
		return fmt.Errorf("encode layout entity: %w", err)
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.layoutTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("upsert layout entity: %w", err)
	}
	ev := domain.LayoutEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.LayoutSaved,
		ItemCount: len(items),
		Data:      orderSummary(items),
		Timestamp: now.UnixMilli(),
	}
	if err := s.publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("user", userID).Warn("layout event not published")
	}
	return nil
}

func (s *Storage) publish(ctx context.Context, ev domain.LayoutEvent) error {
	if s.eventQueue == nil {
		return nil
	}
	data, err := sonic.ConfigStd.MarshalToString(ev)
	if err != nil {
		return err
	}
	if _, err := s.eventQueue.EnqueueMessage(ctx, data, nil); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// orderSummary lists item ids in stored order for the audit feed.
func orderSummary(items []domain.Item) sonic.NoCopyRawMessage {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	data, err := sonic.Marshal(ids)
	if err != nil {
		return nil
	}
	return data
}
