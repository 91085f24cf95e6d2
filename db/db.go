package db

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"inventory/model"
)

type DB interface {
	AddItem(context.Context, int, model.Item) (*model.Item, error)
	GetItem(context.Context, int) (*model.Item, error)
	GetItemByName(context.Context, string) (*model.Item, error)
	ListItems(context.Context) ([]Entry, error)
	UpdateItem(context.Context, int, model.UpdateItem) (*model.Item, error)
	DeleteItem(context.Context, int) error
}

// Entry is an item together with the key it's stored under
type Entry struct {
	ID int `json:"item_id"`
	model.Item
}

var (
	ErrNotFound     = status.Error(codes.NotFound, "Item ID does not exist")
	ErrNameNotFound = status.Error(codes.NotFound, "Item name not found")
	ErrExists       = status.Error(codes.AlreadyExists, "Item already exists")
)

// Client keeps the inventory in memory; every method takes
// the one lock, so updates are atomic
type Client struct {
	mu     sync.RWMutex
	data   map[int]*model.Item
	order  []int // insertion order, for name lookups
	tracer trace.Tracer
}

// NewClient returns an empty inventory; a nil provider
// means the global one
func NewClient(tp trace.TracerProvider) *Client {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		data:   make(map[int]*model.Item),
		tracer: tp.Tracer("inventory/db"),
	}
}

func (c *Client) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, status.Convert(err).Message())

	return err
}

func (c *Client) AddItem(ctx context.Context, id int, i model.Item) (*model.Item, error) {
	_, span := c.start(ctx, "AddItem", attribute.Int("item.id", id))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[id]; ok {
		return nil, fail(span, ErrExists)
	}

	c.data[id] = &i
	c.order = append(c.order, id)

	result := i

	return &result, nil
}

func (c *Client) GetItem(ctx context.Context, id int) (*model.Item, error) {
	_, span := c.start(ctx, "GetItem", attribute.Int("item.id", id))
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.data[id]

	if !ok {
		return nil, fail(span, ErrNotFound)
	}

	result := *i

	return &result, nil
}

func (c *Client) GetItemByName(ctx context.Context, name string) (*model.Item, error) {
	_, span := c.start(ctx, "GetItemByName", attribute.String("item.name", name))
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.order {
		if i := c.data[id]; i.Name == name {
			span.SetAttributes(attribute.Int("item.id", id))

			result := *i

			return &result, nil
		}
	}

	return nil, fail(span, ErrNameNotFound)
}

func (c *Client) ListItems(ctx context.Context) ([]Entry, error) {
	_, span := c.start(ctx, "ListItems")
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Entry, 0, len(c.order))

	for _, id := range c.order {
		result = append(result, Entry{ID: id, Item: *c.data[id]})
	}

	span.SetAttributes(attribute.Int("item.count", len(result)))

	return result, nil
}

func (c *Client) UpdateItem(ctx context.Context, id int, u model.UpdateItem) (*model.Item, error) {
	_, span := c.start(ctx, "UpdateItem", attribute.Int("item.id", id))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.data[id]

	if !ok {
		return nil, fail(span, ErrNotFound)
	}

	*i = model.Apply(*i, u)

	result := *i

	return &result, nil
}

func (c *Client) DeleteItem(ctx context.Context, id int) error {
	_, span := c.start(ctx, "DeleteItem", attribute.Int("item.id", id))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[id]; !ok {
		return fail(span, ErrNotFound)
	}

	delete(c.data, id)

	for n, v := range c.order {
		if v == id {
			c.order = append(c.order[:n], c.order[n+1:]...)
			break
		}
	}

	return nil
}
