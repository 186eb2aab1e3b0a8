package service

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/uow"
)

const instrumentationName = "github.com/rl1809/eshop-product-service/internal/core/service"

// handlerDeps is shared by every handler built from the same Dispatcher.
type handlerDeps struct {
	sessions *uow.Factory
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*handlerDeps)

func WithClock(now func() time.Time) Option {
	return func(d *handlerDeps) { d.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *handlerDeps) { d.tracer = tracer }
}

// Dispatcher holds one instance of every command and query handler.
// It is built once at startup and shared read-only by transports and consumers.
type Dispatcher struct {
	createProduct              *CreateProductHandler
	getProducts                *GetProductsHandler
	modifyProductInventory     *ModifyProductInventoryHandler
	incrementReservedInventory *IncrementReservedInventoryHandler
	decrementReservedInventory *DecrementReservedInventoryHandler

	tracer trace.Tracer
}

func NewDispatcher(sessions *uow.Factory, logger *zap.Logger, opts ...Option) *Dispatcher {
	deps := handlerDeps{
		sessions: sessions,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &Dispatcher{
		createProduct:              &CreateProductHandler{deps},
		getProducts:                &GetProductsHandler{deps},
		modifyProductInventory:     &ModifyProductInventoryHandler{deps},
		incrementReservedInventory: &IncrementReservedInventoryHandler{reservedInventoryHandler{deps}},
		decrementReservedInventory: &DecrementReservedInventoryHandler{reservedInventoryHandler{deps}},
		tracer:                     deps.tracer,
	}
}

func (d *Dispatcher) CreateProduct() CommandHandler[CreateProduct, CreateProductResponse] {
	return d.createProduct
}

func (d *Dispatcher) GetProducts() QueryHandler[GetProducts, GetProductsResponse] {
	return d.getProducts
}

func (d *Dispatcher) ModifyProductInventory() CommandHandler[ModifyProductInventory, Empty] {
	return d.modifyProductInventory
}

func (d *Dispatcher) IncrementReservedInventory() CommandHandler[IncrementReservedInventory, Empty] {
	return d.incrementReservedInventory
}

func (d *Dispatcher) DecrementReservedInventory() CommandHandler[DecrementReservedInventory, Empty] {
	return d.decrementReservedInventory
}

// abort rolls the session back after cause and reports both failures.
func abort(session *uow.UnitOfWork, cause error) error {
	if err := session.Rollback(); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback after failure: %w", err))
	}
	return cause
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
