package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/adapter/messaging"
	"github.com/rl1809/eshop-product-service/internal/adapter/storage"
	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/core/service"
	"github.com/rl1809/eshop-product-service/internal/core/uow"
)

const (
	addEvents    = 30
	removeEvents = 50
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	broker := messaging.NewChannelBroker(logger)
	defer broker.Close()

	dispatcher := service.NewDispatcher(
		uow.NewFactory(storage.NewMemoryRepository(), broker, logger),
		logger,
	)
	processor := service.NewCartEventProcessor(dispatcher,
		storage.NewMemoryIdempotencyStore(time.Hour), logger)

	created, err := dispatcher.CreateProduct().Handle(ctx, service.CreateProduct{
		Name:        "Stress Test Item",
		Price:       1,
		Description: "concurrent reservation target",
	})
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	// Removals land first so that every add has a reservation to release.
	var applied atomic.Int32
	var failed atomic.Int32
	start := time.Now()

	fire := func(n int, event func() domain.Event) {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := processor.HandleEvent(ctx, event()); err != nil {
					failed.Add(1)
					return
				}
				applied.Add(1)
			}()
		}
		wg.Wait()
	}

	fire(removeEvents, func() domain.Event {
		return domain.ProductRemovedFromCart{Metadata: domain.NewMetadata(time.Now()), ProductID: created.ID}
	})
	removedFailed := failed.Load()

	fire(addEvents, func() domain.Event {
		return domain.ProductAddedToCart{Metadata: domain.NewMetadata(time.Now()), ProductID: created.ID}
	})
	elapsed := time.Since(start)

	resp, err := dispatcher.GetProducts().Handle(ctx, service.GetProducts{ID: created.ID})
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}
	product := resp.Products[0]

	ok := applied.Load()
	fail := failed.Load()
	addFailed := fail - removedFailed

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Removed Events:   %d\n", removeEvents)
	fmt.Printf("Added Events:     %d\n", addEvents)
	fmt.Printf("Applied:          %d\n", ok)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := int(int32(removeEvents)-removedFailed) - int(int32(addEvents)-addFailed)
	if product.ReservedInventory == expected {
		fmt.Printf("PASS: Reserved inventory is %d\n", expected)
	} else {
		fmt.Printf("FAIL: Expected reserved inventory %d, got %d\n", expected, product.ReservedInventory)
	}

	if ok+fail == int32(addEvents+removeEvents) {
		fmt.Println("PASS: Every event was accounted for")
	} else {
		fmt.Printf("FAIL: Expected %d events, got %d\n", addEvents+removeEvents, ok+fail)
	}
}
