package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/adapter/storage"
	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/aquatics?parseTime=true"
	redisAddr     = "localhost:6379"
	productID     = "stress-arowana"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	ctx := context.Background()

	// Initialize MySQL
	db, err := storage.Open(ctx, "mysql", mysqlDSN, 50)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	defer db.Close()

	store := storage.NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	// Clear previous test data
	keys, _ := rdb.Keys(ctx, "idempotency:checkout:stress-*").Result()
	for _, k := range keys {
		rdb.Del(ctx, k)
	}
	db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, productID)
	if _, err := db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, active, stock, min_stock, version, status)
		VALUES (?, 'Silver Arowana', 'fish', 4500, TRUE, ?, 2, 0, 'active')`, productID, initialStock); err != nil {
		log.Fatal().Err(err).Msg("failed to seed product")
	}

	orderService := service.NewOrderService(store, store,
		service.WithIdempotency(storage.NewRedisAdapter(rdb, time.Hour)))

	newRequest := func(buyer int) service.CreateOrderRequest {
		return service.CreateOrderRequest{
			UserID:         fmt.Sprintf("stress-%d", buyer),
			IdempotencyKey: "cart",
			Customer:       domain.CustomerSnapshot{Name: fmt.Sprintf("Buyer %d", buyer), Email: fmt.Sprintf("buyer%d@example.com", buyer)},
			Items:          []service.LineItem{{ProductID: productID, Quantity: 1, Price: decimal.NewFromInt(4500)}},
			Total:          decimal.NewFromInt(4500),
		}
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32
	var acceptedBuyer atomic.Int32
	acceptedBuyer.Store(-1)

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()

			_, err := orderService.CreateOrder(ctx, newRequest(buyer))
			if err == nil {
				successCount.Add(1)
				acceptedBuyer.Store(int32(buyer))
				return
			}
			failCount.Add(1)
			if !errors.Is(err, domain.ErrInsufficientStock) {
				log.Error().Err(err).Int("buyer", buyer).Msg("unexpected checkout failure")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify final stock in the database
	p, err := store.GetProduct(ctx, productID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read final stock")
	}
	fmt.Printf("Final Stock:      %d (%s)\n", p.Stock, p.Status)

	if p.Stock == 0 && p.Status == domain.ProductStatusOutOfStock {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", p.Stock)
	}

	// A replayed checkout must not take stock twice
	if buyer := acceptedBuyer.Load(); buyer >= 0 {
		_, err := orderService.CreateOrder(ctx, newRequest(int(buyer)))
		if errors.Is(err, domain.ErrDuplicateRequest) {
			fmt.Println("PASS: Replayed checkout rejected as duplicate")
		} else {
			fmt.Printf("FAIL: Expected duplicate request, got %v\n", err)
		}
	}
}
