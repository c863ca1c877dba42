// Command devserver serves the Northwind test service over HTTP for
// trying the client by hand.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nlstn/go-odataclient/internal/servicetest"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	dbType := flag.String("db", "sqlite", "Database: sqlite (in memory) or postgres")
	dsn := flag.String("dsn", "", "PostgreSQL connection string")
	pageSize := flag.Int("page-size", 0, "Server-driven page size, 0 disables paging")
	seed := flag.Bool("seed", true, "Insert sample categories and products")

	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var db *gorm.DB
	var err error
	switch *dbType {
	case "sqlite":
		db, err = servicetest.OpenSQLite()
	case "postgres":
		if *dsn == "" {
			log.Error("-dsn is required for postgres")
			os.Exit(2)
		}
		db, err = gorm.Open(postgres.Open(*dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	default:
		log.Error("Unsupported database", "db", *dbType)
		os.Exit(2)
	}
	if err != nil {
		log.Error("Failed to open database", "error", err)
		os.Exit(1)
	}

	svc, err := servicetest.New(db, servicetest.WithPageSize(*pageSize), servicetest.WithLogger(log))
	if err != nil {
		log.Error("Failed to create service", "error", err)
		os.Exit(1)
	}
	if *seed {
		if err := seedData(svc); err != nil {
			log.Error("Failed to seed data", "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{Addr: *addr, Handler: svc, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Error("Shutdown failed", "error", err)
		}
	}()

	log.Info("Serving OData service", "addr", *addr, "db", *dbType)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func seedData(svc *servicetest.Service) error {
	price := func(f float64) *float64 { return &f }
	category := func(id int) *int { return &id }
	return svc.Seed(
		&servicetest.Category{CategoryID: 1, CategoryName: "Beverages"},
		&servicetest.Category{CategoryID: 2, CategoryName: "Condiments"},
		&servicetest.Product{ProductID: 1, ProductName: "Chai", UnitPrice: price(18), CategoryID: category(1)},
		&servicetest.Product{ProductID: 2, ProductName: "Chang", UnitPrice: price(19), CategoryID: category(1)},
		&servicetest.Product{ProductID: 3, ProductName: "Aniseed Syrup", UnitPrice: price(10), CategoryID: category(2)},
	)
}
