package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/remu-backend/internal/config"
	"github.com/shinyyama/remu-backend/internal/db"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type seedProduct struct {
	Name        string
	Description string
	Price       string
	Category    string
	Stock       int
	Images      []string
	Sizes       []string
	Colors      []string
}

func main() {
	_ = godotenv.Load()
	log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := run(log); err != nil {
		log.WithError(err).Fatal("seed failed")
	}
}

func run(log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.HasDB() {
		return fmt.Errorf("DB_USER, DB_NAME and DB_HOST or INSTANCE_CONNECTION_NAME are required")
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb, cfg.DirectoryBackend == config.DirectorySQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := repository.NewProductRepository(gdb)
	canSeed, err := shouldSeed(ctx, repo)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Info("products already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}
	if err := gdb.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Product{}).Error; err != nil {
		return fmt.Errorf("clear products: %w", err)
	}

	// no image remover: the sample images are hosted elsewhere
	svc := service.NewProductService(repo, nil, log)
	for _, sp := range sampleProducts() {
		p, err := svc.Create(ctx, service.ProductDraft{
			Name:        sp.Name,
			Description: sp.Description,
			Price:       decimal.RequireFromString(sp.Price),
			Category:    sp.Category,
			Stock:       sp.Stock,
			Images:      sp.Images,
			Sizes:       sp.Sizes,
			Colors:      sp.Colors,
		})
		if err != nil {
			return fmt.Errorf("insert %q: %w", sp.Name, err)
		}
		log.WithFields(logrus.Fields{"id": p.ID, "slug": p.Slug}).Debug("product seeded")
	}

	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	log.WithField("products", n).Info("seed complete")
	return nil
}

func shouldSeed(ctx context.Context, repo repository.ProductRepository) (bool, error) {
	cnt, err := repo.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count products: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(os.Getenv("FORCE_SEED"), "true"), nil
}

func unsplash(id string) string {
	return fmt.Sprintf("https://images.unsplash.com/photo-%s?w=500&auto=format", id)
}

func sampleProducts() []seedProduct {
	return []seedProduct{
		{
			Name: "Wireless Bluetooth Earbuds", Description: "High-quality wireless earbuds with noise cancellation",
			Price: "49.99", Category: "Electronics", Stock: 50,
			Images: []string{unsplash("1606220588913-b3aacb4d2f46"), unsplash("1606220588771-5d6c5ca79f91")},
			Colors: []string{"Black", "White"},
		},
		{
			Name: "Smart Watch Series 5", Description: "Advanced smartwatch with health monitoring features",
			Price: "199.99", Category: "Electronics", Stock: 30,
			Images: []string{unsplash("1579586337278-3befd40fd17a"), unsplash("1434494878577-86c23bcb06b9")},
			Colors: []string{"Black", "Pink"},
		},
		{
			Name: "Premium Leather Wallet", Description: "Handcrafted genuine leather wallet with RFID protection",
			Price: "39.99", Category: "Clothing", Stock: 100,
			Images: []string{unsplash("1627123424574-724758594e93")},
			Colors: []string{"Black"},
		},
		{
			Name: "Yoga Mat Premium", Description: "Eco-friendly non-slip yoga mat with carrying strap",
			Price: "29.99", Category: "Sports", Stock: 75,
			Images: []string{unsplash("1601925260368-ae2f83cf8b7f")},
			Colors: []string{"Purple", "Green", "Blue"},
		},
		{
			Name: "Stainless Steel Water Bottle", Description: "Vacuum insulated bottle keeps drinks cold for 24 hours",
			Price: "24.99", Category: "Home", Stock: 120,
			Images: []string{unsplash("1602143407151-7111542de6e8")},
			Colors: []string{"White", "Blue"},
		},
		{
			Name: "Portable Power Bank", Description: "20000mAh high-capacity power bank with fast charging",
			Price: "45.99", Category: "Electronics", Stock: 60,
			Images: []string{unsplash("1609592424825-fe0e64de0fe8")},
		},
		{
			Name: "Wireless Gaming Mouse", Description: "RGB gaming mouse with programmable buttons",
			Price: "59.99", Category: "Electronics", Stock: 8,
			Images: []string{unsplash("1605773527852-c546a8584ea3")},
		},
		{
			Name: "Mechanical Keyboard", Description: "RGB mechanical keyboard with blue switches",
			Price: "89.99", Category: "Electronics", Stock: 45,
			Images: []string{unsplash("1511467687858-23d96c32e4ae")},
		},
		{
			Name: "Organic Cotton Hoodie", Description: "Relaxed fit hoodie made from organic cotton",
			Price: "54.00", Category: "Clothing", Stock: 6,
			Sizes:  []string{"S", "M", "L", "XL"},
			Colors: []string{"Black", "White", "Red"},
		},
		{
			Name: "Science Fiction Anthology", Description: "Twenty short stories from modern science fiction writers",
			Price: "18.50", Category: "Books", Stock: 40,
		},
	}
}
