package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidProduct = errors.New("invalid product")
)

const (
	MaxImages         = 5
	LowStockThreshold = 10
	maxNameLen        = 120
)

var (
	Categories    = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}
	ProductSizes  = []string{"XS", "S", "M", "L", "XL", "XXL"}
	ProductColors = []string{"Black", "White", "Red", "Blue", "Green", "Yellow", "Purple", "Pink"}

	maxPrice = decimal.New(99999999, 0)
)

// ProductDraft is what the admin wizard submits.
type ProductDraft struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Stock       int
	Images      []string
	Sizes       []string
	Colors      []string
}

// ProductPatch holds the fields an update touches; nil means unchanged.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	Stock       *int
	Images      *[]string
	Sizes       *[]string
	Colors      *[]string
}

type ProductAnalytics struct {
	TotalProducts int
	TotalValue    decimal.Decimal
	LowStock      int
	Categories    map[string]int
}

// ImageRemover deletes a stored product image given its public URL.
type ImageRemover interface {
	Remove(ctx context.Context, imageURL string) error
}

type ProductService interface {
	Create(ctx context.Context, d ProductDraft) (*model.Product, error)
	Get(ctx context.Context, id string) (*model.Product, error)
	List(ctx context.Context, limit, offset int) ([]model.Product, int64, error)
	Update(ctx context.Context, id string, p ProductPatch) (*model.Product, error)
	Delete(ctx context.Context, id string) error
	Analytics(ctx context.Context) (*ProductAnalytics, error)
}

type productService struct {
	repo   repository.ProductRepository
	images ImageRemover
	log    logrus.FieldLogger
}

// NewProductService accepts a nil ImageRemover; deletes then leave images in
// the bucket.
func NewProductService(repo repository.ProductRepository, images ImageRemover, log logrus.FieldLogger) ProductService {
	return &productService{repo: repo, images: images, log: log}
}

func (s *productService) Create(ctx context.Context, d ProductDraft) (*model.Product, error) {
	if err := normalizeDraft(&d); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	p := &model.Product{
		ID:          id,
		Name:        d.Name,
		Slug:        productSlug(d.Name, id),
		Description: d.Description,
		Price:       d.Price,
		Category:    d.Category,
		Stock:       d.Stock,
		Images:      d.Images,
		Sizes:       d.Sizes,
		Colors:      d.Colors,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *productService) Get(ctx context.Context, id string) (*model.Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *productService) List(ctx context.Context, limit, offset int) ([]model.Product, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *productService) Update(ctx context.Context, id string, patch ProductPatch) (*model.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := ProductDraft{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		Stock:       p.Stock,
		Images:      p.Images,
		Sizes:       p.Sizes,
		Colors:      p.Colors,
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Description != nil {
		d.Description = *patch.Description
	}
	if patch.Price != nil {
		d.Price = *patch.Price
	}
	if patch.Category != nil {
		d.Category = *patch.Category
	}
	if patch.Stock != nil {
		d.Stock = *patch.Stock
	}
	if patch.Images != nil {
		d.Images = *patch.Images
	}
	if patch.Sizes != nil {
		d.Sizes = *patch.Sizes
	}
	if patch.Colors != nil {
		d.Colors = *patch.Colors
	}
	if err := normalizeDraft(&d); err != nil {
		return nil, err
	}
	dropped := missingFrom(p.Images, d.Images)

	if d.Name != p.Name {
		p.Slug = productSlug(d.Name, p.ID)
	}
	p.Name, p.Description, p.Price, p.Category, p.Stock = d.Name, d.Description, d.Price, d.Category, d.Stock
	p.Images, p.Sizes, p.Colors = d.Images, d.Sizes, d.Colors
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.removeImages(ctx, p.ID, dropped)
	return p, nil
}

func (s *productService) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.removeImages(ctx, id, p.Images)
	return nil
}

// best effort: the product row is already gone
func (s *productService) removeImages(ctx context.Context, productID string, urls []string) {
	if s.images == nil {
		return
	}
	for _, u := range urls {
		if err := s.images.Remove(ctx, u); err != nil {
			logging.FromContext(ctx, s.log).WithError(err).
				WithFields(logrus.Fields{"product_id": productID, "image": u}).
				Warn("product image not removed")
		}
	}
}

func (s *productService) Analytics(ctx context.Context) (*ProductAnalytics, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(all), nil
}

func summarize(products []model.Product) *ProductAnalytics {
	a := &ProductAnalytics{
		TotalProducts: len(products),
		TotalValue:    decimal.Zero,
		Categories:    make(map[string]int),
	}
	for _, p := range products {
		a.TotalValue = a.TotalValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
		if p.Stock < LowStockThreshold {
			a.LowStock++
		}
		a.Categories[p.Category]++
	}
	return a
}

func productSlug(name, id string) string {
	s := slug.Make(name)
	if len(id) > 8 {
		id = id[:8]
	}
	if s == "" {
		return id
	}
	return s + "-" + id
}

func normalizeDraft(d *ProductDraft) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.TrimSpace(d.Category)
	if d.Name == "" || len(d.Name) > maxNameLen {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidProduct, maxNameLen)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidProduct)
	}
	if !d.Price.IsPositive() || d.Price.GreaterThan(maxPrice) {
		return fmt.Errorf("%w: price must be greater than 0", ErrInvalidProduct)
	}
	d.Price = d.Price.Round(2)
	if !slices.Contains(Categories, d.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidProduct, d.Category)
	}
	if d.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}

	images, err := normalizeImages(d.Images)
	if err != nil {
		return err
	}
	d.Images = images
	if d.Sizes, err = pickFrom(ProductSizes, d.Sizes, "size"); err != nil {
		return err
	}
	if d.Colors, err = pickFrom(ProductColors, d.Colors, "color"); err != nil {
		return err
	}
	return nil
}

func normalizeImages(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" || slices.Contains(out, raw) {
			continue
		}
		if strings.HasPrefix(raw, "data:") {
			return nil, fmt.Errorf("%w: images must be URLs, not data URIs", ErrInvalidProduct)
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid image url %q", ErrInvalidProduct, raw)
		}
		out = append(out, raw)
	}
	if len(out) > MaxImages {
		return nil, fmt.Errorf("%w: at most %d images", ErrInvalidProduct, MaxImages)
	}
	return out, nil
}

// pickFrom returns the requested options in catalogue order.
func pickFrom(allowed, requested []string, what string) ([]string, error) {
	for _, r := range requested {
		if !slices.Contains(allowed, r) {
			return nil, fmt.Errorf("%w: unknown %s %q", ErrInvalidProduct, what, r)
		}
	}
	out := make([]string, 0, len(requested))
	for _, a := range allowed {
		if slices.Contains(requested, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func missingFrom(before, after []string) []string {
	var out []string
	for _, b := range before {
		if !slices.Contains(after, b) {
			out = append(out, b)
		}
	}
	return out
}
