package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `gorm:"column:id;primaryKey;size:36"`
	Name        string          `gorm:"column:name;size:120;not null"`
	Slug        string          `gorm:"column:slug;size:160;uniqueIndex;not null"`
	Description string          `gorm:"column:description;type:text;not null"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(10,2);not null"`
	Category    string          `gorm:"column:category;size:64;index;not null"`
	Stock       int             `gorm:"column:stock;not null;default:0"`
	Images      []string        `gorm:"column:images;serializer:json;type:json"`
	Sizes       []string        `gorm:"column:sizes;serializer:json;type:json"`
	Colors      []string        `gorm:"column:colors;serializer:json;type:json"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}
