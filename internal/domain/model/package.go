package model

import (
	"fitness-payments-bot/internal/domain"

	"github.com/shopspring/decimal"
)

// Package is a purchasable bundle of coins, optionally with subscription days.
type Package struct {
	ID          string
	Name        string
	Coins       int64
	Days        int
	Price       decimal.Decimal
	Currency    string
	Description string
}

func (p *Package) IsZero() bool { return p == nil || p.ID == "" }

// NewPackage validates and constructs a package.
func NewPackage(id, name string, coins int64, days int, price decimal.Decimal, currency string) (*Package, error) {
	if id == "" || name == "" || coins < 0 || days < 0 || !price.IsPositive() || len(currency) != 3 {
		return nil, domain.ErrInvalidArgument
	}
	return &Package{
		ID:       id,
		Name:     name,
		Coins:    coins,
		Days:     days,
		Price:    price,
		Currency: currency,
	}, nil
}
