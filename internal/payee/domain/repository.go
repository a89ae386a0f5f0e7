package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payee *Payee) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payee, error)
	List(ctx context.Context, db *gorm.DB, filter ListPayeeFilter, page pagination.Pagination) ([]*Payee, error)
	Update(ctx context.Context, db *gorm.DB, payee *Payee) error
}
