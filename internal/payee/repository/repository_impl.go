package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payee *domain.Payee) error {
	return db.WithContext(ctx).Create(payee).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payee, error) {
	var payee domain.Payee
	err := db.WithContext(ctx).Where("id = ?", id).First(&payee).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payee, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPayeeFilter, page pagination.Pagination) ([]*domain.Payee, error) {
	var payees []*domain.Payee
	stmt := db.WithContext(ctx).Model(&domain.Payee{})
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", string(filter.Type))
	}
	if filter.Suspended != nil {
		stmt = stmt.Where("suspended = ?", *filter.Suspended)
	}
	stmt = page.Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&payees).Error
	if err != nil {
		return nil, err
	}
	return payees, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payee *domain.Payee) error {
	return db.WithContext(ctx).Save(payee).Error
}
