package domain

import (
	"context"
	"errors"
	"time"

	"github.com/carebound/carebound/pkg/db/pagination"
)

type ListPayeeRequest struct {
	PageToken string
	PageSize  int32
	Type      string
	Suspended *bool
}

type ListPayeeFilter struct {
	Type      PayeeType
	Suspended *bool
}

type ListPayeeResponse struct {
	pagination.PageInfo
	Payees []Payee `json:"payees"`
}

type CreatePayeeRequest struct {
	Type               string
	Name               string
	Email              string
	RailAccountID      string
	MinimumPayoutCents int64
}

type UpdatePayoutAccountRequest struct {
	ID            string
	RailAccountID string
}

type ComplianceUpdateRequest struct {
	ID                        string
	TaxFormOnFile             *bool
	BackgroundCheckValidUntil *time.Time
	RailAccountVerified       *bool
}

type Service interface {
	Create(context.Context, CreatePayeeRequest) (Payee, error)
	GetByID(ctx context.Context, id string) (Payee, error)
	List(context.Context, ListPayeeRequest) (ListPayeeResponse, error)

	// UpdatePayoutAccount swaps the rail destination and clears the
	// verified flag until the rail confirms the new account.
	UpdatePayoutAccount(context.Context, UpdatePayoutAccountRequest) (Payee, error)
	UpdateCompliance(context.Context, ComplianceUpdateRequest) (Payee, error)
	Suspend(ctx context.Context, id string) (Payee, error)
	Reinstate(ctx context.Context, id string) (Payee, error)
}

var (
	ErrInvalidType        = errors.New("invalid_payee_type")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidRailAccount = errors.New("invalid_rail_account")
	ErrInvalidID          = errors.New("invalid_id")
	ErrNotFound           = errors.New("not_found")
)
