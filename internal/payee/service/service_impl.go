package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payee.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePayeeRequest) (domain.Payee, error) {
	payeeType, err := parsePayeeType(req.Type)
	if err != nil {
		return domain.Payee{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Payee{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Payee{}, domain.ErrInvalidEmail
	}

	if req.MinimumPayoutCents < 0 {
		return domain.Payee{}, domain.ErrInvalidRailAccount
	}

	now := time.Now().UTC()
	payee := domain.Payee{
		ID:                 s.genID.Generate(),
		Type:               payeeType,
		Name:               name,
		Email:              email,
		RailAccountID:      strings.TrimSpace(req.RailAccountID),
		MinimumPayoutCents: req.MinimumPayoutCents,
		Metadata:           datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, &payee); err != nil {
		return domain.Payee{}, err
	}

	s.log.Info("payee created",
		zap.String("payee_id", payee.ID.String()),
		zap.String("type", string(payee.Type)),
	)
	return payee, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Payee, error) {
	payeeID, err := s.parseID(id)
	if err != nil {
		return domain.Payee{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, payeeID)
	if err != nil {
		return domain.Payee{}, err
	}
	if item == nil {
		return domain.Payee{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPayeeRequest) (domain.ListPayeeResponse, error) {
	filter := domain.ListPayeeFilter{Suspended: req.Suspended}
	if trimmed := strings.TrimSpace(req.Type); trimmed != "" {
		payeeType, err := parsePayeeType(trimmed)
		if err != nil {
			return domain.ListPayeeResponse{}, err
		}
		filter.Type = payeeType
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListPayeeResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(payee *domain.Payee) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payee.ID.String(),
			CreatedAt: payee.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	payees := make([]domain.Payee, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payees = append(payees, *item)
	}

	resp := domain.ListPayeeResponse{Payees: payees}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) UpdatePayoutAccount(ctx context.Context, req domain.UpdatePayoutAccountRequest) (domain.Payee, error) {
	railAccountID := strings.TrimSpace(req.RailAccountID)
	if railAccountID == "" {
		return domain.Payee{}, domain.ErrInvalidRailAccount
	}

	return s.mutate(ctx, req.ID, func(payee *domain.Payee) {
		payee.RailAccountID = railAccountID
		payee.RailAccountVerified = false
	})
}

func (s *Service) UpdateCompliance(ctx context.Context, req domain.ComplianceUpdateRequest) (domain.Payee, error) {
	return s.mutate(ctx, req.ID, func(payee *domain.Payee) {
		if req.TaxFormOnFile != nil {
			payee.TaxFormOnFile = *req.TaxFormOnFile
		}
		if req.BackgroundCheckValidUntil != nil {
			payee.BackgroundCheckValidUntil = req.BackgroundCheckValidUntil
		}
		if req.RailAccountVerified != nil {
			payee.RailAccountVerified = *req.RailAccountVerified
		}
	})
}

func (s *Service) Suspend(ctx context.Context, id string) (domain.Payee, error) {
	payee, err := s.mutate(ctx, id, func(payee *domain.Payee) {
		payee.Suspended = true
	})
	if err == nil {
		s.log.Info("payee suspended", zap.String("payee_id", payee.ID.String()))
	}
	return payee, err
}

func (s *Service) Reinstate(ctx context.Context, id string) (domain.Payee, error) {
	return s.mutate(ctx, id, func(payee *domain.Payee) {
		payee.Suspended = false
	})
}

func (s *Service) mutate(ctx context.Context, id string, apply func(*domain.Payee)) (domain.Payee, error) {
	payeeID, err := s.parseID(id)
	if err != nil {
		return domain.Payee{}, err
	}

	var updated domain.Payee
	err = s.db.Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, payeeID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}

		apply(item)
		item.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Payee{}, err
	}
	return updated, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parsePayeeType(value string) (domain.PayeeType, error) {
	switch domain.PayeeType(strings.ToLower(strings.TrimSpace(value))) {
	case domain.PayeeTypeCaregiver:
		return domain.PayeeTypeCaregiver, nil
	case domain.PayeeTypeHousekeeper:
		return domain.PayeeTypeHousekeeper, nil
	case domain.PayeeTypeMarketingPartner:
		return domain.PayeeTypeMarketingPartner, nil
	case domain.PayeeTypeTrainingCenter:
		return domain.PayeeTypeTrainingCenter, nil
	default:
		return "", domain.ErrInvalidType
	}
}
