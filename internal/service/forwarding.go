package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// ForwardingService 封装实体邮件转寄请求的业务操作。
//
// 请求、费用与出站事件在同一事务中写入，任一步失败整体回滚。
// 服务本身不发送任何通知，下游动作全部由出站事件的消费者负责。
type ForwardingService struct {
	mail    storage.MailItemRepository
	repo    storage.ForwardingRepository
	policy  ForwardingPolicy
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewForwardingService 创建转寄服务。
func NewForwardingService(
	mail storage.MailItemRepository,
	repo storage.ForwardingRepository,
	policy ForwardingPolicy,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *ForwardingService {
	return &ForwardingService{
		mail:    mail,
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		log:     log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock 替换时间源
func (s *ForwardingService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateForwardingInput 定义发起转寄所需的输入。
type CreateForwardingInput struct {
	UserID         int64
	MailItemID     string
	Destination    domain.Address
	Reason         string
	Method         string
	IdempotencyKey string
}

// CreateForwardingResult 转寄请求结果，Created 为 false 表示返回的是已有的活跃请求
type CreateForwardingResult struct {
	Request      *domain.ForwardingRequest
	Created      bool
	ChargeAmount int64
	Message      string
}

// Create 发起转寄请求。
//
// 前置条件依次检查：邮件归属、是否已销毁、状态是否可转寄、是否超出 GDPR 窗口。
func (s *ForwardingService) Create(ctx context.Context, input CreateForwardingInput) (*CreateForwardingResult, error) {
	method, err := s.validateInput(input)
	if err != nil {
		s.metrics.RecordForwarding(domain.CodeOf(err))
		return nil, err
	}

	item, err := s.eligibleItem(ctx, input.UserID, input.MailItemID)
	if err != nil {
		s.metrics.RecordForwarding(domain.CodeOf(err))
		return nil, err
	}

	now := s.now()
	fee, official := s.policy.Fee(item.Tag)
	candidate := &domain.ForwardingRequest{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		MailItemID:     item.ID,
		Status:         domain.ForwardingRequested,
		Destination:    input.Destination,
		Reason:         strings.TrimSpace(input.Reason),
		Method:         method,
		IdempotencyKey: strings.TrimSpace(input.IdempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result := &CreateForwardingResult{ChargeAmount: fee}
	chargeWritten := false
	err = s.repo.WithinForwardingTx(ctx, func(tx storage.ForwardingTx) error {
		req, created, err := tx.CreateOrGetActiveForwarding(ctx, candidate)
		if err != nil {
			return err
		}
		result.Request = req
		result.Created = created
		if !created {
			return nil
		}

		if fee > 0 {
			written, err := s.insertCharge(ctx, tx, req, fee)
			if err != nil {
				return err
			}
			chargeWritten = written
		}

		payload, err := json.Marshal(domain.ForwardingRequestedPayload{
			ForwardingRequestID: req.ID,
			UserID:              req.UserID,
			MailItemID:          req.MailItemID,
			Tag:                 item.Tag,
			IsOfficial:          official,
			FeeMinor:            fee,
			Currency:            s.policy.Currency,
			Method:              req.Method,
			Destination:         req.Destination,
			IdempotencyKey:      req.IdempotencyKey,
			CreatedAt:           req.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		return tx.InsertOutboxEvent(ctx, &domain.ForwardingOutboxEvent{
			ID:                  uuid.NewString(),
			ForwardingRequestID: req.ID,
			EventName:           domain.EventForwardingRequested,
			Payload:             string(payload),
			Status:              domain.OutboxStatusPending,
			CreatedAt:           now,
		})
	})
	if err != nil {
		s.log.Error("forwarding request transaction failed",
			zap.Int64("user_id", input.UserID),
			zap.String("mail_item_id", input.MailItemID),
			zap.Error(err),
		)
		s.metrics.RecordForwarding(domain.CodeInternal)
		return nil, domain.Internal("failed to create forwarding request", err)
	}

	if result.Created {
		result.Message = "Forwarding request created"
		s.metrics.RecordForwarding("created")
		if chargeWritten {
			s.metrics.RecordCharge(s.policy.Currency)
		}
		s.log.Info("forwarding request created",
			zap.String("forwarding_request_id", result.Request.ID),
			zap.Int64("user_id", input.UserID),
			zap.String("tag", item.Tag),
			zap.Int64("fee_minor", fee),
		)
	} else {
		result.Message = "A forwarding request for this item is already in progress"
		s.metrics.RecordForwarding("existing")
	}
	return result, nil
}

func (s *ForwardingService) validateInput(input CreateForwardingInput) (domain.ForwardingMethod, error) {
	if input.UserID <= 0 {
		return "", domain.Validation(domain.CodeInvalidPayload, "userId is required")
	}
	if strings.TrimSpace(input.MailItemID) == "" {
		return "", domain.Validation(domain.CodeInvalidPayload, "mailItemId is required")
	}
	if err := input.Destination.Validate(); err != nil {
		return "", domain.Validation(domain.CodeInvalidAddress, err.Error())
	}
	if err := domain.ValidateReason(input.Reason); err != nil {
		return "", domain.Validation(domain.CodeInvalidPayload, err.Error())
	}
	method, err := domain.ParseForwardingMethod(input.Method)
	if err != nil {
		return "", domain.Validation(domain.CodeInvalidPayload, err.Error())
	}
	return method, nil
}

// eligibleItem 按固定顺序检查邮件能否转寄
func (s *ForwardingService) eligibleItem(ctx context.Context, userID int64, mailItemID string) (*domain.MailItem, error) {
	item, err := s.mail.GetMailItem(ctx, mailItemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "Mail item not found")
		}
		return nil, domain.Internal("failed to load mail item", err)
	}
	if item.UserID != userID || item.Deleted {
		return nil, domain.NotFound(domain.CodeNotFound, "Mail item not found")
	}
	if item.Destroyed() {
		return nil, domain.Forbidden(domain.CodeDestroyed,
			"This mail has been physically destroyed and can no longer be forwarded, but the scan is still available to download")
	}
	if !item.Status.ForwardingEligible() {
		return nil, domain.Conflict(domain.CodeNotEligible,
			fmt.Sprintf("Mail with status %q cannot be forwarded", item.Status))
	}
	if !s.policy.WithinWindow(item.ReceivedTime(), s.now()) {
		return nil, domain.Forbidden(domain.CodeGDPRExpired,
			fmt.Sprintf("Mail is older than %d days and can no longer be forwarded, but it is still available to download", s.policy.WindowDays()))
	}
	return item, nil
}

// insertCharge 写入转寄费，费用表未创建时记录告警后继续
func (s *ForwardingService) insertCharge(ctx context.Context, tx storage.ForwardingTx, req *domain.ForwardingRequest, fee int64) (bool, error) {
	_, err := tx.InsertChargeIfAbsent(ctx, &domain.Charge{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Amount:      fee,
		Currency:    s.policy.Currency,
		Type:        domain.ChargeTypeForwardingFee,
		RelatedType: domain.ChargeRelatedForwarding,
		RelatedID:   req.ID,
		Status:      domain.ChargeStatusPending,
	})
	if errors.Is(err, storage.ErrChargesUnavailable) {
		s.log.Warn("charges table not provisioned, forwarding fee not recorded",
			zap.String("forwarding_request_id", req.ID),
			zap.Int64("fee_minor", fee),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transition 推进转寄状态，非法迁移在写入前拒绝
func (s *ForwardingService) Transition(ctx context.Context, requestID string, to domain.ForwardingStatus) (*domain.ForwardingRequest, error) {
	var updated *domain.ForwardingRequest
	err := s.repo.WithinForwardingTx(ctx, func(tx storage.ForwardingTx) error {
		req, err := tx.LockForwardingRequest(ctx, requestID)
		if err != nil {
			return err
		}

		from := req.Status.Normalize()
		now := s.now()
		if err := req.Apply(to, now); err != nil {
			return err
		}
		if err := tx.UpdateForwardingStatus(ctx, req, from); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.ForwardingStatusChangedPayload{
			ForwardingRequestID: req.ID,
			UserID:              req.UserID,
			MailItemID:          req.MailItemID,
			From:                from,
			To:                  req.Status,
			ChangedAt:           now,
		})
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		if err := tx.InsertOutboxEvent(ctx, &domain.ForwardingOutboxEvent{
			ID:                  uuid.NewString(),
			ForwardingRequestID: req.ID,
			EventName:           domain.EventForwardingStatusChanged,
			Payload:             string(payload),
			Status:              domain.OutboxStatusPending,
			CreatedAt:           now,
		}); err != nil {
			return err
		}
		updated = req
		return nil
	})

	target := string(to.Normalize())
	if err != nil {
		var de *domain.Error
		switch {
		case errors.As(err, &de):
		case errors.Is(err, storage.ErrNotFound):
			err = domain.NotFound(domain.CodeNotFound, "Forwarding request not found")
		case errors.Is(err, storage.ErrStaleStatus):
			err = domain.Conflict(domain.CodeIllegalTransition, "Forwarding request status changed concurrently, retry")
		default:
			s.log.Error("forwarding transition failed", zap.String("forwarding_request_id", requestID), zap.Error(err))
			err = domain.Internal("failed to update forwarding request", err)
		}
		s.metrics.RecordTransition(target, domain.CodeOf(err))
		return nil, err
	}

	s.metrics.RecordTransition(target, "ok")
	s.log.Info("forwarding request transitioned",
		zap.String("forwarding_request_id", updated.ID),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Get 返回调用方自己的转寄请求
func (s *ForwardingService) Get(ctx context.Context, userID int64, requestID string) (*domain.ForwardingRequest, error) {
	req, err := s.repo.GetForwardingRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "Forwarding request not found")
		}
		return nil, domain.Internal("failed to load forwarding request", err)
	}
	if req.UserID != userID {
		return nil, domain.NotFound(domain.CodeNotFound, "Forwarding request not found")
	}
	return req, nil
}
