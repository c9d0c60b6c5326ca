package logic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm"
)

// StampLogic 印章账本业务逻辑
type StampLogic struct {
	db *gorm.DB
}

// NewStampLogic 创建印章账本业务逻辑
func NewStampLogic(db *gorm.DB) *StampLogic {
	return &StampLogic{db: db}
}

// Create 创建印章记录，txHash 与 stampId 均唯一
func (l *StampLogic) Create(ctx context.Context, input *model.Stamp) (*model.StampModel, error) {
	stamp, err := l.validateStamp(input)
	if err != nil {
		return nil, err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkDuplicate(tx, stamp); err != nil {
			return err
		}
		return tx.Create(stamp).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发写入时由唯一索引兜底；冲突记录已被删除时仍按重复处理
		if dupErr := checkDuplicate(l.db.WithContext(ctx), stamp); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("%w: %v", ErrDuplicateTransaction, err)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) || errors.Is(err, ErrDuplicateStamp) {
			return nil, err
		}
		return nil, fmt.Errorf("创建印章失败: %w", err)
	}

	logger.Info("Stamp %s created for %s (store: %s, tx: %s)", stamp.StampId, stamp.OwnerAddress, stamp.StoreName, stamp.TxHash)
	return stamp, nil
}

// checkDuplicate 判断冲突来自 txHash 还是 stampId
func checkDuplicate(tx *gorm.DB, stamp *model.StampModel) error {
	var count int64
	if err := tx.Model(&model.StampModel{}).Where("tx_hash = ?", stamp.TxHash).Count(&count).Error; err != nil {
		return fmt.Errorf("查询交易哈希失败: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, stamp.TxHash)
	}

	if err := tx.Model(&model.StampModel{}).Where("stamp_id = ?", stamp.StampId).Count(&count).Error; err != nil {
		return fmt.Errorf("查询印章ID失败: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateStamp, stamp.StampId)
	}
	return nil
}

// validateStamp 校验并规范化创建请求
func (l *StampLogic) validateStamp(input *model.Stamp) (*model.StampModel, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: 请求体为空", ErrValidation)
	}

	required := []struct {
		name  string
		empty bool
	}{
		{"stampId", strings.TrimSpace(input.StampId) == ""},
		{"ownerAddress", strings.TrimSpace(input.OwnerAddress) == ""},
		{"storeName", strings.TrimSpace(input.StoreName) == ""},
		{"discount", strings.TrimSpace(input.Discount) == ""},
		{"discountType", input.DiscountType == ""},
		{"discountAmount", input.DiscountAmount == nil},
		{"txHash", strings.TrimSpace(input.TxHash) == ""},
		{"validUntil", input.ValidUntil == nil || input.ValidUntil.IsZero()},
		{"ipfs", strings.TrimSpace(input.Ipfs) == ""},
		{"variant", strings.TrimSpace(input.Variant) == ""},
	}
	var missing []string
	for _, field := range required {
		if field.empty {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: 缺少必填字段 %s", ErrValidation, strings.Join(missing, ", "))
	}

	if !common.IsHexAddress(input.OwnerAddress) {
		return nil, fmt.Errorf("%w: 无效的钱包地址 %q", ErrValidation, input.OwnerAddress)
	}

	txHash := strings.TrimSpace(input.TxHash)
	if raw, err := hexutil.Decode(txHash); err != nil || len(raw) != common.HashLength {
		return nil, fmt.Errorf("%w: 无效的交易哈希 %q", ErrValidation, input.TxHash)
	}

	discountType := model.DiscountType(input.DiscountType)
	if !discountType.Valid() {
		return nil, fmt.Errorf("%w: discountType 必须为 percentage 或 fixed", ErrValidation)
	}

	amount := *input.DiscountAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil, fmt.Errorf("%w: discountAmount 不能为负数", ErrValidation)
	}
	if discountType == model.DiscountTypePercentage && amount > 100 {
		return nil, fmt.Errorf("%w: 百分比折扣 discountAmount 必须在 0-100 之间", ErrValidation)
	}

	status := model.StampStatusActive
	if input.Status != "" {
		status = model.StampStatus(input.Status)
		if status != model.StampStatusActive && status != model.StampStatusInactive {
			return nil, fmt.Errorf("%w: 新印章状态只能为 active 或 inactive", ErrValidation)
		}
	}

	createdAt := time.Now().UTC()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = input.CreatedAt.UTC()
	}

	return &model.StampModel{
		CreatedAt:      createdAt,
		StampId:        strings.TrimSpace(input.StampId),
		OwnerAddress:   common.HexToAddress(input.OwnerAddress).Hex(),
		TxHash:         common.HexToHash(txHash).Hex(),
		StoreName:      strings.TrimSpace(input.StoreName),
		Discount:       input.Discount,
		DiscountType:   discountType,
		DiscountAmount: amount,
		ValidUntil:     input.ValidUntil.UTC(),
		Ipfs:           input.Ipfs,
		Variant:        input.Variant,
		Status:         status,
	}, nil
}

// FindByOwner 按持有人查询，最新创建的在前
func (l *StampLogic) FindByOwner(ctx context.Context, ownerAddress string, filter model.StampFilter) ([]model.StampModel, error) {
	if !common.IsHexAddress(ownerAddress) {
		return nil, fmt.Errorf("%w: 无效的钱包地址 %q", ErrValidation, ownerAddress)
	}

	query := l.db.WithContext(ctx).Where("owner_address = ?", common.HexToAddress(ownerAddress).Hex())
	query, err := applyFilter(query, filter)
	if err != nil {
		return nil, err
	}
	if filter.StoreName != "" {
		query = query.Where("store_name = ?", filter.StoreName)
	}

	var stamps []model.StampModel
	if err := query.Order("created_at DESC, id DESC").Find(&stamps).Error; err != nil {
		return nil, fmt.Errorf("获取印章列表失败: %w", err)
	}
	return stamps, nil
}

// FindByStore 按店铺查询，最新创建的在前
func (l *StampLogic) FindByStore(ctx context.Context, storeName string, filter model.StampFilter) ([]model.StampModel, error) {
	if strings.TrimSpace(storeName) == "" {
		return nil, fmt.Errorf("%w: 店铺名称不能为空", ErrValidation)
	}

	query := l.db.WithContext(ctx).Where("store_name = ?", storeName)
	query, err := applyFilter(query, filter)
	if err != nil {
		return nil, err
	}

	var stamps []model.StampModel
	if err := query.Order("created_at DESC, id DESC").Find(&stamps).Error; err != nil {
		return nil, fmt.Errorf("获取印章列表失败: %w", err)
	}
	return stamps, nil
}

func applyFilter(query *gorm.DB, filter model.StampFilter) (*gorm.DB, error) {
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, filter.Status)
		}
		query = query.Where("status = ?", filter.Status)
	}
	if filter.DiscountType != "" {
		if !filter.DiscountType.Valid() {
			return nil, fmt.Errorf("%w: discountType 必须为 percentage 或 fixed", ErrValidation)
		}
		query = query.Where("discount_type = ?", filter.DiscountType)
	}
	return query, nil
}

// FindByID 按印章ID查询
func (l *StampLogic) FindByID(ctx context.Context, stampId string) (*model.StampModel, error) {
	var stamp model.StampModel
	if err := l.db.WithContext(ctx).Where("stamp_id = ?", stampId).First(&stamp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, stampId)
		}
		return nil, fmt.Errorf("获取印章详情失败: %w", err)
	}
	return &stamp, nil
}

// UpdateStatusBatch 批量变更状态。只有 active 记录会被修改，
// 在一个事务内先统计匹配数，再用一条 UPDATE 完成修改。
func (l *StampLogic) UpdateStatusBatch(ctx context.Context, stampIds []string, status string) (*model.StatusUpdateResult, error) {
	target := model.StampStatus(status)
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if target == model.StampStatusActive {
		return nil, fmt.Errorf("%w: 不能将印章恢复为 active", ErrInvalidTransition)
	}

	ids := uniqueIds(stampIds)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: stampIds 不能为空", ErrValidation)
	}

	result := &model.StatusUpdateResult{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.StampModel{}).Where("stamp_id IN ?", ids).Count(&result.MatchedCount).Error; err != nil {
			return fmt.Errorf("统计印章失败: %w", err)
		}
		if result.MatchedCount == 0 {
			return ErrNoMatchingRecords
		}

		update := tx.Model(&model.StampModel{}).
			Where("stamp_id IN ? AND status = ?", ids, model.StampStatusActive).
			Update("status", target)
		if update.Error != nil {
			return fmt.Errorf("更新印章状态失败: %w", update.Error)
		}
		result.ModifiedCount = update.RowsAffected

		return tx.Where("stamp_id IN ?", ids).Order("created_at DESC, id DESC").Find(&result.Records).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Stamp status -> %s: matched %d, modified %d", target, result.MatchedCount, result.ModifiedCount)
	return result, nil
}

// Delete 管理员删除印章记录
func (l *StampLogic) Delete(ctx context.Context, stampId string) (*model.StampModel, error) {
	var stamp model.StampModel
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stamp_id = ?", stampId).First(&stamp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, stampId)
			}
			return fmt.Errorf("获取印章详情失败: %w", err)
		}
		if err := tx.Delete(&stamp).Error; err != nil {
			return fmt.Errorf("删除印章失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Warn("Stamp %s deleted (tx: %s)", stamp.StampId, stamp.TxHash)
	return &stamp, nil
}

// ExpireOverdue 将已过有效期的 active 记录标记为 expired
func (l *StampLogic) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	update := l.db.WithContext(ctx).Model(&model.StampModel{}).
		Where("status = ? AND valid_until < ?", model.StampStatusActive, now.UTC()).
		Update("status", model.StampStatusExpired)
	if update.Error != nil {
		return 0, fmt.Errorf("标记过期印章失败: %w", update.Error)
	}
	return update.RowsAffected, nil
}

// MarkBurned 链上销毁后标记为 used，账本中不存在的 id 忽略
func (l *StampLogic) MarkBurned(ctx context.Context, stampIds []string) (int64, error) {
	result, err := l.UpdateStatusBatch(ctx, stampIds, string(model.StampStatusUsed))
	if errors.Is(err, ErrNoMatchingRecords) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// TransferOwner 同步链上转移后的持有人，返回更新条数
func (l *StampLogic) TransferOwner(ctx context.Context, stampId, newOwner string) (int64, error) {
	if !common.IsHexAddress(newOwner) {
		return 0, fmt.Errorf("%w: 无效的持有人地址 %q", ErrValidation, newOwner)
	}

	result := l.db.WithContext(ctx).Model(&model.StampModel{}).
		Where("stamp_id = ?", stampId).
		Update("owner_address", common.HexToAddress(newOwner).Hex())
	if result.Error != nil {
		return 0, fmt.Errorf("更新印章持有人失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.Info("Stamp %s transferred to %s", stampId, newOwner)
	}
	return result.RowsAffected, nil
}

func uniqueIds(stampIds []string) []string {
	seen := make(map[string]struct{}, len(stampIds))
	ids := make([]string, 0, len(stampIds))
	for _, id := range stampIds {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
