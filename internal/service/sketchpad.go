package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/repository"
)

// SketchpadService 负责画板的创建和历史读取。
type SketchpadService struct {
	sketchpadRepo repository.SketchpadRepository
	strokeRepo    repository.StrokeRepository
	cache         repository.StrokeCache
}

func NewSketchpadService(
	sketchpadRepo repository.SketchpadRepository,
	strokeRepo repository.StrokeRepository,
	cache repository.StrokeCache,
) *SketchpadService {
	if sketchpadRepo == nil || strokeRepo == nil || cache == nil {
		panic("repositories cannot be nil for SketchpadService")
	}
	return &SketchpadService{sketchpadRepo: sketchpadRepo, strokeRepo: strokeRepo, cache: cache}
}

// Create 为 createdBy 创建一块新画板。
func (s *SketchpadService) Create(ctx context.Context, createdBy string) (*domain.Sketchpad, error) {
	logCtx := logrus.WithField("user", createdBy)
	if createdBy == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	sp := &domain.Sketchpad{PublicID: uuid.NewString(), CreatedBy: createdBy}
	if err := s.sketchpadRepo.Create(ctx, sp); err != nil {
		logCtx.WithError(err).Error("Failed to create sketchpad")
		return nil, ErrInternalServer
	}
	logCtx.WithFields(logrus.Fields{"sketchpad_id": sp.ID, "public_id": sp.PublicID}).Info("Sketchpad created")
	return sp, nil
}

// Get 返回画板元数据。
func (s *SketchpadService) Get(ctx context.Context, id uint) (*domain.Sketchpad, error) {
	sp, err := s.sketchpadRepo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithError(err).WithField("sketchpad_id", id).Error("Failed to load sketchpad")
		}
		return nil, mapRepoError(err, ErrSketchpadNotFound)
	}
	return sp, nil
}

// SearchHistory 按写入顺序返回已落库的笔画和删除标记。
func (s *SketchpadService) SearchHistory(ctx context.Context, id uint) ([]dto.HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return loadHistory(ctx, s.strokeRepo, id)
}

// JoinSession 返回画板缓存中尚未落库的笔画。
func (s *SketchpadService) JoinSession(ctx context.Context, id uint) (*dto.JoinResponse, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	pending, err := s.cache.Pending(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("sketchpad_id", id).Error("Failed to read pending strokes")
		return nil, ErrInternalServer
	}
	return &dto.JoinResponse{Strokes: pending}, nil
}

// loadHistory 读取并解码画板的全部笔画行。无法解码的行会被跳过。
func loadHistory(ctx context.Context, strokeRepo repository.StrokeRepository, id uint) ([]dto.HistoryEntry, error) {
	logCtx := logrus.WithFields(logrus.Fields{"sketchpad_id": id, "operation": "loadHistory"})
	records, err := strokeRepo.ListBySketchpad(ctx, id)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list strokes")
		return nil, ErrInternalServer
	}
	entries := make([]dto.HistoryEntry, 0, len(records))
	for _, rec := range records {
		var a domain.Action
		if err := json.Unmarshal(rec.Stroke, &a); err != nil {
			logCtx.WithError(err).WithField("row_id", rec.ID).Warn("Skipping undecodable stroke row")
			continue
		}
		a.Deleted = rec.Deleted
		entries = append(entries, dto.HistoryEntry{Stroke: a, Deleted: rec.Deleted})
	}
	return entries, nil
}

// historyActions 把历史行转换为带删除标记的操作序列。
func historyActions(entries []dto.HistoryEntry) []domain.Action {
	out := make([]domain.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Stroke
		out[i].Deleted = e.Deleted
	}
	return out
}
