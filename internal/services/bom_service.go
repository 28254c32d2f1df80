package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/models"
)

// DefaultBOMMaxDepth bounds the explosion walk when config does not say
// otherwise. Real BOMs in this domain are a handful of levels deep.
const DefaultBOMMaxDepth = 25

// BOMService expands manufactured items into their component requirements
type BOMService struct {
	db       *gorm.DB
	maxDepth int
}

// NewBOMService creates a new BOM explosion service
func NewBOMService(db *gorm.DB, maxDepth int) *BOMService {
	if maxDepth <= 0 {
		maxDepth = DefaultBOMMaxDepth
	}
	return &BOMService{db: db, maxDepth: maxDepth}
}

// Explode recursively expands the BOM under itemID for the target quantity,
// returning total required quantity per component item. Items without BOM
// lines are leaves. A cycle or a walk past the depth bound fails with
// ErrCyclicBOM; looping forever on bad data is not an option.
func (s *BOMService) Explode(ctx context.Context, itemID uuid.UUID, quantity int64) (map[uuid.UUID]int64, error) {
	if quantity <= 0 {
		return nil, errors.Wrapf(ErrInvalidQuantity, "cannot explode for quantity %d", quantity)
	}

	requirements := make(map[uuid.UUID]int64)
	path := make(map[uuid.UUID]bool)

	if err := s.explode(ctx, itemID, quantity, 0, path, requirements); err != nil {
		return nil, err
	}
	return requirements, nil
}

func (s *BOMService) explode(ctx context.Context, itemID uuid.UUID, quantity int64, depth int, path map[uuid.UUID]bool, requirements map[uuid.UUID]int64) error {
	if depth > s.maxDepth {
		return errors.Wrapf(ErrCyclicBOM, "explosion exceeded depth %d at item %s", s.maxDepth, itemID)
	}
	if path[itemID] {
		return errors.Wrapf(ErrCyclicBOM, "item %s appears on its own component path", itemID)
	}

	var lines []models.BOMLine
	err := s.db.WithContext(ctx).
		Where("parent_item_id = ?", itemID).
		Find(&lines).Error
	if err != nil {
		return errors.Wrap(err, "failed to load BOM lines")
	}

	path[itemID] = true
	defer delete(path, itemID)

	for _, line := range lines {
		required := quantity * line.QuantityPer
		requirements[line.ChildItemID] += required

		if err := s.explode(ctx, line.ChildItemID, required, depth+1, path, requirements); err != nil {
			return err
		}
	}

	return nil
}
