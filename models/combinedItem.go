package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"gorm.io/gorm"
)

var (
	ErrCombinedItemNameRequired  = errors.New("combined item name is required")
	ErrCombinedItemItemsRequired = errors.New("combined item needs at least one item")
)

type CombinedItemInput struct {
	Name    string `json:"name" validate:"required"`
	ItemIds []int  `json:"item_ids" validate:"required,min=1,dive,gt=0"`
}

// validate runs before any store access.
func (input *CombinedItemInput) validate() error {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return ErrCombinedItemNameRequired
	}
	if len(input.ItemIds) == 0 {
		return ErrCombinedItemItemsRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	input.ItemIds = utils.UniqueSlice(input.ItemIds)
	return nil
}

type CombinedItemDetail struct {
	CombinedItem
	Items []Item `json:"items"`
}

func (d CombinedItemDetail) ItemIds() []int {
	ids := make([]int, 0, len(d.Items))
	for _, item := range d.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func ensureItemsExist(tx *gorm.DB, ids []int) error {
	var count int64
	if err := tx.Model(&Item{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return fmt.Errorf("item ids %v: %w", ids, utils.ErrorRecordNotFound)
	}
	return nil
}

func insertLinks(ctx context.Context, store *config.Store, tx *gorm.DB, combinedItemId int, itemIds []int) error {
	links := make([]CombinedItemLink, 0, len(itemIds))
	for _, id := range itemIds {
		links = append(links, CombinedItemLink{CombinedItemId: combinedItemId, ItemId: id})
	}
	_, err := config.InsertMany(ctx, store, tx, links, config.InsertOptions{SkipSave: true})
	return err
}

func (t *Tracker) CreateCombinedItem(ctx context.Context, input *CombinedItemInput) (*CombinedItem, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	combined := CombinedItem{Name: input.Name}
	err := t.store.RunInTransaction(ctx, func(tx *gorm.DB) error {
		if err := ensureItemsExist(tx, input.ItemIds); err != nil {
			return err
		}
		if err := tx.Create(&combined).Error; err != nil {
			return err
		}
		return insertLinks(ctx, t.store, tx, combined.ID, input.ItemIds)
	})
	if err != nil {
		config.LogError(t.logger, "combinedItem.go", "CreateCombinedItem", "create", input, err)
		return nil, err
	}
	t.notifier.Publish(EventTypeCombinedItem)
	return &combined, nil
}

// UpdateCombinedItem renames the combined item and replaces its links.
func (t *Tracker) UpdateCombinedItem(ctx context.Context, id int, input *CombinedItemInput) (*CombinedItem, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var combined CombinedItem
	err := t.store.RunInTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&combined, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := ensureItemsExist(tx, input.ItemIds); err != nil {
			return err
		}
		if err := tx.Model(&combined).Update("name", input.Name).Error; err != nil {
			return err
		}
		combined.Name = input.Name
		if err := tx.Where("combined_item_id = ?", id).Delete(&CombinedItemLink{}).Error; err != nil {
			return err
		}
		return insertLinks(ctx, t.store, tx, id, input.ItemIds)
	})
	if err != nil {
		config.LogError(t.logger, "combinedItem.go", "UpdateCombinedItem", "update", input, err)
		return nil, err
	}
	t.notifier.Publish(EventTypeCombinedItem)
	return &combined, nil
}

func (t *Tracker) DeleteCombinedItem(ctx context.Context, id int) error {
	err := t.store.RunInTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("combined_item_id = ?", id).Delete(&CombinedItemLink{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&CombinedItem{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.notifier.Publish(EventTypeCombinedItem)
	return nil
}

func loadCombinedItemDetails(db *gorm.DB, combined []CombinedItem) ([]CombinedItemDetail, error) {
	details := make([]CombinedItemDetail, 0, len(combined))
	if len(combined) == 0 {
		return details, nil
	}
	ids := make([]int, 0, len(combined))
	for _, c := range combined {
		ids = append(ids, c.ID)
	}

	var linked []struct {
		CombinedItemId int
		ItemId         int
		Name           string
	}
	err := db.Raw(`
SELECT l.combined_item_id, l.item_id, i.name
FROM combined_item_links l
    JOIN items i ON i.id = l.item_id
WHERE l.combined_item_id IN ?
ORDER BY l.id`, ids).Scan(&linked).Error
	if err != nil {
		return nil, err
	}
	items := map[int][]Item{}
	for _, l := range linked {
		items[l.CombinedItemId] = append(items[l.CombinedItemId], Item{ID: l.ItemId, Name: l.Name})
	}
	for _, c := range combined {
		detail := CombinedItemDetail{CombinedItem: c, Items: items[c.ID]}
		if detail.Items == nil {
			detail.Items = []Item{}
		}
		details = append(details, detail)
	}
	return details, nil
}

func (t *Tracker) ListCombinedItems(ctx context.Context) ([]CombinedItemDetail, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	var combined []CombinedItem
	if err := db.Order("name").Order("id").Find(&combined).Error; err != nil {
		return nil, err
	}
	return loadCombinedItemDetails(db, combined)
}

// GetCombinedItem returns nil when the combined item does not exist.
func (t *Tracker) GetCombinedItem(ctx context.Context, id int) (*CombinedItemDetail, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	return findCombinedItem(db, id)
}

func findCombinedItem(db *gorm.DB, id int) (*CombinedItemDetail, error) {
	var combined CombinedItem
	err := db.First(&combined, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	details, err := loadCombinedItemDetails(db, []CombinedItem{combined})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}
