package models

import (
	"gorm.io/gorm"
)

func allTables() []interface{} {
	return []interface{}{
		&Purchase{}, &Item{}, &Price{}, &PricePurchase{}, &Amount{},
		&CombinedItem{}, &CombinedItemLink{},
	}
}

// Schema creates the tracker tables. AutoMigrate only adds missing tables,
// columns and indexes, so Create is safe on every open.
type Schema struct{}

func (Schema) Create(db *gorm.DB) error {
	return db.AutoMigrate(allTables()...)
}

func (Schema) Drop(db *gorm.DB) error {
	return db.Migrator().DropTable(allTables()...)
}
