package model

type SyncKV struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (SyncKV) TableName() string {
	return "sync_kv"
}
