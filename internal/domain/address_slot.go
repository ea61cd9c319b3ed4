package domain

import "time"

// SlotStatus 地址槽状态
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotAssigned  SlotStatus = "assigned"
)

// AddressSlot 实体地址槽，同一用户最多持有一个已分配槽位
type AddressSlot struct {
	ID         int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	LocationID string     `json:"locationId" gorm:"type:varchar(64);not null;index:idx_slot_location_status,priority:1"`
	Label      string     `json:"label" gorm:"type:varchar(255)"`
	Status     SlotStatus `json:"status" gorm:"type:varchar(20);not null;default:'available';index:idx_slot_location_status,priority:2"`
	AssigneeID *int64     `json:"assigneeId,omitempty" gorm:"uniqueIndex:ux_address_slot_assignee,where:status = 'assigned'"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (AddressSlot) TableName() string {
	return "address_slots"
}
