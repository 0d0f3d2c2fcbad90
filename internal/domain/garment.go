package domain

import "time"

// ConditionGrade is the physical condition of a garment on the ordinal scale
// A > B > C > D, where A is best and D is the loosest acceptable grade.
type ConditionGrade string

const (
	ConditionA ConditionGrade = "A"
	ConditionB ConditionGrade = "B"
	ConditionC ConditionGrade = "C"
	ConditionD ConditionGrade = "D"
)

// conditionRank maps grades onto integers so filters can compare them.
var conditionRank = map[ConditionGrade]int{
	ConditionA: 4,
	ConditionB: 3,
	ConditionC: 2,
	ConditionD: 1,
}

// IsValid reports whether the grade is one of the four known values.
func (c ConditionGrade) IsValid() bool {
	_, ok := conditionRank[c]
	return ok
}

// AtLeast reports whether the grade meets or exceeds min on the ordinal scale.
// Unknown grades never satisfy a minimum.
func (c ConditionGrade) AtLeast(min ConditionGrade) bool {
	cr, ok := conditionRank[c]
	if !ok {
		return false
	}
	mr, ok := conditionRank[min]
	if !ok {
		return false
	}
	return cr >= mr
}

// GarmentStatus represents the listing status of a garment.
// Values include GarmentStatusActive, GarmentStatusReserved,
// GarmentStatusSold, and GarmentStatusHidden.
type GarmentStatus string

const (
	GarmentStatusActive   GarmentStatus = "active"
	GarmentStatusReserved GarmentStatus = "reserved"
	GarmentStatusSold     GarmentStatus = "sold"
	GarmentStatusHidden   GarmentStatus = "hidden"
)

// Garment represents a listed fashion item. Only the attributes the matching
// filters read are modeled here; the mobile client owns the rest.
type Garment struct {
	ID        string         `gorm:"type:text;primaryKey" json:"id"`
	OwnerID   string         `gorm:"type:text;not null;index:idx_garments_owner" json:"owner_id"`
	Title     string         `gorm:"type:text;not null" json:"title"`
	Category  string         `gorm:"type:text;not null;index:idx_garments_category" json:"category"`
	Condition ConditionGrade `gorm:"type:text;not null" json:"condition"`
	Size      string         `gorm:"type:text" json:"size"`
	Brand     string         `gorm:"type:text" json:"brand,omitempty"`
	Price     *float64       `json:"price,omitempty"`
	Status    GarmentStatus  `gorm:"type:text;index:idx_garments_status;default:active" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Garment.
func (Garment) TableName() string {
	return "garments"
}
