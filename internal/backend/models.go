// Package backend provides the gait-monitor backend: reading ingestion and
// retrieval over PostgreSQL metadata and the payload object store, served
// over HTTP and gRPC.
package backend

import (
	"time"
)

// Patient is a monitored person. ReadingsCount tracks the number of live
// readings and is only ever changed by atomic SQL increments.
type Patient struct {
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_patients_created_at" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"not null" json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Readings      []Reading `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE" json:"readings,omitempty"`
	Age           int       `gorm:"not null" json:"age"`
	ReadingsCount int64     `gorm:"not null" json:"readingsCount"`
}

// TableName specifies the table name for Patient model.
func (Patient) TableName() string {
	return "patients"
}

// Reading is the metadata row for one uploaded sensor recording. FilePath
// addresses the raw payload in the object store.
type Reading struct {
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_readings_patient_created,priority:2" json:"createdAt"`
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	PatientID    string    `gorm:"size:36;not null;index:idx_readings_patient_created,priority:1" json:"patientId"`
	FilePath     string    `gorm:"size:512;uniqueIndex;not null" json:"filePath"`
	OriginalName string    `json:"originalName,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
	SizeBytes    int64     `gorm:"not null" json:"sizeBytes"`
}

// TableName specifies the table name for Reading model.
func (Reading) TableName() string {
	return "readings"
}
