package models

import "time"

// Enrollment links a student to a course section.
type Enrollment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CourseSectionID uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"course_section_id"`
	StudentID       uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"student_id"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
