package award

import "time"

// Applicant identifies the student an award was granted to. Only the fields
// the disbursement engine needs are carried here; the full applicant record
// lives with the intake side of the portal.
type Applicant struct {
	StudentID string
	Name      string
	NetID     string
}

// Award is the owning aggregate for payment schedules and disbursement
// transactions. An award is created once a scholarship decision is final.
type Award struct {
	ID              string
	ScholarshipName string
	Applicant       Applicant
	AwardAmount     float64
	AwardDate       time.Time
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
