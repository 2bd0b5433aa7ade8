package models

// TriggerRequest represents a manual job trigger request
type TriggerRequest struct {
	Date string `json:"date" validate:"required"`
	Time string `json:"time" validate:"required"`
	Zip  string `json:"zip" validate:"required,len=5,numeric"`
	City string `json:"city"`
}

// ToJobRecord converts the request into a JobRecord
func (r *TriggerRequest) ToJobRecord() *JobRecord {
	return &JobRecord{
		Date: r.Date,
		Time: r.Time,
		Zip:  r.Zip,
		City: r.City,
	}
}
