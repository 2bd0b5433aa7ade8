package models

import "fmt"

// JobRecord represents the structured job details extracted from one
// email subject. Date, Time and Zip are always present and normalized
// when a record is constructed; City may be empty.
type JobRecord struct {
	Date string `json:"date"` // DD.MM.YYYY
	Time string `json:"time"` // HH:MM, 24h
	Zip  string `json:"zip"`  // 5-digit postal code
	City string `json:"city"` // free-text place name, may be blank
}

// Key returns the deduplication identity of the job. Not guaranteed
// globally unique if the portal reuses a slot/zip combination for an
// unrelated posting.
func (j *JobRecord) Key() string {
	return fmt.Sprintf("%s_%s_%s", j.Date, j.Time, j.Zip)
}

func (j *JobRecord) String() string {
	if j.City != "" {
		return fmt.Sprintf("%s %s in %s %s", j.Date, j.Time, j.Zip, j.City)
	}
	return fmt.Sprintf("%s %s in %s", j.Date, j.Time, j.Zip)
}
