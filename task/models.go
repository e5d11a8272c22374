package task

import (
	"time"

	"helpmate/geo"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// CategoryOther requires a custom label, which is stored as the category.
const CategoryOther = "Other"

// Categories offered when posting a task.
var Categories = []string{
	"Shopping",
	"Technology",
	"Cleaning",
	"Yard Work",
	"Moving",
	"Transportation",
	"Cooking",
	"Pet Care",
	"Reading/Writing",
	CategoryOther,
}

// DefaultPageSize bounds open-task queries.
const DefaultPageSize = 25

// Requirements are the special requirement flags a poster can set.
type Requirements struct {
	Car              bool   `json:"mustHaveCar"`
	Pets             bool   `json:"comfortableWithPets"`
	Tools            bool   `json:"hasOwnTools"`
	Tech             bool   `json:"expComputers"`
	Lifting          bool   `json:"canLiftHeavy"`
	Cleaning         bool   `json:"expCleaning"`
	Other            bool   `json:"other"`
	OtherDescription string `json:"otherDescription" validate:"required_if=Other true,max=300"`
}

// Task is a posted job. Only Status changes after creation.
type Task struct {
	ID             string       `json:"-"`
	PosterID       string       `json:"posterId" validate:"required"`
	Title          string       `json:"title" validate:"required,max=300"`
	Category       string       `json:"category" validate:"required,max=100"`
	Description    string       `json:"description" validate:"required,max=1500"`
	Pay            float64      `json:"pay" validate:"gt=0"`
	TimeEstimate   string       `json:"estimatedTime"`
	PreferredDate  string       `json:"preferredDate"`
	PreferredTime  string       `json:"preferredTime"`
	Urgency        string       `json:"urgency,omitempty"`
	Requirements   Requirements `json:"requirements"`
	PosterLocation *geo.Point   `json:"posterLocation"`
	Status         Status       `json:"status" validate:"oneof=open closed"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Open reports whether the task still accepts matches.
func (t Task) Open() bool {
	return t.Status == StatusOpen
}

// Draft is the poster's input for a new task.
type Draft struct {
	Title          string       `validate:"required,max=300"`
	Category       string       `validate:"required"`
	CustomCategory string       `validate:"required_if=Category Other,max=100"`
	Description    string       `validate:"required,max=1500"`
	Pay            float64      `validate:"gt=0"`
	TimeEstimate   string       `validate:"required"`
	PreferredDate  string       `validate:"required"`
	PreferredTime  string       `validate:"required"`
	Urgency        string
	Requirements   Requirements
}
