package scheduling

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoAppointments      = errors.New("No appointments found.")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidAppointment  = errors.New("invalid appointment")
	ErrNotAllowed          = errors.New("not allowed to change this appointment")
)

const (
	StatusUpcoming  = "upcoming"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusUpcoming:  true,
	StatusCompleted: true,
	StatusCancelled: true,
}

// Appointment maps to the appointments table. Date and Time keep the
// strings the app displays, e.g. "2024-03-14" and "09:00 AM - 09:30 AM".
type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  string    `db:"doctor_id" json:"doctorID"`
	PatientID string    `db:"patient_id" json:"patientID"`
	Date      string    `db:"date" json:"date"`
	Time      string    `db:"time" json:"time"`
	Type      string    `db:"type" json:"type"`
	Status    string    `db:"status" json:"status"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// AppointmentFilter narrows a listing. Empty fields match everything.
type AppointmentFilter struct {
	DoctorID  string
	PatientID string
	Status    string
}

func (a *Appointment) HasParticipant(userID string) bool {
	return userID != "" && (userID == a.DoctorID || userID == a.PatientID)
}

var dateLayouts = []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006", "01/02/2006"}

var clockLayouts = []string{"03:04 PM", "3:04 PM", "03:04PM", "3:04PM", "15:04"}

// StartsAt parses Date and the start of the Time window.
func (a *Appointment) StartsAt() (time.Time, bool) {
	start, _, _ := strings.Cut(a.Time, " - ")
	start = strings.TrimSpace(start)
	for _, dl := range dateLayouts {
		d, err := time.Parse(dl, strings.TrimSpace(a.Date))
		if err != nil {
			continue
		}
		for _, cl := range clockLayouts {
			t, err := time.Parse(cl, start)
			if err != nil {
				continue
			}
			return d.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), true
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}
