package models

// Profile is the counterpart-party record owned by the profile collaborator.
type Profile struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ContactPhone string              `json:"contact_phone"`
	ContactEmail string              `json:"contact_email"`
	Verified     bool                `json:"verified"`
	Availability *WeeklyAvailability `json:"availability,omitempty"`
}

// WeeklyAvailability describes a provider's recurring schedule for a service:
// active weekday names plus "HH:MM-HH:MM" time slots.
type WeeklyAvailability struct {
	Days            []string `json:"days"`
	Slots           []string `json:"slots"`
	MarkedAvailable bool     `json:"marked_available"`
}
