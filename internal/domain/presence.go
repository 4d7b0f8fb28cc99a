package domain

// Status is free-form so clients can report "away", "busy" and the like.
// Online and Offline are the two values the server itself assigns.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func ValidStatus(s string) error {
	if len(s) == 0 {
		return ErrStatusEmpty
	}
	if len(s) > MaxStatusLen {
		return ErrStatusTooLong
	}
	return nil
}
