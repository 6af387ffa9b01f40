// Package clock supplies the current instant in the service's fixed timezone.
package clock

import "time"

// Clock yields the current time. Implementations must return times already
// converted to the service timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ServiceClock is the production clock, pinned to one IANA timezone.
type ServiceClock struct {
	loc *time.Location
}

// New loads the given IANA timezone name, e.g. "Europe/Warsaw".
func New(timezone string) (*ServiceClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &ServiceClock{loc: loc}, nil
}

func (c *ServiceClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *ServiceClock) Location() *time.Location {
	return c.loc
}

// Fixed is a clock frozen at one instant, for tests.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time           { return f.T }
func (f Fixed) Location() *time.Location { return f.T.Location() }
