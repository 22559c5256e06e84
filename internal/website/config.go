package website

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxCompanions caps the companion rows a single form may carry.
const DefaultMaxCompanions = 20

// Route is one of the ride's routes shown on the landing page.
type Route struct {
	Name     string
	Distance string
}

// ParseRoutes reads "Nombre=Distancia" pairs.
func ParseRoutes(pairs []string) ([]Route, error) {
	routes := make([]Route, 0, len(pairs))
	for _, pair := range pairs {
		name, distance, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(distance) == "" {
			return nil, fmt.Errorf("invalid route %q, expected name=distance", pair)
		}
		routes = append(routes, Route{Name: strings.TrimSpace(name), Distance: strings.TrimSpace(distance)})
	}
	return routes, nil
}

// EventInfo is the event content rendered on the landing page.
type EventInfo struct {
	Name          string
	Tagline       string
	Date          string
	Place         string
	MeetingTime   string
	DepartureTime string
	MeetingPoint  string
	MapsURL       string
	ContactEmail  string
	InstagramURL  string
	Routes        []Route
}

// DefaultEvent is the 8M ride in Maravatío.
func DefaultEvent() EventInfo {
	return EventInfo{
		Name:          "Rodada 8M",
		Tagline:       "Pedaleamos juntas por Maravatío en una ruta diseñada para inspirar.",
		Date:          "8 de marzo",
		Place:         "Maravatío, Michoacán",
		MeetingTime:   "7:30 AM",
		DepartureTime: "8:00 AM",
		MeetingPoint:  "Canchas del Chirimoyo",
		MapsURL:       "https://www.google.com/maps/dir/?api=1&destination=Cancha+del+Chirimoyo",
		ContactEmail:  "mujeresenbici2026@gmail.com",
		Routes: []Route{
			{Name: "Ruta corta", Distance: "20 km"},
			{Name: "Ruta larga", Distance: "30 km"},
		},
	}
}

// Config holds the website settings.
type Config struct {
	Event EventInfo

	// CORSOrigins may call the JSON API from a browser.
	CORSOrigins []string

	// Location is used to display registration timestamps.
	Location *time.Location

	MaxCompanions int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Event.Name == "" {
		c.Event = DefaultEvent()
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.MaxCompanions == 0 {
		c.MaxCompanions = DefaultMaxCompanions
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxCompanions < 0 {
		return fmt.Errorf("max companions must not be negative")
	}
	return nil
}
