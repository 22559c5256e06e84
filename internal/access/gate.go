// Package access decides whether a request may reach an admin route.
package access

import (
	"context"
	"strings"

	"github.com/mujeresenbici/rodada/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultAdminEmail is the organizer account allowed when no list is configured.
const DefaultAdminEmail = "mujeresenbici2026@gmail.com"

// RouteClass groups routes by how the gate treats them.
type RouteClass int

const (
	RoutePublic RouteClass = iota
	RouteLogin
	RouteDashboard
)

func (c RouteClass) String() string {
	switch c {
	case RouteLogin:
		return "login"
	case RouteDashboard:
		return "dashboard"
	default:
		return "public"
	}
}

// Outcome is what the gate tells the router to do.
type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	RedirectHome
	RedirectDashboard
)

func (o Outcome) String() string {
	switch o {
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	case RedirectDashboard:
		return "redirect_dashboard"
	default:
		return "allow"
	}
}

// Decision is the gate's answer for one request.
type Decision struct {
	Outcome Outcome
	SignOut bool // end the current session before redirecting
}

// AllowList holds the emails permitted to view the dashboard. Matching is
// exact after lower-casing both sides; whitespace is not trimmed.
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList builds an allow-list. With no emails it falls back to
// DefaultAdminEmail.
func NewAllowList(emails ...string) *AllowList {
	if len(emails) == 0 {
		emails = []string{DefaultAdminEmail}
	}

	list := &AllowList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		list.emails[strings.ToLower(e)] = struct{}{}
	}
	return list
}

// Allowed reports whether email is on the list.
func (l *AllowList) Allowed(email string) bool {
	_, ok := l.emails[strings.ToLower(email)]
	return ok
}

// Emails returns the normalized entries, for logging at startup.
func (l *AllowList) Emails() []string {
	out := make([]string, 0, len(l.emails))
	for e := range l.emails {
		out = append(out, e)
	}
	return out
}

// Gate evaluates the access rules. It keeps no per-request state.
type Gate struct {
	allow *AllowList
}

// NewGate creates a gate backed by allow.
func NewGate(allow *AllowList) *Gate {
	return &Gate{allow: allow}
}

// Decide applies the rules for a route class. email is empty when the
// request carries no identity.
func (g *Gate) Decide(ctx context.Context, email string, class RouteClass) Decision {
	d := g.decide(email, class)

	telemetry.GetMetrics().AccessDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", class.String()),
		attribute.String("outcome", d.Outcome.String()),
	))

	return d
}

func (g *Gate) decide(email string, class RouteClass) Decision {
	switch class {
	case RouteDashboard:
		if email == "" {
			return Decision{Outcome: RedirectLogin}
		}
		if !g.allow.Allowed(email) {
			return Decision{Outcome: RedirectHome, SignOut: true}
		}
		return Decision{Outcome: Allow}

	case RouteLogin:
		if email != "" && g.allow.Allowed(email) {
			return Decision{Outcome: RedirectDashboard}
		}
		return Decision{Outcome: Allow}

	default:
		return Decision{Outcome: Allow}
	}
}
