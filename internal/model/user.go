// Package model defines the data structures used throughout the application.
package model

import "time"

// Subscription is the plan a user is on.
type Subscription string

const (
	SubscriptionFree    Subscription = "free"
	SubscriptionPro     Subscription = "pro"
	SubscriptionPremium Subscription = "premium"
)

// Subscriptions lists every plan a user may choose, in display order.
var Subscriptions = []Subscription{SubscriptionFree, SubscriptionPro, SubscriptionPremium}

// Valid reports whether s is one of the known plans.
func (s Subscription) Valid() bool {
	switch s {
	case SubscriptionFree, SubscriptionPro, SubscriptionPremium:
		return true
	}
	return false
}

// User represents a registered account.
//
// PasswordHash and SessionToken are tagged `json:"-"` so that a User can be
// written straight to a response without leaking credentials.
//
// WHY SessionToken *string?
// A user who has never logged in, or who has logged out, has no session.
// nil maps to SQL NULL; an empty string would be indistinguishable from a
// token that was deliberately set to "".
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Subscription Subscription `json:"subscription"`
	AvatarURL    string       `json:"avatarURL"`
	SessionToken *string      `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// HasSession reports whether token is the user's current session token.
func (u *User) HasSession(token string) bool {
	return u.SessionToken != nil && token != "" && *u.SessionToken == token
}
