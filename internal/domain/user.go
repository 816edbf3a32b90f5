// Package domain contains core business types and interfaces.
//
// This file defines the User domain type: identity, subscription tier,
// monthly usage counters, and payment-processor identifiers. These types are
// separate from the repository layer so business logic never depends on
// database column shapes.
package domain

import (
	"time"
)

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Role controls admin bypasses. Admins are never subject to quota checks.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Usage holds a user's monthly counters. All fields are zeroed by the
// monthly reset; none may ever go negative.
type Usage struct {
	HoursUsed             float64
	TranscriptionCount    int
	OnDemandAnalysisCount int
	LastResetAt           time.Time
}

// User represents a registered user of the Voxnote platform.
//
// The ID is the opaque subject issued by the identity provider; the record
// is created on first authenticated request. Usage is mutated only by the
// usage tracker and the reset scheduler, and only via targeted field
// updates so interleaved writers cannot clobber each other's fields.
type User struct {
	ID                    string
	Email                 string
	Name                  string
	Role                  Role
	Tier                  Tier
	Usage                 Usage
	PaygCreditsHours      float64 // remaining prepaid hours, payg tier only
	PaymentCustomerID     string
	PaymentSubscriptionID string
	SubscriptionStatus    SubscriptionStatus
	IsDeleted             bool
	DeletedAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsAdmin returns true if the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasActiveSubscription returns true if the user's subscription is active
// or trialing. Soft-deleted users are never considered active.
func (u *User) HasActiveSubscription() bool {
	if u.IsDeleted {
		return false
	}
	return u.SubscriptionStatus == SubscriptionStatusActive ||
		u.SubscriptionStatus == SubscriptionStatusTrialing
}

// DisplayName returns the user's name or email if name is empty.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
