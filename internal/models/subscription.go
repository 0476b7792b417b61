package models

import "time"

// Package defines the allowances a subscription tier grants per billing
// period. Nil allowances mean unlimited.
type Package struct {
	ID                      string    `db:"id" json:"id"`
	Name                    string    `db:"name" json:"name"`
	ProjectsPerMonth        *int      `db:"projects_per_month" json:"projects_per_month,omitempty"`
	ContactClicksPerProject *int      `db:"contact_clicks_per_project" json:"contact_clicks_per_project,omitempty"`
	ConnectsPerMonth        *int      `db:"connects_per_month" json:"connects_per_month,omitempty"`
	IsFree                  bool      `db:"is_free" json:"is_free"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// SubscriptionStatus mirrors billing-provider state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// Subscription associates a client with a package and its billing period.
type Subscription struct {
	ID                 string             `db:"id" json:"id"`
	ClientID           string             `db:"client_id" json:"client_id"`
	PackageID          string             `db:"package_id" json:"package_id"`
	Provider           string             `db:"provider" json:"provider"`
	Status             SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart time.Time          `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `db:"current_period_end" json:"current_period_end"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

// SubscriptionUsage is the period-scoped counter row. Free tiers carry a
// single lifetime row with a nil PeriodEnd.
type SubscriptionUsage struct {
	ID             string     `db:"id" json:"id"`
	SubscriptionID string     `db:"subscription_id" json:"subscription_id"`
	PeriodStart    time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd      *time.Time `db:"period_end" json:"period_end,omitempty"`
	ProjectsPosted int        `db:"projects_posted" json:"projects_posted"`
	ConnectsUsed   int        `db:"connects_used" json:"connects_used"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// QuotaDimension names a gated counter.
type QuotaDimension string

const (
	QuotaProjects       QuotaDimension = "projects"
	QuotaConnects       QuotaDimension = "connects"
	QuotaContactReveals QuotaDimension = "contact_reveals"
)

// QuotaDecision answers an advisory allow/deny question. Limit < 0 means
// unlimited.
type QuotaDecision struct {
	Dimension QuotaDimension `json:"dimension"`
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	Limit     int            `json:"limit"`
	Used      int            `json:"used"`
}

// UsageSnapshot summarises the current period for billing responses.
// Limits of -1 mean unlimited.
type UsageSnapshot struct {
	SubscriptionID string     `json:"subscription_id"`
	PackageName    string     `json:"package_name"`
	PeriodStart    time.Time  `json:"period_start"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
	ProjectsPosted int        `json:"projects_posted"`
	ProjectsLimit  int        `json:"projects_limit"`
	ConnectsUsed   int        `json:"connects_used"`
	ConnectsLimit  int        `json:"connects_limit"`
	ClicksLimit    int        `json:"clicks_limit"`
}
