package domain

import "time"

// UserPlan enumerates billing plans.
type UserPlan string

const (
	UserPlanFree UserPlan = "free"
	UserPlanPro  UserPlan = "pro"
)

// Valid reports whether the plan is known.
func (p UserPlan) Valid() bool {
	return p == UserPlanFree || p == UserPlanPro
}

// User is the account that owns jobs and a spendable credit balance.
type User struct {
	ID            string
	Email         string
	Plan          UserPlan
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsFree reports whether the user is using the free plan.
func (u User) IsFree() bool {
	return u.Plan == UserPlanFree
}
