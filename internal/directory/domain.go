// Package directory resolves company users and their roles.
package directory

import "time"

// User represents a company member.
type User struct {
	ID        int64
	CompanyID int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// Company holds the tenant settings the sourcing core needs.
type Company struct {
	ID       int64
	Name     string
	Currency string
}
