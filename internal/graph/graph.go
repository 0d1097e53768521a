// Package graph keeps the vendor/invoice relationship graph and derives
// advisory relationship signals from it.
package graph

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by stores that cannot reach their backend.
var ErrUnavailable = errors.New("graph store unavailable")

// Submission is one invoice node linked to its vendor.
type Submission struct {
	InvoiceID string
	Vendor    string
	Amount    float64
	Date      string
	Filename  string
}

// Store persists submissions and answers the two aggregate queries the
// scanner needs. Duplicate submissions create duplicate invoice nodes.
type Store interface {
	RecordSubmission(ctx context.Context, s Submission) error
	CountByVendor(ctx context.Context, vendor string) (int, error)
	// CountSameDay counts the vendor's invoices dated date, ignoring excludeID.
	CountSameDay(ctx context.Context, vendor, date, excludeID string) (int, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}
