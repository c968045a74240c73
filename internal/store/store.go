// Package store defines the contact storage boundary the reconciliation
// engine runs against.
package store

import (
	"context"
	"sort"

	"bitespeed/internal/models"
)

// ContactStore opens transactional scopes over the contacts table.
type ContactStore interface {
	// RunInTx executes fn inside one transaction. fn's error rolls back.
	RunInTx(ctx context.Context, fn func(tx ContactTx) error) error
	Ping(ctx context.Context) error
}

// ContactTx is the set of queries and writes the engine needs. Every read
// excludes soft-deleted contacts.
type ContactTx interface {
	// LockKeys serialises transactions sharing any of the given keys until
	// the transaction ends.
	LockKeys(ctx context.Context, keys ...string) error
	// FindMatching returns contacts whose email equals email OR whose phone
	// equals phone. A nil argument drops its clause.
	FindMatching(ctx context.Context, email, phone *string) ([]*models.Contact, error)
	// FindClusters returns contacts whose id or linked id is in rootIDs.
	FindClusters(ctx context.Context, rootIDs []int64) ([]*models.Contact, error)
	// FindCluster returns the primary and its secondaries ordered by creation.
	FindCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error)
	// Create inserts c and fills in its id and timestamps.
	Create(ctx context.Context, c *models.Contact) error
	// Demote turns contact id into a secondary of primaryID.
	Demote(ctx context.Context, id, primaryID int64) error
	// Relink re-points every contact linked to fromID at toID.
	Relink(ctx context.Context, fromID, toID int64) error
}

// SortBySeniority orders contacts by creation time, then id.
func SortBySeniority(contacts []*models.Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].Before(contacts[j])
	})
}
