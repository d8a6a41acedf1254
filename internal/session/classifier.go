package session

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// ClientRegistry looks up registered clients.
type ClientRegistry interface {
	GetClient(ctx context.Context, contactID string) (*models.ClientRecord, error)
}

// AddressBook is the transport's view of a contact.
type AddressBook interface {
	LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error)
}

// Classifier decides whether a contact is already known to the salon.
//
// A contact is known when it has a ClientRecord or the transport reports it as saved.
// A failing lookup counts as "not known" and never surfaces to the contact.
type Classifier struct {
	registry ClientRegistry
	book     AddressBook
}

// NewClassifier creates a Classifier. Either source may be nil.
func NewClassifier(registry ClientRegistry, book AddressBook) *Classifier {
	return &Classifier{registry: registry, book: book}
}

// Classify returns the contact's profile. pushName is used as the last-resort display name.
func (c *Classifier) Classify(ctx context.Context, contactID, pushName string) models.ContactProfile {
	var profile models.ContactProfile

	if c.registry != nil {
		rec, err := c.registry.GetClient(ctx, contactID)
		if err != nil {
			slog.Warn("Classifier.Classify: registry lookup failed", "error", err, "contactID", contactID)
		} else if rec != nil {
			profile.Known = true
			profile.DisplayName = rec.Name
		}
	}

	if c.book != nil && !(profile.Known && profile.DisplayName != "") {
		p, err := c.book.LookupContact(ctx, contactID)
		if err != nil {
			slog.Warn("Classifier.Classify: address book lookup failed", "error", err, "contactID", contactID)
		} else {
			profile.Known = profile.Known || p.Known
			if profile.DisplayName == "" {
				profile.DisplayName = p.DisplayName
			}
		}
	}

	if profile.DisplayName == "" {
		profile.DisplayName = pushName
	}
	slog.Debug("Classifier.Classify", "contactID", contactID, "known", profile.Known)
	return profile
}
