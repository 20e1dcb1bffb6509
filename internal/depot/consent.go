package depot

import (
	"context"
	"errors"
	"fmt"

	"depot/internal/model"
)

// ConsentState is the outcome of EnsureConsent.
type ConsentState int

const (
	ConsentAgreed ConsentState = iota
	ConsentPendingDisplay
)

func (s ConsentState) String() string {
	if s == ConsentAgreed {
		return "AGREED"
	}
	return "PENDING_DISPLAY"
}

// ConsentGate tracks whether an actor has acknowledged the privacy disclosure.
// User rows are created and committed here, independently of any ingestion.
type ConsentGate struct {
	store  Store
	logger Logger
	clock  Clock
}

// NewConsentGate creates a ConsentGate.
func NewConsentGate(store Store, logger Logger, clock Clock) *ConsentGate {
	return &ConsentGate{store: store, logger: logger, clock: clock}
}

// EnsureConsent returns ConsentAgreed when the actor has accepted the disclosure.
// Otherwise the User row exists afterwards and ConsentPendingDisplay is returned;
// the caller must stop and show Disclosure.
func (g *ConsentGate) EnsureConsent(ctx context.Context, actorID string) (ConsentState, error) {
	if actorID == "" {
		return ConsentPendingDisplay, errMissingField("actor id")
	}

	user, err := g.findOrCreateUser(ctx, actorID)
	if err != nil {
		return ConsentPendingDisplay, err
	}
	if user.ConsentGiven {
		return ConsentAgreed, nil
	}
	return ConsentPendingDisplay, nil
}

// RecordConsent durably marks the actor as having accepted the disclosure.
func (g *ConsentGate) RecordConsent(ctx context.Context, actorID string) error {
	if actorID == "" {
		return errMissingField("actor id")
	}
	if _, err := g.findOrCreateUser(ctx, actorID); err != nil {
		return err
	}
	if err := g.store.SetUserConsent(ctx, actorID, true); err != nil {
		return fmt.Errorf("recording consent: %w", err)
	}
	g.logger.Info("consent recorded", "actor_id", actorID)
	return nil
}

// Decline records nothing; the actor will be asked again next time.
func (g *ConsentGate) Decline(_ context.Context, actorID string) {
	g.logger.Debug("consent declined", "actor_id", actorID)
}

// Disclosure returns the one-time prompt shown before the first upload.
func (g *ConsentGate) Disclosure() Prompt {
	return Prompt{
		Title: "Before you upload",
		Body: "Uploaded files and their metadata (file name, version, optional password and your user id) " +
			"are stored so other members of this thread can download them. Stored files are copied to a " +
			"private warehouse thread; referenced files stay where they are. The thread owner can delete " +
			"resources at any time. Accept to continue.",
		Choices: []string{"accept", "decline"},
	}
}

func (g *ConsentGate) findOrCreateUser(ctx context.Context, actorID string) (*model.User, error) {
	user, err := g.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user = &model.User{ID: actorID, CreatedAt: g.clock.Now()}
	err = g.store.CreateUser(ctx, user)
	if err == nil {
		g.logger.Debug("user created", "actor_id", actorID)
		return user, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	// Created concurrently by another request.
	user, err = g.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("re-reading user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s vanished after duplicate insert", actorID)
	}
	return user, nil
}
