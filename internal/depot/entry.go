package depot

import (
	"context"
	"fmt"

	"depot/internal/model"
)

// EntryRequest opens an upload flow.
type EntryRequest struct {
	ActorID string
	Origin  RequestOrigin
	Mode    model.ResourceMode
	// Locator is the message link for reference mode, if already known.
	Locator string
	// SourceItemID is set by the "adopt message" context action.
	SourceItemID string
}

// ReferenceForm is the submitted reference-mode form.
type ReferenceForm struct {
	ActorID      string
	Locator      string
	VersionLabel string
	Password     string
	Description  string
}

// StoreForm is the submitted store-mode form.
type StoreForm struct {
	ActorID       string
	ContainerName string
	VersionLabel  string
	Password      string
	Description   string
	Attachments   []Attachment
}

// Begin checks consent and ownership and, when both pass, opens a draft the
// actor completes by submitting a form. Expected refusals are returned as
// Rejected; only unexpected failures are returned as errors.
func (i *Ingestor) Begin(ctx context.Context, req EntryRequest) (EntryOutcome, error) {
	if req.Origin == nil {
		return Rejected{Code: CodeMissingField, Reason: "the current thread could not be determined"}, nil
	}
	if !req.Mode.Valid() {
		return Rejected{Code: CodeMissingField, Reason: "choose either a protected or a referenced upload"}, nil
	}

	prefilled := Prefilled{Locator: req.Locator}
	if req.Mode == model.ModeReference && req.Locator != "" {
		loc, err := ParseLocator(req.Locator)
		if err != nil {
			return rejectOrFail(err)
		}
		if loc.ChannelID != req.Origin.ContainerID() {
			return Rejected{Code: CodeLocationMismatch, Reason: "the link must point at a message in this thread"}, nil
		}
	}

	state, err := i.consent.EnsureConsent(ctx, req.ActorID)
	if err != nil {
		return rejectOrFail(err)
	}
	if state == ConsentPendingDisplay {
		return ConsentRequired{Disclosure: i.consent.Disclosure()}, nil
	}

	if _, err := i.auth.Authorize(ctx, req.Origin.ContainerID(), req.ActorID); err != nil {
		return rejectOrFail(err)
	}

	if req.SourceItemID != "" {
		item, err := i.channel.Fetch(ctx, req.Origin.ContainerID(), req.SourceItemID)
		if err != nil {
			return rejectOrFail(classifyFetchError(err))
		}
		if len(item.Attachments) == 0 {
			return Rejected{Code: CodeMissingField, Reason: "the message has no attachments to protect"}, nil
		}
		prefilled.Filename = item.Attachments[0].Filename
	}

	now := i.clock.Now()
	draft := &Draft{
		Token:        i.idgen.New(),
		ActorID:      req.ActorID,
		OriginKind:   req.Origin.kind(),
		ContainerID:  req.Origin.ContainerID(),
		GuildID:      req.Origin.GuildID(),
		Mode:         req.Mode,
		Locator:      req.Locator,
		SourceItemID: req.SourceItemID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(i.formTTL),
	}
	if err := i.drafts.Put(ctx, draft); err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}

	i.logger.Debug("upload form opened", "token", draft.Token, "actor_id", req.ActorID, "mode", req.Mode)
	return FormPrompt{Mode: req.Mode, Prefilled: prefilled, DraftToken: draft.Token, ExpiresAt: draft.ExpiresAt}, nil
}

// SubmitReference completes a reference-mode draft.
func (i *Ingestor) SubmitReference(ctx context.Context, token string, form ReferenceForm) (*IngestResult, error) {
	draft, err := i.claimDraft(ctx, token, form.ActorID, model.ModeReference)
	if err != nil {
		return nil, err
	}

	locator := form.Locator
	if locator == "" {
		locator = draft.Locator
	}
	return i.IngestReference(ctx, ReferenceRequest{
		ActorID:      form.ActorID,
		Origin:       draft.Origin(),
		Locator:      locator,
		VersionLabel: form.VersionLabel,
		Password:     form.Password,
		Description:  form.Description,
	})
}

// SubmitStored completes a store-mode draft.
func (i *Ingestor) SubmitStored(ctx context.Context, token string, form StoreForm) (*IngestResult, error) {
	draft, err := i.claimDraft(ctx, token, form.ActorID, model.ModeStored)
	if err != nil {
		return nil, err
	}

	req := StoreRequest{
		ActorID:       form.ActorID,
		Origin:        draft.Origin(),
		ContainerName: form.ContainerName,
		VersionLabel:  form.VersionLabel,
		Password:      form.Password,
		Description:   form.Description,
		Attachments:   form.Attachments,
	}
	if draft.SourceItemID != "" {
		src := AdoptedSource{ItemID: draft.SourceItemID}
		if item, err := i.channel.Fetch(ctx, draft.ContainerID, draft.SourceItemID); err == nil {
			src.AuthorID = item.AuthorID
		} else {
			i.logger.Warn("adopted message no longer readable", "item_id", draft.SourceItemID, "error", err)
		}
		req.Adopted = &src
	}
	return i.IngestStored(ctx, req)
}

// claimDraft loads and removes a draft, then re-checks consent. Ownership is
// re-checked by the pipeline itself, since it may have changed since entry.
func (i *Ingestor) claimDraft(ctx context.Context, token, actorID string, mode model.ResourceMode) (*Draft, error) {
	draft, err := i.drafts.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("loading draft: %w", err)
	}
	if draft == nil {
		return nil, newError(KindValidation, CodeFormExpired, "this form has expired, please start the upload again", nil)
	}
	if draft.ActorID != actorID {
		return nil, newError(KindAuthorization, CodeNotOwner, "this form was opened by another member", nil)
	}
	if draft.Mode != mode {
		return nil, newError(KindValidation, CodeMissingField, "this form belongs to a different upload mode", nil)
	}

	if err := i.drafts.Delete(ctx, token); err != nil {
		i.logger.Warn("removing draft failed", "token", token, "error", err)
	}

	state, err := i.consent.EnsureConsent(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if state != ConsentAgreed {
		return nil, newError(KindValidation, CodeConsentRequired, "please accept the privacy notice before uploading", nil)
	}
	return draft, nil
}

// rejectOrFail turns expected refusals into Rejected and passes everything else through.
func rejectOrFail(err error) (EntryOutcome, error) {
	if e, ok := AsError(err); ok && e.Kind != KindInternal {
		return Rejected{Code: e.Code, Reason: e.Message}, nil
	}
	return nil, err
}
