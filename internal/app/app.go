package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"depot/internal/channel"
	"depot/internal/config"
	"depot/internal/database"
	"depot/internal/database/migrations"
	"depot/internal/depot"
	"depot/internal/metrics"
	"depot/internal/model"
	"depot/internal/notify"
	"depot/internal/pending"
)

// DepotApp is the application layer between the CLI and DepotService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings and paths, and releases everything on Close.
type DepotApp struct {
	cfg      *config.Config
	db       *database.SQLDatabase
	channel  channel.Channel
	drafts   pending.Store
	notifier notify.Notifier
	registry *prometheus.Registry
	service  *depot.DepotService
	op       *Operation
	logger   *slog.Logger
	logFile  *os.File
}

// NewDepotApp creates a fully wired DepotApp from the given config.
// operation identifies the CLI command being run (e.g. "UploadStored", "ResolveResource").
// The caller must call Close when done.
func NewDepotApp(ctx context.Context, cfg *config.Config, operation string) (*DepotApp, error) {
	clock := depot.RealClock{}
	op := NewOperation(operation, "", clock.Now())

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &DepotApp{cfg: cfg, op: op, logger: logger, logFile: logFile}
	fail := func(err error) (*DepotApp, error) {
		a.release()
		return nil, err
	}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("creating database: %w", err))
	}
	if cfg.Database.Type == "memory" {
		// A memory database starts empty every run.
		if err := a.db.Migrate(); err != nil {
			return fail(fmt.Errorf("migrating memory database: %w", err))
		}
	} else if err := a.db.CheckMigrations(); err != nil {
		return fail(fmt.Errorf("database schema out of date (run `depot db migrate`): %w", err))
	}

	a.channel, err = channel.NewChannelFromConfig(ctx, cfg.Channel, clock)
	if err != nil {
		return fail(fmt.Errorf("creating content channel: %w", err))
	}

	a.drafts, err = pending.NewStoreFromConfig(cfg.Pending, clock)
	if err != nil {
		return fail(fmt.Errorf("creating draft store: %w", err))
	}

	a.notifier, err = notify.NewNotifierFromConfig(cfg.Notifier, log)
	if err != nil {
		return fail(fmt.Errorf("creating notifier: %w", err))
	}

	a.registry = prometheus.NewRegistry()
	obs, err := metrics.NewPrometheusObserver(metrics.DefaultNamespace, a.registry)
	if err != nil {
		return fail(fmt.Errorf("creating metrics observer: %w", err))
	}

	formTTL, err := config.ParseDuration(cfg.Pending.FormTTL, 3*time.Minute)
	if err != nil {
		return fail(fmt.Errorf("parsing pending.form_ttl: %w", err))
	}
	taskTimeout, err := config.ParseDuration(cfg.Tasks.Timeout, 30*time.Second)
	if err != nil {
		return fail(fmt.Errorf("parsing tasks.timeout: %w", err))
	}

	a.service = depot.NewDepotService(depot.Deps{
		Store:           a.db,
		Channel:         a.channel,
		Drafts:          a.drafts,
		Notifier:        a.notifier,
		Logger:          log,
		Clock:           clock,
		IDs:             depot.UUIDGenerator{},
		Observer:        obs,
		WarehouseRoot:   cfg.Warehouse.Root,
		WarehousePrefix: cfg.Warehouse.NamePrefix,
		FormTTL:         formTTL,
		TaskConcurrency: cfg.Tasks.Concurrency,
		TaskTimeout:     taskTimeout,
	})

	logger.Debug("operation started", "operation", operation)
	return a, nil
}

// Origin returns the request origin for a command issued against container.
func Origin(containerID, guildID string) depot.RequestOrigin {
	return depot.Interactive{Container: containerID, Guild: guildID}
}

// CheckWarehouse verifies that the configured warehouse root is usable.
func (a *DepotApp) CheckWarehouse(ctx context.Context) error {
	return a.track(a.service.Warehouse.Check(ctx))
}

// Disclosure returns the consent prompt shown before a first upload.
func (a *DepotApp) Disclosure() depot.Prompt {
	return a.service.Consent.Disclosure()
}

// ConsentState reports whether actorID has accepted the disclosure.
func (a *DepotApp) ConsentState(ctx context.Context, actorID string) (depot.ConsentState, error) {
	state, err := a.service.Consent.EnsureConsent(ctx, actorID)
	return state, a.track(err)
}

// AcceptConsent records actorID's consent.
func (a *DepotApp) AcceptConsent(ctx context.Context, actorID string) error {
	return a.track(a.service.Consent.RecordConsent(ctx, actorID))
}

// DeclineConsent records nothing; the actor is asked again on the next upload.
func (a *DepotApp) DeclineConsent(ctx context.Context, actorID string) {
	a.service.Consent.Decline(ctx, actorID)
}

// Post publishes a message, optionally carrying the file at path, into a
// public container and returns the new item id.
func (a *DepotApp) Post(ctx context.Context, containerID, authorID, content, path string) (string, error) {
	post := channel.Post{AuthorID: authorID, Content: content}
	if path != "" {
		att, closeFn, err := openAttachment(path)
		if err != nil {
			return "", a.track(err)
		}
		defer closeFn()
		post.Attachment = &att
	}
	id, err := a.channel.Publish(ctx, containerID, post)
	if err != nil {
		return "", a.track(fmt.Errorf("publishing to %s: %w", containerID, err))
	}
	a.logger.Info("message posted", "container_id", containerID, "item_id", id)
	return id, nil
}

// ReferenceUpload is a reference-mode upload issued from the command line.
type ReferenceUpload struct {
	ActorID      string
	Origin       depot.RequestOrigin
	Locator      string
	VersionLabel string
	Password     string
	Description  string
}

// StoreUpload is a store-mode upload issued from the command line.
type StoreUpload struct {
	ActorID       string
	Origin        depot.RequestOrigin
	ContainerName string
	VersionLabel  string
	Password      string
	Description   string
	Paths         []string
	// AdoptItemID names the message whose attachments Paths re-supply.
	AdoptItemID string
}

// UploadReference runs the reference-mode entry flow and submits the form at once.
// A non-nil outcome means the flow stopped before the form.
func (a *DepotApp) UploadReference(ctx context.Context, u ReferenceUpload) (depot.EntryOutcome, *depot.IngestResult, error) {
	a.op.Parameters = u.Locator
	out, err := a.service.Ingest.Begin(ctx, depot.EntryRequest{
		ActorID: u.ActorID,
		Origin:  u.Origin,
		Mode:    model.ModeReference,
		Locator: u.Locator,
	})
	if err != nil {
		return nil, nil, a.track(err)
	}
	form, ok := out.(depot.FormPrompt)
	if !ok {
		return out, nil, nil
	}

	res, err := a.service.Ingest.SubmitReference(ctx, form.DraftToken, depot.ReferenceForm{
		ActorID:      u.ActorID,
		Locator:      u.Locator,
		VersionLabel: u.VersionLabel,
		Password:     u.Password,
		Description:  u.Description,
	})
	return nil, res, a.track(err)
}

// UploadStored runs the store-mode entry flow and submits the files at once.
// A non-nil outcome means the flow stopped before the form.
func (a *DepotApp) UploadStored(ctx context.Context, u StoreUpload) (depot.EntryOutcome, *depot.IngestResult, error) {
	if len(u.Paths) == 0 {
		// Fetched items only expose a pointer, so the bytes always come from the caller.
		return depot.Rejected{Code: depot.CodeMissingField, Reason: "pass at least one file with --file"}, nil, nil
	}

	out, err := a.service.Ingest.Begin(ctx, depot.EntryRequest{
		ActorID:      u.ActorID,
		Origin:       u.Origin,
		Mode:         model.ModeStored,
		SourceItemID: u.AdoptItemID,
	})
	if err != nil {
		return nil, nil, a.track(err)
	}
	form, ok := out.(depot.FormPrompt)
	if !ok {
		return out, nil, nil
	}

	var attachments []depot.Attachment
	for _, p := range u.Paths {
		att, closeFn, err := openAttachment(p)
		if err != nil {
			return nil, nil, a.track(err)
		}
		defer closeFn()
		attachments = append(attachments, att)
	}
	a.op.Parameters = fmt.Sprintf("%d file(s)", len(attachments))

	res, err := a.service.Ingest.SubmitStored(ctx, form.DraftToken, depot.StoreForm{
		ActorID:       u.ActorID,
		ContainerName: u.ContainerName,
		VersionLabel:  u.VersionLabel,
		Password:      u.Password,
		Description:   u.Description,
		Attachments:   attachments,
	})
	return nil, res, a.track(err)
}

// Listing is a thread's resources ready for display. Options holds the
// stored resources only.
type Listing struct {
	Grouping *depot.Grouping
	Summary  depot.Summary
	Options  []depot.Option
}

// ListResources lists the resources of containerID.
func (a *DepotApp) ListResources(ctx context.Context, origin depot.RequestOrigin) (*Listing, error) {
	g, err := a.service.Resolve.ListResources(ctx, origin.ContainerID())
	if err != nil {
		return nil, a.track(err)
	}
	// Referenced resources are reached through their jump links, so only
	// stored ones are offered for resolution.
	return &Listing{
		Grouping: g,
		Summary:  depot.Summarize(g, origin),
		Options:  depot.SelectOptions(g.Secure),
	}, nil
}

// RequiresPassword reports whether resolving resourceID needs a password.
func (a *DepotApp) RequiresPassword(ctx context.Context, resourceID string) (bool, error) {
	need, err := a.service.Resolve.RequiresPassword(ctx, resourceID)
	return need, a.track(err)
}

// ResolveResource mints a fresh access pointer for resourceID.
func (a *DepotApp) ResolveResource(ctx context.Context, resourceID, password string) (*depot.AccessPointer, error) {
	a.op.Parameters = resourceID
	p, err := a.service.Resolve.ResolveAccess(ctx, resourceID, password)
	return p, a.track(err)
}

// EditResource updates the version label and password of resourceID.
func (a *DepotApp) EditResource(ctx context.Context, actorID, resourceID, versionLabel, password string) (*model.Resource, error) {
	a.op.Parameters = resourceID
	r, err := a.service.EditResource(ctx, actorID, resourceID, versionLabel, password)
	return r, a.track(err)
}

// DeleteResource removes resourceID. It reports false when nothing was deleted.
func (a *DepotApp) DeleteResource(ctx context.Context, actorID, resourceID string) (bool, error) {
	a.op.Parameters = resourceID
	ok, err := a.service.RemoveResource(ctx, actorID, resourceID)
	return ok, a.track(err)
}

// UpdateThreadSettings changes the settings of the thread behind origin.
func (a *DepotApp) UpdateThreadSettings(ctx context.Context, actorID string, origin depot.RequestOrigin, settings depot.ThreadSettings) (*model.Thread, error) {
	th, err := a.service.UpdateThreadSettings(ctx, actorID, origin.ContainerID(), settings)
	return th, a.track(err)
}

// Reply renders the result of an operation for display.
func (a *DepotApp) Reply(origin depot.RequestOrigin, err error, success string) depot.Reply {
	return a.service.Reply(a.op.Name, origin, err, success)
}

// track marks the operation failed when err is non-nil and returns err unchanged.
func (a *DepotApp) track(err error) error {
	if err != nil {
		a.op.Fail(err)
	}
	return err
}

// Close waits for background tasks, exports metrics and closes all resources.
func (a *DepotApp) Close() error {
	var errs []error

	if a.service != nil {
		a.service.Shutdown()
	}
	if a.registry != nil && a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "parameters", a.op.Parameters,
		"status", a.op.Status, "duration", a.op.Duration(time.Now().UTC()))

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes every collaborator that was opened.
func (a *DepotApp) release() error {
	var errs []error
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing notifier: %w", err))
		}
	}
	if a.drafts != nil {
		if err := a.drafts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing draft store: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// MigrateDatabase applies all pending schema migrations and returns the schema version.
func MigrateDatabase(cfg *config.Config) (uint, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return 0, err
	}
	return migrations.LatestVersion(db.Dialect())
}

// DatabaseStatus returns the expected schema version and nil when the schema
// is current, or the reason it is not.
func DatabaseStatus(cfg *config.Config) (uint, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	latest, err := migrations.LatestVersion(db.Dialect())
	if err != nil {
		return 0, err
	}
	return latest, db.CheckMigrations()
}

// openAttachment opens the file at path as an upload payload. The returned
// func closes the file.
func openAttachment(path string) (depot.Attachment, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return depot.Attachment{}, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return depot.Attachment{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return depot.Attachment{}, nil, fmt.Errorf("%s is a directory", path)
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return depot.Attachment{
		Filename:    filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		Body:        f,
	}, func() { f.Close() }, nil
}
