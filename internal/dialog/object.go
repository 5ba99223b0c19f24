package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/propsheet/internal/client"
	"github.com/alfredjeanlab/propsheet/internal/events"
	"github.com/alfredjeanlab/propsheet/internal/form"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
	"github.com/alfredjeanlab/propsheet/internal/registry"
	"github.com/alfredjeanlab/propsheet/internal/store"
)

// Config wires an ObjectDialog to its collaborators. Registry and Backend
// are required.
type Config struct {
	Registry *registry.Registry
	Backend  client.Backend
	Resolver *options.Resolver

	// Publisher receives dialog and fetch events. Defaults to a no-op.
	Publisher events.Publisher

	// Drafts, when set, keeps the state of dialogs whose save hit a lost
	// connection and restores it the next time the dialog opens.
	Drafts store.Store

	Logger   *slog.Logger
	OnRender func(ids []string)
}

// ObjectDialog creates, edits or shows one database object.
type ObjectDialog struct {
	cfg    Config
	logger *slog.Logger

	params  Params
	node    *registry.Node
	form    *form.Form
	initial model.State
	loaded  model.State
	draft   bool
	done    bool
}

var _ Dialog = (*ObjectDialog)(nil)

// New creates a dialog. Call Main to bind it to an object.
func New(cfg Config) *ObjectDialog {
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectDialog{cfg: cfg, logger: logger}
}

// Main binds the dialog to a node type, mode and object.
func (d *ObjectDialog) Main(params Params) error {
	if err := params.validate(); err != nil {
		return err
	}
	n, ok := d.cfg.Registry.Get(params.NodeType)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownNode, params.NodeType)
	}
	d.params = params
	d.node = n
	d.logger = d.logger.With("node_type", params.NodeType, "mode", string(params.Mode))
	return nil
}

// Setup returns the title, buttons and window options. Properties dialogs
// only offer Close.
func (d *ObjectDialog) Setup() Setup {
	if d.node == nil {
		return Setup{}
	}
	s := Setup{
		Title:   title(d.params.Mode, d.node.Label, d.loaded.String("name")),
		Options: SetupOptions{Modal: true, Resizable: true, Width: 775, Height: 500},
	}
	if d.params.Mode == model.ModeProperties {
		s.Options.Modal = false
		s.Buttons = []ButtonSpec{{Key: ButtonClose, Label: "Close", Primary: true}}
		return s
	}
	s.Buttons = []ButtonSpec{
		{Key: ButtonCancel, Label: "Cancel"},
		{Key: ButtonReset, Label: "Reset"},
		{Key: ButtonSave, Label: "Save", Primary: true},
	}
	return s
}

// Build constructs the node's schema and the form over it.
func (d *ObjectDialog) Build() error {
	if d.node == nil {
		return ErrNotStarted
	}
	opts := registry.FieldOptions{
		ServerVersion: d.params.ServerVersion,
		NodeInfo:      d.params.NodeInfo,
		Mode:          d.params.Mode,
	}
	schema := d.node.Build(opts)
	d.initial = d.params.InitValues.Clone()
	f, err := form.New(schema, form.Options{
		Mode:          d.params.Mode,
		ServerVersion: d.params.ServerVersion,
		NodeInfo:      d.params.NodeInfo,
		InitValues:    d.initial,
		Resolver:      d.cfg.Resolver,
		Publisher:     d.cfg.Publisher,
		Logger:        d.logger,
		OnRender:      d.cfg.OnRender,
	})
	if err != nil {
		return fmt.Errorf("build %s dialog: %w", d.params.NodeType, err)
	}
	d.form = f
	return nil
}

// Prepare loads the object outside create mode and restores a saved draft
// if one exists.
func (d *ObjectDialog) Prepare(ctx context.Context) error {
	if d.form == nil {
		return ErrNotBuilt
	}
	if d.params.Mode != model.ModeCreate {
		data, err := d.cfg.Backend.GetObject(ctx, d.objectPath())
		if err != nil {
			if client.IsConnectionLost(err) {
				return fmt.Errorf("load %s: %w", d.params.NodeType, errors.Join(ErrConnectionLost, err))
			}
			return fmt.Errorf("load %s: %w", d.params.NodeType, err)
		}
		d.loaded = data
		d.initial = data.Clone()
		for k, v := range d.params.InitValues {
			d.initial[k] = v
		}
		if err := d.form.Reset(d.params.Mode, d.initial); err != nil {
			return err
		}
	}

	if err := d.form.LoadRows(ctx); err != nil {
		d.logger.Warn("collection rows incomplete", "err", err)
	}

	if d.cfg.Drafts == nil || d.params.Mode == model.ModeProperties {
		return nil
	}
	dr, err := d.cfg.Drafts.GetDraft(ctx, d.draftKey())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		d.logger.Warn("draft lookup failed", "err", err)
	default:
		d.form.Restore(dr.State)
		d.draft = true
		d.logger.Info("draft restored", "draft", dr.ID, "saved_at", dr.UpdatedAt)
	}
	return nil
}

// Form returns the dialog's form, or nil before Build.
func (d *ObjectDialog) Form() *form.Form { return d.form }

// Restored reports whether Prepare restored a draft.
func (d *ObjectDialog) Restored() bool { return d.draft }

// Callback handles a button press. Save validates and submits; on failure
// the dialog stays open with its state. Reset reloads the initial state.
// Cancel and Close discard. Every Close outcome tears the form down.
func (d *ObjectDialog) Callback(ctx context.Context, ev CloseEvent) (Outcome, error) {
	if d.form == nil {
		return Close, ErrNotBuilt
	}
	if d.done {
		return Close, nil
	}
	switch ev.Button {
	case ButtonSave:
		return d.save(ctx)
	case ButtonReset:
		if err := d.form.Reset(d.params.Mode, d.initial); err != nil {
			return KeepOpen, err
		}
		return KeepOpen, nil
	case ButtonCancel, ButtonClose:
		if d.draft {
			d.deleteDraft(ctx)
		}
		d.teardown(ctx, ev.Button)
		return Close, nil
	default:
		return KeepOpen, fmt.Errorf("dialog: unknown button %q", ev.Button)
	}
}

func (d *ObjectDialog) save(ctx context.Context) (Outcome, error) {
	if d.params.Mode == model.ModeProperties {
		return KeepOpen, errors.New("dialog: properties dialogs are read-only")
	}
	if d.form.Validate() {
		field, msg := d.form.FirstError()
		return KeepOpen, &FieldValidationError{Field: field, Message: msg, Errors: d.form.Errors()}
	}

	payload := d.form.Payload()
	var (
		saved model.State
		err   error
	)
	if d.params.Mode == model.ModeCreate {
		saved, err = d.cfg.Backend.CreateObject(ctx, d.collectionPath(), payload)
	} else {
		saved, err = d.cfg.Backend.UpdateObject(ctx, d.objectPath(), payload)
	}
	if err != nil {
		return KeepOpen, d.submitFailed(ctx, err)
	}

	if d.draft {
		d.deleteDraft(ctx)
	}
	objectID := d.params.ObjectID
	if id, ok := saved[d.form.Schema().IDAttribute]; ok && d.form.Schema().IDAttribute != "" {
		objectID = id
	}
	d.publish(ctx, events.TopicDialogSaved, events.DialogSaved{
		NodeType: d.params.NodeType,
		Mode:     d.params.Mode,
		ObjectID: objectID,
		Data:     saved,
	})
	d.logger.Info("object saved", "object_id", objectID)
	d.teardown(ctx, ButtonSave)
	return Close, nil
}

// submitFailed classifies a failed save. A lost connection stores a draft.
func (d *ObjectDialog) submitFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if client.IsConnectionLost(err) {
		d.logger.Warn("connection lost during save", "err", err)
		if derr := d.saveDraft(ctx); derr != nil {
			return errors.Join(ErrConnectionLost, err, derr)
		}
		return errors.Join(ErrConnectionLost, err)
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return &SubmitError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &SubmitError{Err: err}
}

func (d *ObjectDialog) saveDraft(ctx context.Context) error {
	if d.cfg.Drafts == nil {
		return nil
	}
	dr := &store.Draft{
		Key:      d.draftKey(),
		NodeType: d.params.NodeType,
		Mode:     d.params.Mode,
		State:    d.form.State(),
	}
	if err := d.cfg.Drafts.SaveDraft(context.WithoutCancel(ctx), dr); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	d.draft = true
	d.logger.Info("draft saved", "draft", dr.ID, "key", dr.Key)
	return nil
}

func (d *ObjectDialog) deleteDraft(ctx context.Context) {
	if d.cfg.Drafts == nil {
		return
	}
	if err := d.cfg.Drafts.DeleteDraft(context.WithoutCancel(ctx), d.draftKey()); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("draft delete failed", "err", err)
	}
	d.draft = false
}

func (d *ObjectDialog) teardown(ctx context.Context, button Button) {
	d.done = true
	d.form.Close()
	d.publish(ctx, events.TopicDialogClosed, events.DialogClosed{
		NodeType: d.params.NodeType,
		Mode:     d.params.Mode,
		Button:   string(button),
	})
}

func (d *ObjectDialog) publish(ctx context.Context, topic string, ev any) {
	if err := d.cfg.Publisher.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		d.logger.Warn("publish failed", "topic", topic, "err", err)
	}
}

func (d *ObjectDialog) scope() string {
	return d.params.NodeInfo.ScopePath(d.node.CacheLevel)
}

// collectionPath is where new objects are POSTed.
func (d *ObjectDialog) collectionPath() string {
	return d.node.URL + "/" + d.scope()
}

// objectPath addresses the dialog's object.
func (d *ObjectDialog) objectPath() string {
	return d.collectionPath() + "/" + store.FormatID(d.params.ObjectID)
}

func (d *ObjectDialog) draftKey() string {
	return store.DraftKey(d.params.NodeType, d.params.Mode, d.scope(), d.params.ObjectID)
}
