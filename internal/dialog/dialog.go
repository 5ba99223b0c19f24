// Package dialog implements the lifecycle hosts drive for every modal
// property dialog: Main, Setup, Build, Prepare and Callback.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

var (
	// ErrConnectionLost is returned when the backend reports that its
	// database connection dropped. The dialog keeps its state.
	ErrConnectionLost = errors.New("dialog: backend connection lost")

	ErrNotStarted = errors.New("dialog: Main has not been called")
	ErrNotBuilt   = errors.New("dialog: Build has not been called")
)

// Button identifies a dialog button.
type Button string

const (
	ButtonSave   Button = "save"
	ButtonCancel Button = "cancel"
	ButtonReset  Button = "reset"
	ButtonClose  Button = "close"
)

// ButtonSpec describes one button the host should render.
type ButtonSpec struct {
	Key     Button `json:"key"`
	Label   string `json:"label"`
	Primary bool   `json:"primary,omitempty"`
}

// Setup is what a dialog asks of its host window.
type Setup struct {
	Title   string       `json:"title"`
	Buttons []ButtonSpec `json:"buttons"`
	Options SetupOptions `json:"options"`
}

// SetupOptions are window hints.
type SetupOptions struct {
	Modal     bool `json:"modal"`
	Resizable bool `json:"resizable"`
	Width     int  `json:"width,omitempty"`
	Height    int  `json:"height,omitempty"`
}

// CloseEvent tells Callback which button was pressed.
type CloseEvent struct {
	Button Button
}

// Outcome tells the host what to do with the window after Callback.
type Outcome int

const (
	Close Outcome = iota
	KeepOpen
)

func (o Outcome) String() string {
	if o == KeepOpen {
		return "keep-open"
	}
	return "close"
}

// Params are passed to Main when the host opens a dialog.
type Params struct {
	NodeType      string
	Mode          model.Mode
	ServerVersion int
	NodeInfo      options.NodeInfo

	// ObjectID is the id of the object edited or shown. It is required
	// outside create mode.
	ObjectID any

	// InitValues seed the form. Outside create mode they are laid over the
	// object loaded from the backend.
	InitValues model.State
}

func (p Params) validate() error {
	if p.NodeType == "" {
		return errors.New("dialog: node type is required")
	}
	if !p.Mode.IsValid() {
		return fmt.Errorf("dialog: invalid mode %q", p.Mode)
	}
	if p.Mode != model.ModeCreate && (p.ObjectID == nil || p.ObjectID == "") {
		return fmt.Errorf("dialog: %s mode needs an object id", p.Mode)
	}
	return nil
}

// Dialog is the fixed lifecycle of a modal dialog. Hosts call Main, Setup,
// Build and Prepare once, in that order, then Callback for every button
// press until it returns Close.
type Dialog interface {
	Main(params Params) error
	Setup() Setup
	Build() error
	Prepare(ctx context.Context) error
	Callback(ctx context.Context, ev CloseEvent) (Outcome, error)
}

// FieldValidationError is returned by Callback when submit validation
// fails. Field and Message name the first failing field in declaration
// order; Errors holds every message.
type FieldValidationError struct {
	Field   string
	Message string
	Errors  model.ErrorMap
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SubmitError is a save the backend rejected. The dialog stays open with
// its state intact.
type SubmitError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmitError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("save failed (HTTP %d): %s", e.StatusCode, msg)
	}
	return "save failed: " + msg
}

func (e *SubmitError) Unwrap() error { return e.Err }

// title renders "Create - Publication" style window titles.
func title(mode model.Mode, label, name string) string {
	verb := strings.ToUpper(string(mode[:1])) + string(mode[1:])
	if name != "" {
		return fmt.Sprintf("%s - %s (%s)", verb, label, name)
	}
	return fmt.Sprintf("%s - %s", verb, label)
}
