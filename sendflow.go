// Package sendflow turns a raw "send funds" request into a signed and
// optionally broadcast transaction, driving account discovery, fee tier
// composition and device signing through one interactive session.
package sendflow

import (
	"context"

	"github.com/walletkit/sendflow/internal/backend"
	"github.com/walletkit/sendflow/internal/config"
	"github.com/walletkit/sendflow/internal/device"
	"github.com/walletkit/sendflow/internal/discovery"
	"github.com/walletkit/sendflow/internal/session"
	"github.com/walletkit/sendflow/internal/ui"
	"github.com/walletkit/sendflow/internal/validate"
	"github.com/walletkit/sendflow/pkg/models"
)

// RawRequest is the untyped request accepted at the feature boundary.
type RawRequest = validate.RawRequest

// RawOutput is one untyped output of a RawRequest.
type RawOutput = validate.RawOutput

// Deps collects the collaborators a session needs.
type Deps struct {
	Config config.Config
	Opener backend.Opener
	Device device.Device
	Keys   discovery.KeySource

	Prompts chan<- ui.Prompt
	Events  <-chan ui.Event
}

// Send validates the raw request and runs one session to completion. A
// validation failure returns before any session state exists; a broadcast
// failure returns a *session.BroadcastError still carrying the signed
// transaction.
func Send(ctx context.Context, deps Deps, raw RawRequest) (*models.SignedTransaction, error) {
	req, err := validate.Request(raw)
	if err != nil {
		return nil, err
	}

	sess := session.New(session.Params{
		Request: req,
		Config:  deps.Config,
		Opener:  deps.Opener,
		Device:  deps.Device,
		Keys:    deps.Keys,
		Prompts: deps.Prompts,
		Events:  deps.Events,
	})
	return sess.Run(ctx)
}
