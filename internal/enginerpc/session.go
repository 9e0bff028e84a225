/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"errors"

	"github.com/davidwartell/go-onecontext/onecontext"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/smallnest/chanx"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Controller configures the underlying controller. Its Listener still receives every update.
	Controller ControllerConfig

	// Inferior is sent with SetupInferior once the engine is set up.
	Inferior SetupInferiorParams
}

// Session drives a controller through the engine lifecycle: it sets the engine up, sets the inferior up,
// runs the engine and shuts the engine down when the backend asks for it. It also owns teardown.
type Session struct {
	id         string
	log        logr.Logger
	controller *Controller
	inferior   SetupInferiorParams
	states     *chanx.UnboundedChan[EngineState]

	// lifetimeCtx is cancelled by Close and stops Run.
	lifetimeCtx    context.Context
	cancelLifetime context.CancelFunc
}

// NewSession creates a session over t. Nothing is sent until Run is called.
func NewSession(t Transport, cfg SessionConfig) *Session {
	id := uuid.New().String()
	log := cfg.Controller.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("session", id)

	lifetimeCtx, cancelLifetime := context.WithCancel(context.Background())
	s := &Session{
		id:             id,
		log:            log,
		inferior:       cfg.Inferior,
		states:         chanx.NewUnboundedChan[EngineState](lifetimeCtx, 8),
		lifetimeCtx:    lifetimeCtx,
		cancelLifetime: cancelLifetime,
	}

	controllerCfg := cfg.Controller
	controllerCfg.Log = log
	inner := controllerCfg.Listener
	if inner == nil {
		inner = NopListener{}
	}
	controllerCfg.Listener = &sessionListener{Listener: inner, states: s.states.In, ctx: lifetimeCtx}
	s.controller = NewController(t, controllerCfg)

	return s
}

// ID returns the unique id of the session, also attached to every log entry of the session.
func (s *Session) ID() string {
	return s.id
}

// Controller returns the controller driven by the session, e.g. to step or set breakpoints.
func (s *Session) Controller() *Controller {
	return s.controller
}

// Run starts the session and advances its lifecycle until the engine is dead, ctx is cancelled or Close is called.
// The session is torn down before Run returns. Returns the error that killed the session, if any.
func (s *Session) Run(ctx context.Context) (err error) {
	runCtx, cancel := onecontext.Merge(ctx, s.lifetimeCtx)
	defer cancel()

	defer func() {
		teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), 2*s.controller.teardownTimeout)
		defer cancelTeardown()
		if closeErr := s.Close(teardownCtx); closeErr != nil {
			s.log.V(1).Info("Session teardown was not clean", "error", closeErr.Error())
		}
	}()

	s.log.Info("Starting debugger session", "carrier", s.controller.Carrier())
	s.controller.Start(runCtx)

	if setupErr := s.controller.SetupEngine(); setupErr != nil {
		return setupErr
	}

	for {
		select {
		case <-runCtx.Done():
			s.log.V(1).Info("Debugger session cancelled")
			return filterContextError(runCtx.Err(), runCtx, s.log)

		case state, isOpen := <-s.states.Out:
			if !isOpen {
				return s.controller.Err()
			}

			if stepErr := s.advance(state); stepErr != nil {
				return stepErr
			}
			if state == Dead {
				if deathErr := s.controller.Err(); deathErr != nil {
					s.log.Info("Debugger session died", "error", deathErr.Error())
					return deathErr
				}
				s.log.Info("Debugger session ended")
				return nil
			}
		}
	}
}

// advance sends the verb that moves the lifecycle forward from state, if any.
func (s *Session) advance(state EngineState) error {
	var stepErr error
	switch state {
	case InferiorSetupRequested:
		stepErr = s.controller.SetupInferior(s.inferior)
	case EngineRunRequested:
		stepErr = s.controller.RunEngine()
	case EngineShutdownRequested:
		stepErr = s.controller.ShutdownEngine()
	default:
		return nil
	}

	var preconditionErr *PreconditionError
	switch {
	case stepErr == nil:
		return nil
	case errors.Is(stepErr, ErrSessionDead):
		// The Dead state change is already queued.
		return nil
	case errors.As(stepErr, &preconditionErr):
		// The state moved on before the queued change was observed.
		s.log.V(1).Info("Skipping lifecycle step", "state", state.String(), "current", preconditionErr.State.String())
		return nil
	default:
		return stepErr
	}
}

// Close tears the session down and stops Run. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.cancelLifetime()
	return s.controller.Shutdown(ctx)
}

// sessionListener forwards every update to the wrapped Listener and feeds state changes to the session.
type sessionListener struct {
	Listener
	states chan<- EngineState
	ctx    context.Context
}

func (l *sessionListener) StateChanged(from, to EngineState) {
	l.Listener.StateChanged(from, to)
	select {
	case l.states <- to:
	case <-l.ctx.Done():
	}
}
