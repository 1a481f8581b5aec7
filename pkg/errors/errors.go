// Package errors holds the sentinel errors shared by the reactor, future
// and rpc packages, plus thin re-exports of github.com/pkg/errors for
// wrapping at subsystem boundaries.
package errors

import (
	"errors"

	perrors "github.com/pkg/errors"
)

// Wrap and Cause are re-exported so callers only need to import this
// package instead of both errors and github.com/pkg/errors.
var (
	Wrap  = perrors.Wrap
	Wrapf = perrors.Wrapf
	Cause = perrors.Cause
)

var (
	// ErrEngineShutdown occurs when the engine is being shut down.
	ErrEngineShutdown = errors.New("lrpc: engine is going to be shutdown")
	// ErrEngineInShutdown occurs when shutdown is requested twice.
	ErrEngineInShutdown = errors.New("lrpc: engine is already in shutdown")
	// ErrAcceptSocket occurs when the acceptor fails to accept a new connection.
	ErrAcceptSocket = errors.New("lrpc: accept a new connection error")
	// ErrUnsupportedProtocol occurs for non-tcp network strings.
	ErrUnsupportedProtocol = errors.New("lrpc: only tcp/tcp4/tcp6 are supported")

	// ErrIncompletePacket means the decoder needs more bytes before it can
	// produce a frame.
	ErrIncompletePacket = errors.New("lrpc: incomplete packet")
	// ErrTooLongFrame means a frame announced a length outside the
	// permitted range.
	ErrTooLongFrame = errors.New("lrpc: frame too long")

	// ErrNotInLoopThread is returned (or panicked with, depending on the
	// call site) when a loop-affine method is invoked off its owning
	// thread without going through runInLoop/queueInLoop.
	ErrNotInLoopThread = errors.New("lrpc: call from outside the owning event loop")

	// ErrChannelInHandler is the programming error the spec calls out:
	// destroying a Channel while its handler is executing.
	ErrChannelInHandler = errors.New("lrpc: channel destroyed while its handler was running")

	// ErrFutureTimeout is returned by Future.Wait when the deadline elapses
	// before the shared state resolves.
	ErrFutureTimeout = errors.New("lrpc: future wait timed out")

	// ErrPromiseAlreadySatisfied guards the no-op-after-first-transition
	// invariant on the promise shared state.
	ErrPromiseAlreadySatisfied = errors.New("lrpc: promise already has a value")
)
