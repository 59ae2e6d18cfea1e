// Package pkg holds the logging and error conventions shared by every
// softgadget package.
//
// # Logging
//
// Log lines go through a process-wide [log/slog] logger and carry a
// component attribute naming the subsystem:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentFunction, "function bound", "interface", 0)
//
// The level and handler are normally set from the [log] section of a
// gadget file via config.Config.ApplyLogging.
//
// # Errors
//
// Failures are sentinel values compared with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrResourceUnavailable) {
//		// the controller has no matching endpoint left
//	}
//
// A control request that no function recognizes is reported as
// [ErrNotSupported], which [OutcomeOf] classifies as [OutcomeUnsupported]
// and the control pipe turns into a stall.
package pkg
