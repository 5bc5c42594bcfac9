package websqlite3

import "github.com/joao-brasil/websqlite3/internal/werrors"

// Error is the error type returned by every Client, Pool, and
// TransactionScope operation. Use the Is* helpers below to classify it.
type Error = werrors.Error

// IsConfigurationError reports a bad config file, bad field type, or
// min_size > max_size.
func IsConfigurationError(err error) bool { return werrors.Is(err, werrors.KindConfiguration) }

// IsConnectionError reports that the driver could not open a new handle.
func IsConnectionError(err error) bool { return werrors.Is(err, werrors.KindConnection) }

// IsPoolExhaustedError reports that connection_timeout elapsed with no
// free connection slot.
func IsPoolExhaustedError(err error) bool { return werrors.Is(err, werrors.KindPoolExhausted) }

// IsQueryError reports that the driver raised a SQL error.
func IsQueryError(err error) bool { return werrors.Is(err, werrors.KindQuery) }

// IsTimeoutError reports a deadline exceeded at queue wait, pool
// acquisition, or driver execution.
func IsTimeoutError(err error) bool { return werrors.Is(err, werrors.KindTimeout) }

// IsTransactionError reports a BEGIN/COMMIT/ROLLBACK failure, or use of
// a Client before Connect. A closed Client reports IsShutdownError.
func IsTransactionError(err error) bool { return werrors.Is(err, werrors.KindTransaction) }

// IsShutdownError reports submission after Close, or a Close in progress.
func IsShutdownError(err error) bool { return werrors.Is(err, werrors.KindShutdown) }

// IsQueueFullError reports that the bounded queue's circuit breaker
// rejected the submission outright.
func IsQueueFullError(err error) bool { return werrors.Is(err, werrors.KindQueueFull) }
