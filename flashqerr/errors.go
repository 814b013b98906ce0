// Package flashqerr defines the error taxonomy shared by every FlashQ
// storage and cluster component. Every exported error type implements
// Coder so an external transport can classify a failure without
// reaching into implementation details.
package flashqerr

import "fmt"

// Code is a transport-agnostic classification of an error:
// NotFound/InvalidArgument/Internal/Unavailable.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidArgument Code = "invalid_argument"
	CodeInternal        Code = "internal"
	CodeUnavailable     Code = "unavailable"
)

// Coder is implemented by every FlashQ error so callers can classify
// it without a type switch over every concrete error.
type Coder interface {
	error
	Code() Code
}

// TopicNotFoundError reports that a referenced topic does not exist.
type TopicNotFoundError struct {
	Topic string
}

func (e *TopicNotFoundError) Error() string { return fmt.Sprintf("topic not found: %s", e.Topic) }
func (e *TopicNotFoundError) Code() Code    { return CodeNotFound }

// PartitionNotFoundError reports that a referenced partition does not exist.
type PartitionNotFoundError struct {
	Topic     string
	Partition uint32
}

func (e *PartitionNotFoundError) Error() string {
	return fmt.Sprintf("partition not found: %s/%d", e.Topic, e.Partition)
}
func (e *PartitionNotFoundError) Code() Code { return CodeNotFound }

// BrokerNotFoundError reports that a referenced broker is absent from the manifest.
type BrokerNotFoundError struct {
	BrokerID uint32
}

func (e *BrokerNotFoundError) Error() string { return fmt.Sprintf("broker not found: %d", e.BrokerID) }
func (e *BrokerNotFoundError) Code() Code    { return CodeNotFound }

// InvalidReplicaError reports a broker that is not a member of a partition's replica set.
type InvalidReplicaError struct {
	Topic     string
	Partition uint32
	BrokerID  uint32
}

func (e *InvalidReplicaError) Error() string {
	return fmt.Sprintf("broker %d is not a replica of %s/%d", e.BrokerID, e.Topic, e.Partition)
}
func (e *InvalidReplicaError) Code() Code { return CodeInvalidArgument }

// InvalidEpochError reports an epoch that failed to advance or a CAS mismatch.
type InvalidEpochError struct {
	Topic     string
	Partition uint32
	Reason    string
}

func (e *InvalidEpochError) Error() string {
	return fmt.Sprintf("invalid epoch transition for %s/%d: %s", e.Topic, e.Partition, e.Reason)
}
func (e *InvalidEpochError) Code() Code { return CodeInvalidArgument }

// InvalidManifestError reports a structural error in a loaded cluster manifest.
type InvalidManifestError struct {
	Reason string
}

func (e *InvalidManifestError) Error() string { return fmt.Sprintf("invalid manifest: %s", e.Reason) }
func (e *InvalidManifestError) Code() Code    { return CodeInvalidArgument }

// UnknownBrokerError reports a heartbeat from a broker absent from the manifest.
type UnknownBrokerError struct {
	BrokerID uint32
}

func (e *UnknownBrokerError) Error() string { return fmt.Sprintf("unknown broker: %d", e.BrokerID) }
func (e *UnknownBrokerError) Code() Code    { return CodeInvalidArgument }

// DataCorruptionError reports a frame or index decode violation.
type DataCorruptionError struct {
	Context string
	Details string
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("data corruption (%s): %s", e.Context, e.Details)
}
func (e *DataCorruptionError) Code() Code { return CodeInternal }

// ReadFailedError wraps an underlying I/O read failure with context.
type ReadFailedError struct {
	Context string
	Err     error
}

func (e *ReadFailedError) Error() string { return fmt.Sprintf("read failed (%s): %v", e.Context, e.Err) }
func (e *ReadFailedError) Unwrap() error { return e.Err }
func (e *ReadFailedError) Code() Code    { return CodeInternal }

// WriteFailedError wraps an underlying I/O write failure with context.
type WriteFailedError struct {
	Context string
	Err     error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("write failed (%s): %v", e.Context, e.Err)
}
func (e *WriteFailedError) Unwrap() error { return e.Err }
func (e *WriteFailedError) Code() Code    { return CodeInternal }

// InsufficientSpaceError reports an out-of-space condition during append.
type InsufficientSpaceError struct {
	Context string
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space: %s", e.Context)
}
func (e *InsufficientSpaceError) Code() Code { return CodeInternal }

// PermissionDeniedError reports that the filesystem refused the operation.
type PermissionDeniedError struct {
	Context string
	Err     error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied (%s): %v", e.Context, e.Err)
}
func (e *PermissionDeniedError) Unwrap() error { return e.Err }
func (e *PermissionDeniedError) Code() Code    { return CodeInternal }

// DirectoryLockedError reports another live process owns the data directory.
type DirectoryLockedError struct {
	PID int
}

func (e *DirectoryLockedError) Error() string {
	if e.PID == 0 {
		return "data directory is locked by another process"
	}
	return fmt.Sprintf("data directory is locked by pid %d", e.PID)
}
func (e *DirectoryLockedError) Code() Code { return CodeUnavailable }

// LockAcquisitionFailedError reports an advisory-lock race lost by this process.
type LockAcquisitionFailedError struct {
	Reason string
}

func (e *LockAcquisitionFailedError) Error() string {
	return fmt.Sprintf("lock acquisition failed: %s", e.Reason)
}
func (e *LockAcquisitionFailedError) Code() Code { return CodeUnavailable }

// TransportError reports a non-specific RPC/transport failure.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %s: %v", e.Reason, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Code() Code    { return CodeUnavailable }

// FromIOError classifies a raw I/O error: permission and out-of-space
// failures get their own kinds, everything else collapses into
// WriteFailedError.
func FromIOError(err error, context string) error {
	if err == nil {
		return nil
	}
	if isPermissionError(err) {
		return &PermissionDeniedError{Context: context, Err: err}
	}
	if isNoSpaceError(err) {
		return &InsufficientSpaceError{Context: context}
	}
	return &WriteFailedError{Context: context, Err: err}
}
