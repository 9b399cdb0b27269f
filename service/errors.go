package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"syscall"

	"google.golang.org/api/googleapi"
)

// Acquisition errors are classified on two axes: temporary errors are worth
// retrying (network hiccups, throttling, storage 5xx), fatal errors never
// heal (a request the platform rejects). Unmarked errors are neither.

type temporaryIf interface{ Temporary() bool }

type temporaryError struct{ error }

func (e temporaryError) Temporary() bool { return true }
func (e *temporaryError) Unwrap() error  { return e.error }

// MakeTemporary marks err as transient
func MakeTemporary(err error) error { return &temporaryError{err} }

type fatalIf interface{ Fatal() bool }

type fatalError struct{ error }

func (e fatalError) Fatal() bool    { return true }
func (e *fatalError) Unwrap() error { return e.error }

// MakeFatal marks err as permanent: retrying the call cannot succeed
func MakeFatal(err error) error { return &fatalError{err} }

// Temporary returns whether the error is worth retrying
func Temporary(err error) bool {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	var tmp temporaryIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code == 500 || gerr.Code == 503
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fatal returns whether the error is marked permanent
func Fatal(err error) bool {
	var f fatalIf
	if errors.As(err, &f) {
		return f.Fatal()
	}
	return false
}

// MergeErrors combines per-task errors into one, appending texts.
// With priorityToError, the merged error keeps the most severe head (fatal
// before temporary); without, any nil newErr clears the result.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	for _, newErr := range newErrs {
		switch {
		case newErr == nil:
			if !priorityToError {
				return nil
			}
		case err == nil:
			err = newErr
		case priorityToError != Temporary(err):
			err = fmt.Errorf("%w\n %v", err, newErr)
		default:
			err = fmt.Errorf("%w\n %v", newErr, err)
		}
	}
	return err
}

// ClassifyHTTP marks err according to the response status: server-side
// statuses are transient, client-side statuses are permanent.
func ClassifyHTTP(statusCode int, err error) error {
	if statusCode >= 500 {
		return MakeTemporary(err)
	}
	if statusCode >= 400 {
		return MakeFatal(err)
	}
	return err
}
