// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "github.com/pkg/errors"

// Error kinds. Wrapped errors keep these as their cause,
// so they can be tested with errors.Is.
var (
	// ErrConfiguration is a missing workflow, unsupported presentation
	// queue, empty capability list or an invalid setting. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrSwapchain is a swapchain failure that survived local recovery.
	ErrSwapchain = errors.New("swapchain error")

	// ErrResource is a failed allocation or a fetch of a resource
	// that was never validated.
	ErrResource = errors.New("resource error")

	// ErrDevice is a raw driver call failure.
	ErrDevice = errors.New("device error")
)

// Fatal annotates err with the call it originated from. Nil stays nil.
func Fatal(err error, call string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, call)
}
