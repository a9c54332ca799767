package browser

import "errors"

var (
	// ErrElementNotFound is returned when no selector tier matched.
	ErrElementNotFound = errors.New("element not found")

	// ErrEmptySelector is returned for a blank selector string.
	ErrEmptySelector = errors.New("selector is empty")

	// ErrNotReady is returned when a browser never answered its readiness probe.
	ErrNotReady = errors.New("browser not ready")

	// ErrNoPage is returned when a session has no active page.
	ErrNoPage = errors.New("session has no active page")

	// ErrWaitTimeout is returned when a wait condition is not met in time.
	ErrWaitTimeout = errors.New("wait condition timed out")

	// ErrDownloadTimeout is returned when no download completed after the click.
	ErrDownloadTimeout = errors.New("download did not complete")
)
