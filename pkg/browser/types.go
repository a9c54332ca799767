package browser

import "time"

// RoleRef maps a snapshot ref (e.g. "e5") to an accessible element.
type RoleRef struct {
	Role          string `json:"role"`
	Name          string `json:"name,omitempty"`
	Nth           int    `json:"nth,omitempty"`
	BackendNodeID int    `json:"backendNodeId,omitempty"`
}

// SnapshotResult is the output of a page snapshot.
type SnapshotResult struct {
	Snapshot  string             `json:"snapshot"`
	Refs      map[string]RoleRef `json:"refs"`
	URL       string             `json:"url"`
	Title     string             `json:"title"`
	Stats     SnapshotStats      `json:"stats"`
	Truncated bool               `json:"truncated,omitempty"`
}

// SnapshotStats contains metrics about a snapshot.
type SnapshotStats struct {
	Lines       int `json:"lines"`
	Chars       int `json:"chars"`
	Refs        int `json:"refs"`
	Interactive int `json:"interactive"`
}

// SnapshotOptions controls snapshot generation.
type SnapshotOptions struct {
	Interactive bool // only include interactive elements
	MaxDepth    int  // 0 = unlimited
	Compact     bool // remove unnamed structural elements
	MaxChars    int  // truncate output (default 8000)
	Limit       int  // max AX nodes to process (default 500)
}

// DefaultSnapshotOptions returns the options used by the snapshot tool.
func DefaultSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{
		Compact:  true,
		MaxChars: 8000,
		Limit:    500,
	}
}

// WaitOpts lists the conditions of one wait call. Zero values are skipped;
// the rest run in field order.
type WaitOpts struct {
	TimeMs   int
	Text     string
	TextGone string
	Selector string
}

// MaxWaitTime caps the fixed-duration wait condition.
const MaxWaitTime = 60 * time.Second

// PageInfo is the url/title pair reported after navigation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Download describes a file saved by Session.Download.
type Download struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
}

// SessionOptions tunes the per-action timeouts of a Session.
type SessionOptions struct {
	ActionTimeout   time.Duration // element lookup, click, fill (default 10s)
	NavTimeout      time.Duration // navigate until DOMContentLoaded (default 30s)
	WaitTimeout     time.Duration // text/element wait conditions (default 30s)
	DownloadTimeout time.Duration // default 60s
	DownloadDir     string
	MaxImageSide    int // screenshots larger than this are downscaled (default 1568)
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ActionTimeout:   10 * time.Second,
		NavTimeout:      30 * time.Second,
		WaitTimeout:     30 * time.Second,
		DownloadTimeout: 60 * time.Second,
		MaxImageSide:    1568,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	d := DefaultSessionOptions()
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = d.ActionTimeout
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = d.NavTimeout
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = d.DownloadTimeout
	}
	if o.MaxImageSide <= 0 {
		o.MaxImageSide = d.MaxImageSide
	}
	return o
}
