package crawler

import "errors"

// ErrBrowserUnavailable is returned when the headless browser cannot be started.
// It is the only fetch failure that stops a run.
var ErrBrowserUnavailable = errors.New("headless browser unavailable")

// Outcome tags what a fetch produced.
type Outcome int

const (
	// OutcomeSuccess means HTML was returned.
	OutcomeSuccess Outcome = iota
	// OutcomeSkip means this URL yielded nothing; the caller moves on.
	OutcomeSkip
	// OutcomeFatal means a shared resource is broken and further fetches will fail too.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkip:
		return "skip"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Fetch sources.
const (
	SourceHTTP    = "http"
	SourceBrowser = "browser"
	SourceCache   = "cache"
)

// Result is the outcome of fetching one URL.
type Result struct {
	URL        string
	HTML       string
	StatusCode int
	Source     string
	Outcome    Outcome
	Reason     string
	Err        error
}

// OK reports whether the fetch produced HTML.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

func fetched(url, html, source string, status int) Result {
	return Result{URL: url, HTML: html, StatusCode: status, Source: source, Outcome: OutcomeSuccess}
}

func skipped(url, reason string, err error) Result {
	return Result{URL: url, Outcome: OutcomeSkip, Reason: reason, Err: err}
}

func fatal(url string, err error) Result {
	return Result{URL: url, Outcome: OutcomeFatal, Reason: "browser unavailable", Err: err}
}
