package route

import (
	"regexp"

	"github.com/psionic-labs/psionic/internal/jobs"
)

// Route is a compiled regex plus the handler variant it dispatches to.
type Route struct {
	Regex   *regexp.Regexp
	Handler RouteHandler
}

// RouteMap holds the ordered route list and the send-capability into
// the job-command channel that Job routes use.
type RouteMap struct {
	Routes []Route
	JobCh  chan<- jobs.JobCommand
}

// New builds a RouteMap bound to the given job-command channel.
func New(jobCh chan<- jobs.JobCommand, routes []Route) RouteMap {
	return RouteMap{Routes: routes, JobCh: jobCh}
}

// Handle folds over the route list looking for regex matches against
// the request path. Last match wins: later entries overwrite earlier
// ones rather than short-circuiting on the first hit.
func (m RouteMap) Handle(req Request) (*Response, error) {
	var matched *Route
	for i := range m.Routes {
		if m.Routes[i].Regex.MatchString(req.Path) {
			matched = &m.Routes[i]
		}
	}

	if matched == nil {
		return nil, ErrRouteNotFound
	}

	return matched.Handler.Handle(m.JobCh, req)
}
