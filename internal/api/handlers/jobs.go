package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/scheduler"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	Crawler crawler.MetricsSnapshot `json:"crawler"`
	Cache   *storage.CacheMetrics   `json:"cache,omitempty"`
}

// InstitutionStatus summarises the discovery state of one institution.
type InstitutionStatus struct {
	Name          string     `json:"name"`
	KnownURLs     int        `json:"known_urls"`
	UnscrapedURLs int        `json:"unscraped_urls"`
	Sections      int        `json:"sections"`
	LastFullScan  *time.Time `json:"last_full_scan,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Jobs         []scheduler.JobStatus `json:"jobs"`
	Institutions []InstitutionStatus   `json:"institutions"`
}

// TriggerResponse is the body of a successful job trigger.
type TriggerResponse struct {
	Job     string `json:"job"`
	Started bool   `json:"started"`
}

// HandleMetrics returns the crawl counters and, when a cache is configured,
// its hit/miss counters.
func HandleMetrics(metrics MetricsSource, cache CacheMetricsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if metrics == nil {
			RespondServiceUnavailable(w, "Metrics not configured")
			return
		}
		resp := MetricsResponse{Crawler: metrics.Snapshot()}
		if cache != nil {
			m := cache.Metrics()
			resp.Cache = &m
		}
		RespondJSON(w, http.StatusOK, resp)
	}
}

// HandleStatus returns the scheduled jobs and per-institution discovery progress.
func HandleStatus(jobs JobController, states StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Jobs:         []scheduler.JobStatus{},
			Institutions: []InstitutionStatus{},
		}
		if jobs != nil {
			resp.Jobs = jobs.Status()
		}
		if states != nil {
			for name, st := range states.All() {
				resp.Institutions = append(resp.Institutions, InstitutionStatus{
					Name:          name,
					KnownURLs:     len(st.KnownURLs),
					UnscrapedURLs: len(st.UnscrapedURLs),
					Sections:      len(st.ExploredSections),
					LastFullScan:  st.LastFullScan,
				})
			}
			sort.Slice(resp.Institutions, func(i, k int) bool {
				return resp.Institutions[i].Name < resp.Institutions[k].Name
			})
		}
		RespondJSON(w, http.StatusOK, resp)
	}
}

// HandleTrigger starts the job named in the URL outside its schedule.
func HandleTrigger(jobs JobController, log *logger.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			RespondServiceUnavailable(w, "Scheduler not configured")
			return
		}

		name := chi.URLParam(r, "name")
		err := jobs.Trigger(name)
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			RespondNotFound(w, "Unknown job: "+name)
		case errors.Is(err, scheduler.ErrJobRunning):
			RespondError(w, http.StatusConflict, ErrCodeConflict, "Job is already running")
		case err != nil:
			log.WithError(err).Error("failed to trigger job", "job", name)
			RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to trigger job")
		default:
			log.Info("job triggered", "job", name, "remote_addr", r.RemoteAddr)
			RespondJSON(w, http.StatusAccepted, TriggerResponse{Job: name, Started: true})
		}
	}
}
