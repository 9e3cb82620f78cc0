package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ttagenda/internal/ics"
	"ttagenda/internal/live"
	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
)

type scheduleResponse struct {
	OK    bool                 `json:"ok"`
	Items []model.ScheduleItem `json:"items"`
	Count int                  `json:"count"`
}

// parseRange reads the required from/to query parameters.
func parseRange(r *http.Request) (model.Date, model.Date, error) {
	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" || toRaw == "" {
		return model.Date{}, model.Date{}, fmt.Errorf("'from' and 'to' are required (YYYY-MM-DD)")
	}
	from, err := model.ParseDate(fromRaw)
	if err != nil {
		return model.Date{}, model.Date{}, fmt.Errorf("invalid 'from': expected YYYY-MM-DD")
	}
	to, err := model.ParseDate(toRaw)
	if err != nil {
		return model.Date{}, model.Date{}, fmt.Errorf("invalid 'to': expected YYYY-MM-DD")
	}
	if from.After(to) {
		return model.Date{}, model.Date{}, fmt.Errorf("'from' must be <= 'to'")
	}
	return from, to, nil
}

// handleSchedule returns composed items for an inclusive date range.
//
// GET /api/v1/schedule?from=2026-03-01&to=2026-03-31
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.composer.Build(r.Context(), from, to)
	if err != nil {
		writeStoreError(w, err, "build schedule")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{OK: true, Items: items, Count: len(items)})
}

// handleScheduleICS exports the range as iCalendar. Without from/to it
// covers today plus the configured upcoming horizon.
func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	var from, to model.Date
	if r.URL.Query().Get("from") == "" && r.URL.Query().Get("to") == "" {
		from = model.DateOf(s.now().In(s.loc))
		to = from.AddDays(s.cfg.Upcoming.HorizonDays)
	} else {
		var err error
		if from, to, err = parseRange(r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items, err := s.composer.Build(r.Context(), from, to)
	if err != nil {
		writeStoreError(w, err, "build schedule")
		return
	}

	body := ics.Export(items, s.loc, r.Host, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleLive reports the live status. With template_id and date it
// evaluates that one occurrence instead of scanning yesterday and today.
//
// GET /api/v1/live
// GET /api/v1/live?template_id=3&date=2026-03-11
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now()

	var (
		res live.Result
		err error
	)
	switch tplRaw, dateRaw := q.Get("template_id"), q.Get("date"); {
	case tplRaw == "" && dateRaw == "":
		res, err = s.resolver.Status(r.Context(), now)
	case tplRaw == "" || dateRaw == "":
		writeError(w, http.StatusBadRequest, "'template_id' and 'date' must be given together")
		return
	default:
		id, perr := strconv.ParseInt(tplRaw, 10, 64)
		if perr != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid 'template_id'")
			return
		}
		date, perr := model.ParseDate(dateRaw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid 'date': expected YYYY-MM-DD")
			return
		}
		res, err = s.resolver.StatusFor(r.Context(), id, date, now)
	}
	if err != nil {
		writeStoreError(w, err, "resolve live status")
		return
	}

	writeJSON(w, http.StatusOK, liveResponse{Result: res, Now: now.In(s.loc)})
}

type liveResponse struct {
	live.Result
	Now time.Time `json:"now"`
}

// handleUpcoming lists the next sessions that have not ended yet.
//
// GET /api/v1/upcoming?limit=3
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Upcoming.Limit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid 'limit'")
			return
		}
		limit = n
	}

	items, err := s.composer.Upcoming(r.Context(), s.now(), s.loc, s.cfg.Upcoming.HorizonDays, limit)
	if err != nil {
		writeStoreError(w, err, "list upcoming")
		return
	}
	appLog.Debug("api upcoming", "limit", limit, "count", len(items))
	writeJSON(w, http.StatusOK, scheduleResponse{OK: true, Items: items, Count: len(items)})
}
