package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
)

const maxBodyBytes = 1 << 20

type activityInput struct {
	ActivityType    string             `json:"activity_type" validate:"required"`
	DurationMinutes *int               `json:"duration_minutes" validate:"required,gt=0"`
	OrderIndex      *int               `json:"order_index" validate:"omitempty,gte=0"`
	StartTime       *model.Clock       `json:"start_time"`
	Topic           string             `json:"topic"`
	Topics          map[string]string  `json:"topics"`
	Combos          []model.GroupCombo `json:"combos"`
	PositionCodes   []string           `json:"position_codes" validate:"dive,required"`
	PositionGroups  []string           `json:"position_groups" validate:"dive,required"`
}

type templateInput struct {
	Name       string          `json:"name" validate:"required"`
	ValidFrom  *model.Date     `json:"valid_from" validate:"required"`
	ValidTo    *model.Date     `json:"valid_to" validate:"required"`
	Weekday    *int            `json:"weekday" validate:"required,min=0,max=6"`
	StartTime  *model.Clock    `json:"start_time" validate:"required"`
	IsActive   *bool           `json:"is_active"`
	Activities []activityInput `json:"activities"`
}

type templatePatch struct {
	Name       *string          `json:"name" validate:"omitempty,min=1"`
	ValidFrom  *model.Date      `json:"valid_from"`
	ValidTo    *model.Date      `json:"valid_to"`
	Weekday    *int             `json:"weekday" validate:"omitempty,min=0,max=6"`
	StartTime  *model.Clock     `json:"start_time"`
	IsActive   *bool            `json:"is_active"`
	Activities *[]activityInput `json:"activities"`
}

// overrideInput leaves start_time and activities nil when the occurrence
// should keep the template value. An explicit empty list clears activities.
type overrideInput struct {
	Date       *model.Date      `json:"date" validate:"required"`
	Cancelled  bool             `json:"cancelled"`
	StartTime  *model.Clock     `json:"start_time"`
	Activities *[]activityInput `json:"activities"`
}

type adHocInput struct {
	Name       string          `json:"name" validate:"required"`
	Date       *model.Date     `json:"date" validate:"required"`
	StartTime  *model.Clock    `json:"start_time" validate:"required"`
	Activities []activityInput `json:"activities"`
}

type positionGroupInput struct {
	Name          string   `json:"name" validate:"required"`
	PositionCodes []string `json:"position_codes" validate:"dive,required"`
}

type itemResponse struct {
	OK   bool `json:"ok"`
	Item any  `json:"item"`
}

type listResponse struct {
	OK    bool `json:"ok"`
	Items any  `json:"items"`
	Count int  `json:"count"`
}

// decodeBody reads a JSON payload into dst and validates it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return describeValidation(err)
	}
	return nil
}

// describeValidation flattens validator errors into one readable message.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New("validation: " + strings.Join(parts, "; "))
}

// toActivities validates inputs and converts them to the model. A missing
// order_index defaults to the list position.
func (s *Server) toActivities(in []activityInput) ([]model.Activity, error) {
	out := make([]model.Activity, 0, len(in))
	for i, a := range in {
		if err := s.validate.Struct(a); err != nil {
			return nil, fmt.Errorf("activities[%d]: %w", i, describeValidation(err))
		}
		order := i
		if a.OrderIndex != nil {
			order = *a.OrderIndex
		}
		out = append(out, model.Activity{
			Kind:            model.ActivityKind(a.ActivityType),
			DurationMinutes: *a.DurationMinutes,
			OrderIndex:      order,
			StartTime:       a.StartTime,
			Topic:           a.Topic,
			Topics:          a.Topics,
			Combos:          a.Combos,
			PositionCodes:   a.PositionCodes,
			PositionGroups:  a.PositionGroups,
		})
	}
	return out, nil
}

// changed asks the live hub to recompute after a mutation.
func (s *Server) changed() {
	if s.hub != nil {
		s.hub.Trigger()
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) handleListPositionGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListPositionGroups(r.Context())
	if err != nil {
		writeStoreError(w, err, "list position groups")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{OK: true, Items: groups, Count: len(groups)})
}

func (s *Server) handleCreatePositionGroup(w http.ResponseWriter, r *http.Request) {
	var in positionGroupInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "name must not be blank")
		return
	}

	g, err := s.store.CreatePositionGroup(r.Context(), model.PositionGroup{Name: in.Name, PositionCodes: in.PositionCodes})
	if err != nil {
		writeStoreError(w, err, "create position group")
		return
	}
	appLog.Info("position group created", "id", g.ID, "name", g.Name)
	s.changed()
	writeJSON(w, http.StatusCreated, itemResponse{OK: true, Item: g})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeStoreError(w, err, "list templates")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{OK: true, Items: tpls, Count: len(tpls)})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templateInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acts, err := s.toActivities(in.Activities)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tpl := model.Template{
		Name:       in.Name,
		ValidFrom:  *in.ValidFrom,
		ValidTo:    *in.ValidTo,
		Weekday:    *in.Weekday,
		StartTime:  *in.StartTime,
		Active:     in.IsActive == nil || *in.IsActive,
		Activities: acts,
	}
	created, err := s.store.CreateTemplate(r.Context(), tpl)
	if err != nil {
		writeStoreError(w, err, "create template")
		return
	}
	appLog.Info("template created", "id", created.ID, "name", created.Name)
	s.changed()
	writeJSON(w, http.StatusCreated, itemResponse{OK: true, Item: created})
}

// handlePatchTemplate applies a partial update. Fields absent from the body
// keep their stored values.
func (s *Server) handlePatchTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in templatePatch
	if err := s.decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tpl, err := s.store.GetTemplate(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "load template")
		return
	}
	if in.Name != nil {
		tpl.Name = *in.Name
	}
	if in.ValidFrom != nil {
		tpl.ValidFrom = *in.ValidFrom
	}
	if in.ValidTo != nil {
		tpl.ValidTo = *in.ValidTo
	}
	if in.Weekday != nil {
		tpl.Weekday = *in.Weekday
	}
	if in.StartTime != nil {
		tpl.StartTime = *in.StartTime
	}
	if in.IsActive != nil {
		tpl.Active = *in.IsActive
	}
	if in.Activities != nil {
		acts, err := s.toActivities(*in.Activities)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tpl.Activities = acts
	}

	updated, err := s.store.UpdateTemplate(r.Context(), tpl)
	if err != nil {
		writeStoreError(w, err, "update template")
		return
	}
	appLog.Info("template updated", "id", updated.ID)
	s.changed()
	writeJSON(w, http.StatusOK, itemResponse{OK: true, Item: updated})
}

// handleUpsertOverride creates or replaces the override for one date.
//
// POST /api/v1/templates/{id}/overrides
func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in overrideInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ov := model.Override{
		TemplateID: id,
		Date:       *in.Date,
		Cancelled:  in.Cancelled,
		StartTime:  in.StartTime,
	}
	if in.Activities != nil {
		acts, err := s.toActivities(*in.Activities)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ov.Activities = acts
	}

	saved, err := s.store.UpsertOverride(r.Context(), ov)
	if err != nil {
		writeStoreError(w, err, "save override")
		return
	}
	appLog.Info("override saved", "template_id", id, "date", saved.Date.String(), "cancelled", saved.Cancelled)
	s.changed()
	writeJSON(w, http.StatusCreated, itemResponse{OK: true, Item: saved})
}

// handleDeleteOverride restores the plain template occurrence.
//
// DELETE /api/v1/templates/{id}/overrides/{date}
func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := model.ParseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
		return
	}

	if err := s.store.DeleteOverride(r.Context(), id, date); err != nil {
		writeStoreError(w, err, "delete override")
		return
	}
	appLog.Info("override deleted", "template_id", id, "date", date.String())
	s.changed()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateAdHoc(w http.ResponseWriter, r *http.Request) {
	var in adHocInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acts, err := s.toActivities(in.Activities)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := s.store.CreateAdHocInstance(r.Context(), model.AdHocInstance{
		Name:       in.Name,
		Date:       *in.Date,
		StartTime:  *in.StartTime,
		Activities: acts,
	})
	if err != nil {
		writeStoreError(w, err, "create ad-hoc instance")
		return
	}
	appLog.Info("ad-hoc instance created", "id", inst.ID, "date", inst.Date.String())
	s.changed()
	writeJSON(w, http.StatusCreated, itemResponse{OK: true, Item: inst})
}
