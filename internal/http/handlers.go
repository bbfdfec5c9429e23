package httpapi

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zapsender/campaign-engine/internal/core"
	"github.com/zapsender/campaign-engine/internal/store"
)

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) createContact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Phone == "" {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	c := &core.Contact{Name: in.Name, Phone: in.Phone, Valid: true}
	if err := s.Store.CreateContact(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.Store.ListContacts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": contacts})
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := s.Store.DeleteContact(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name            string     `json:"name"`
		Message         string     `json:"message"`
		Personalization bool       `json:"personalization"`
		ScheduledAt     *time.Time `json:"scheduledAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	c := &core.Campaign{
		Name:            in.Name,
		Template:        in.Message,
		Personalization: in.Personalization,
		Status:          core.CampaignDraft,
		ScheduledAt:     in.ScheduledAt,
	}
	if in.ScheduledAt != nil {
		c.Status = core.CampaignScheduled
	}
	if err := s.Store.CreateCampaign(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.Store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": campaigns})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	c, err := s.Store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// sendCampaign resolves recipients, renders and enqueues one message per
// valid recipient and hands the batch to the dispatch engine. Run-setup
// failures (missing campaign, nothing to send) reject before any message
// is processed.
func (s *Server) sendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	ctx := r.Context()

	campaign, err := s.Store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if campaign.Status == core.CampaignCompleted || campaign.Status == core.CampaignFailed {
		writeError(w, http.StatusConflict, "campaign_already_finished")
		return
	}

	// Hold the run slot before creating any records, so a concurrent send
	// for the same campaign cannot enqueue a duplicate batch.
	run, err := s.Engine.Reserve(id)
	if err != nil {
		writeError(w, http.StatusConflict, "campaign_already_running")
		return
	}

	var in struct {
		ContactIDs []int64 `json:"contactIds"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in) // empty body means all contacts
	}

	recipients, err := s.resolveRecipients(r, in.ContactIDs)
	if err != nil {
		s.Engine.Release(run)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var msgs []core.Message
	invalid := 0
	for _, contact := range recipients {
		text := core.RenderTemplate(campaign.Template, contact.Name, campaign.Personalization)
		if err := core.ValidateRecipient(contact.Phone, text); err != nil {
			invalid++
			continue
		}
		m := &core.Message{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			Phone:      core.NormalizePhone(contact.Phone),
			Text:       text,
			Status:     core.MessagePending,
		}
		if err := s.Store.CreateMessage(ctx, m); err != nil {
			s.Engine.Release(run)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		msgs = append(msgs, *m)
	}

	if len(msgs) == 0 && len(recipients) > 0 {
		// nothing sendable: the run cannot start at all
		s.Engine.Release(run)
		failed := core.CampaignFailed
		if _, err := s.Store.UpdateCampaign(ctx, id, store.CampaignUpdate{Status: &failed}); err != nil {
			s.Log.Error().Err(err).Int64("campaign_id", id).Msg("mark campaign failed")
		}
		writeError(w, http.StatusBadRequest, "no_valid_recipients")
		return
	}

	sending := core.CampaignSending
	total := len(msgs)
	campaign, err = s.Store.UpdateCampaign(ctx, id, store.CampaignUpdate{Status: &sending, TotalRecipients: &total})
	if err != nil {
		s.Engine.Release(run)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Engine.Launch(run, campaign, msgs)

	activity := &core.Activity{
		Type:        "campaign_started",
		Title:       "Campaign started",
		Description: campaign.Name,
		Metadata:    map[string]any{"campaignId": campaign.ID, "recipients": total},
	}
	if err := s.Store.CreateActivity(ctx, activity); err != nil {
		s.Log.Error().Err(err).Msg("record start activity")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"messages": total,
		"invalid":  invalid,
	})
}

func (s *Server) resolveRecipients(r *http.Request, contactIDs []int64) ([]core.Contact, error) {
	ctx := r.Context()
	if len(contactIDs) == 0 {
		return s.Store.ListContacts(ctx)
	}
	var out []core.Contact
	for _, id := range contactIDs {
		c, err := s.Store.GetContact(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Server) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := s.Engine.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "no_active_run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) listCampaignMessages(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	msgs, err := s.Store.ListMessagesByCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

// quickSend creates a throwaway campaign for an ad-hoc phone list and
// dispatches it immediately.
func (s *Server) quickSend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phones  []string `json:"phones"`
		Message string   `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Phones) == 0 || in.Message == "" {
		writeError(w, http.StatusBadRequest, "phones_and_message_required")
		return
	}
	ctx := r.Context()

	var valid []string
	for _, phone := range in.Phones {
		if core.ValidateRecipient(phone, in.Message) == nil {
			valid = append(valid, core.NormalizePhone(phone))
		}
	}
	if len(valid) == 0 {
		writeError(w, http.StatusBadRequest, "no_valid_recipients")
		return
	}

	campaign := &core.Campaign{
		Name:            "Quick send",
		Template:        in.Message,
		Status:          core.CampaignSending,
		TotalRecipients: len(valid),
	}
	if err := s.Store.CreateCampaign(ctx, campaign); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var msgs []core.Message
	for _, phone := range valid {
		m := &core.Message{CampaignID: campaign.ID, Phone: phone, Text: in.Message, Status: core.MessagePending}
		if err := s.Store.CreateMessage(ctx, m); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		msgs = append(msgs, *m)
	}

	if _, err := s.Engine.Start(*campaign, msgs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "campaignId": campaign.ID})
}

// validatePhones checks a phone list before an import or quick send.
// Reachability is simulated; the dummy channel has no lookup.
func (s *Server) validatePhones(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phones []string `json:"phones"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Phones) == 0 {
		writeError(w, http.StatusBadRequest, "phones_required")
		return
	}

	type phoneCheck struct {
		Phone     string `json:"phone"`
		Valid     bool   `json:"valid"`
		Reachable bool   `json:"reachable"`
	}
	out := make([]phoneCheck, 0, len(in.Phones))
	for _, phone := range in.Phones {
		valid := core.ValidPhone(phone)
		out = append(out, phoneCheck{
			Phone:     phone,
			Valid:     valid,
			Reachable: valid && rand.Intn(10) > 0,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	acts, err := s.Store.ListActivities(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": acts})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
