package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/variant"
	"github.com/toecm/pureconvo/pkg/audio"
)

// errBadAudio marks an upload that is not PCM in a usable shape.
var errBadAudio = errors.New("server: unusable audio upload")

// ── session ──────────────────────────────────────────────────────────────────

type sessionResponse struct {
	Session  session.Snapshot `json:"session"`
	Dialects []string         `json:"dialects"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:  s.sess.Snapshot(),
		Dialects: s.sess.Catalog().Names(),
	})
}

type consentRequest struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetConsent(r.Context(), req.Accepted); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

func (s *Server) handleNickname(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetNickname(r.Context(), req.Nickname); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

type dialectsResponse struct {
	Dialects []string `json:"dialects"`
	Loaded   bool     `json:"loaded"`
}

func (s *Server) handleDialects(w http.ResponseWriter, _ *http.Request) {
	cat := s.sess.Catalog()
	writeJSON(w, http.StatusOK, dialectsResponse{Dialects: cat.Names(), Loaded: cat.Loaded()})
}

// handleRefreshDialects answers with the visible list even when the fetch
// failed; the error is reported next to it.
func (s *Server) handleRefreshDialects(w http.ResponseWriter, r *http.Request) {
	names, err := s.sess.RefreshDialects(r.Context(), s.source)
	resp := struct {
		dialectsResponse
		Error string `json:"error,omitempty"`
	}{dialectsResponse: dialectsResponse{Dialects: names, Loaded: s.sess.Catalog().Loaded()}}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		http.Error(w, "voice output is not configured", http.StatusNotFound)
		return
	}
	voices, err := s.speaker.Voices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

type variantSummary struct {
	Name          string  `json:"name"`
	Title         string  `json:"title"`
	Reward        int     `json:"reward"`
	Continuous    bool    `json:"continuous"`
	BudgetSeconds float64 `json:"budget_seconds,omitempty"`
}

func (s *Server) handleVariants(w http.ResponseWriter, _ *http.Request) {
	cfgs := s.drivers.Variants()
	out := make([]variantSummary, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, variantSummary{
			Name:          c.Name,
			Title:         c.Title,
			Reward:        c.Reward,
			Continuous:    c.Continuous,
			BudgetSeconds: c.TimeBudget.Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ── variant lifecycle ────────────────────────────────────────────────────────

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	v, err := d.Mount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request, d *variant.Driver) {
	writeJSON(w, http.StatusOK, d.View())
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, d.Reset(r.Context(), req.Confirm))
}

// ── capture ──────────────────────────────────────────────────────────────────

type permissionRequest struct {
	Granted bool `json:"granted"`
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req permissionRequest
	if !decode(w, r, &req) {
		return
	}
	dev, ok := d.Device().(*capture.PushDevice)
	if !ok {
		http.Error(w, "device does not accept uploads", http.StatusConflict)
		return
	}
	dev.SetPermission(req.Granted)
	writeJSON(w, http.StatusOK, d.View())
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	s.respond(w, d, d.BeginCapture(r.Context()))
}

// handleAudio accepts raw 16-bit PCM in the device format or a WAV file,
// which is converted to the device format.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	dev, ok := d.Device().(*capture.PushDevice)
	if !ok {
		http.Error(w, "device does not accept uploads", http.StatusConflict)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		http.Error(w, "audio too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	pcm, err := devicePCM(body, r.Header.Get("Content-Type"), dev.Format())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := dev.Push(pcm); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func devicePCM(body []byte, contentType string, target audio.Format) ([]byte, error) {
	if !strings.HasPrefix(contentType, "audio/wav") && !strings.HasPrefix(contentType, "audio/x-wav") {
		if len(body)%2 != 0 {
			return nil, fmt.Errorf("%w: odd byte count %d", errBadAudio, len(body))
		}
		return body, nil
	}
	f, pcm, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadAudio, err)
	}
	conv := audio.Converter{Target: target}
	frame := conv.Convert(audio.Frame{Data: pcm, SampleRate: f.SampleRate, Channels: f.Channels})
	return frame.Data, nil
}

type endResponse struct {
	variant.View
	Duration float64 `json:"duration_seconds"`
}

// handleEnd stops the recording. Analysis runs in the background; clients
// poll the view for REVIEW.
func (s *Server) handleEnd(w http.ResponseWriter, _ *http.Request, d *variant.Driver) {
	a, err := d.EndCapture()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := endResponse{View: d.View()}
	if a != nil {
		resp.Duration = a.Duration.Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	_, err := d.Analyze(r.Context())
	s.respond(w, d, err)
}

// ── review ───────────────────────────────────────────────────────────────────

type dialectRequest struct {
	Name   string `json:"name"`
	Custom string `json:"custom"`
}

func (s *Server) handleDialect(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req dialectRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, d.Machine().SelectDialect(req.Name, req.Custom))
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, d.Machine().EditTranscript(req.Text))
}

func (s *Server) handleMeaning(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, d.Machine().EditMeaning(req.Text))
}

type toneRequest struct {
	Tone string `json:"tone"`
}

func (s *Server) handleTone(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req toneRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, d.Machine().SelectTone(req.Tone))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	s.respond(w, d, d.Machine().Regenerate(r.Context()))
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request, d *variant.Driver) {
	s.respond(w, d, d.Machine().Retry())
}

type submitRequest struct {
	Answer string `json:"answer"`
}

type submitResponse struct {
	variant.View
	Receipt receiptBody `json:"receipt"`
}

type receiptBody struct {
	Ack     string `json:"ack"`
	Dialect string `json:"dialect"`
	Reward  int    `json:"reward"`
	Total   int    `json:"total"`
}

// handleSubmit answers 502 when minting fails. The attempt is gone by then
// and the next view carries the failure notice.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := d.Machine().Submit(r.Context(), req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		View: d.View(),
		Receipt: receiptBody{
			Ack:     rec.Ack,
			Dialect: rec.Dialect,
			Reward:  rec.Reward,
			Total:   rec.Total,
		},
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	_, err := d.Machine().Skip(r.Context())
	s.respond(w, d, err)
}

// ── active listener ──────────────────────────────────────────────────────────

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	l := d.Listener()
	if l == nil {
		writeError(w, fmt.Errorf("server: %s has no setup: %w", d.Config().Name, pipeline.ErrWrongStage))
		return
	}
	var req variant.Setup
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, l.Configure(r.Context(), req))
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request, d *variant.Driver) {
	l := d.Listener()
	if l == nil {
		writeError(w, fmt.Errorf("server: %s has no onboarding: %w", d.Config().Name, pipeline.ErrWrongStage))
		return
	}
	var req variant.Profile
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, d, l.Onboard(r.Context(), req))
}

func (s *Server) handleReply(w http.ResponseWriter, _ *http.Request, d *variant.Driver) {
	l := d.Listener()
	if l == nil {
		http.Error(w, "no reply", http.StatusNotFound)
		return
	}
	u := l.Reply()
	if u == nil || len(u.WAV) == 0 {
		http.Error(w, "no reply", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(u.WAV)
}

// respond writes the error or the driver's current view.
func (s *Server) respond(w http.ResponseWriter, d *variant.Driver, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.View())
}
