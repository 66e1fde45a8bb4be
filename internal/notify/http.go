package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript"
)

// emailDedupWindow is how long a seen email ID suppresses repeats.
const emailDedupWindow = time.Hour

// maxBody limits webhook request bodies.
const maxBody = 1 << 20

// Reminders stores reminders created through the webhook.
type Reminders interface {
	Add(description string, at time.Time) (id string, err error)
}

// HTTPOption configures a [Webhooks].
type HTTPOption func(*Webhooks)

// WithReminders enables POST /reminders.
func WithReminders(r Reminders) HTTPOption {
	return func(w *Webhooks) { w.reminders = r }
}

// WithHTTPClock overrides time.Now for email de-duplication.
func WithHTTPClock(now func() time.Time) HTTPOption {
	return func(w *Webhooks) { w.now = now }
}

// Webhooks serves the notification producer endpoints.
type Webhooks struct {
	arb       *Arbiter
	st        *state.State
	reminders Reminders
	now       func() time.Time

	mu          sync.Mutex
	seen        map[string]time.Time
	lastCleanup time.Time
}

// NewWebhooks creates the webhook handlers.
func NewWebhooks(arb *Arbiter, st *state.State, opts ...HTTPOption) *Webhooks {
	w := &Webhooks{
		arb:  arb,
		st:   st,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Register adds the webhook routes to mux.
func (w *Webhooks) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /notify", w.handleNotify)
	mux.HandleFunc("POST /speak", w.handleEmail)
	mux.HandleFunc("GET /notifications", w.handleList)
	mux.HandleFunc("GET /mode", w.handleGetMode)
	mux.HandleFunc("POST /mode", w.handleSetMode)
	if w.reminders != nil {
		mux.HandleFunc("POST /reminders", w.handleReminder)
	}
}

type notifyRequest struct {
	Source   string            `json:"source"`
	Message  string            `json:"message"`
	Priority string            `json:"priority"`
	Metadata map[string]string `json:"metadata"`
}

type submitResponse struct {
	Status  string  `json:"status"`
	ID      string  `json:"id,omitempty"`
	Outcome Outcome `json:"outcome,omitempty"`
}

func (w *Webhooks) handleNotify(rw http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decode(rw, r, &req) {
		return
	}
	prio, err := ParsePriority(req.Priority)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if req.Source == "" {
		req.Source = "Unknown"
	}
	w.submit(rw, r, Item{
		Source:   req.Source,
		Message:  transcript.SanitizeForSpeech(req.Message),
		Priority: prio,
		Metadata: req.Metadata,
	})
}

type emailRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
}

func (w *Webhooks) handleEmail(rw http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(rw, r, &req) {
		return
	}
	if req.Sender == "" || req.Subject == "" {
		slog.Warn("notify: malformed email payload", "sender", req.Sender, "subject", req.Subject)
	}
	if req.Sender == "" {
		req.Sender = "Unknown"
	}
	if req.Subject == "" {
		req.Subject = "No Subject"
	}

	if req.ID == "" {
		slog.Warn("notify: email without id cannot be de-duplicated")
	} else if w.duplicate(req.ID) {
		slog.Debug("notify: duplicate email ignored", "email_id", req.ID)
		writeJSON(rw, http.StatusOK, submitResponse{Status: "duplicate"})
		return
	}

	msg := fmt.Sprintf("Sir, you have a new email from %s regarding %s.",
		transcript.SenderName(req.Sender), transcript.SanitizeForSpeech(req.Subject))
	w.submit(rw, r, Item{
		Source:   "Email",
		Message:  msg,
		Priority: High,
		Metadata: map[string]string{
			"sender":  req.Sender,
			"subject": req.Subject,
			"id":      req.ID,
			"snippet": req.Snippet,
		},
	})
}

// duplicate records id and reports whether it was already seen within the
// de-duplication window.
func (w *Webhooks) duplicate(id string) bool {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.lastCleanup) > emailDedupWindow {
		for k, ts := range w.seen {
			if now.Sub(ts) > emailDedupWindow {
				delete(w.seen, k)
			}
		}
		w.lastCleanup = now
	}
	if ts, ok := w.seen[id]; ok && now.Sub(ts) <= emailDedupWindow {
		return true
	}
	w.seen[id] = now
	return false
}

func (w *Webhooks) submit(rw http.ResponseWriter, r *http.Request, item Item) {
	out, err := w.arb.Submit(r.Context(), item)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	slog.Info("notify: received", "source", item.Source, "priority", item.Priority.String(), "outcome", out)
	writeJSON(rw, http.StatusAccepted, submitResponse{Status: "received", Outcome: out})
}

func (w *Webhooks) handleList(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, w.arb.Queue().Items())
}

type reminderRequest struct {
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

func (w *Webhooks) handleReminder(rw http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decode(rw, r, &req) {
		return
	}
	id, err := w.reminders.Add(req.Description, req.At)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, http.StatusCreated, submitResponse{Status: "scheduled", ID: id})
}

// modeRequest sets modes; absent fields are left unchanged.
type modeRequest struct {
	Gaming       *bool  `json:"gamingMode"`
	Conversation *bool  `json:"conversationalMode"`
	Muted        *bool  `json:"muted"`
	Listening    *bool  `json:"listening"`
	Toggle       string `json:"toggle"`
}

func (w *Webhooks) handleGetMode(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, w.st.Snapshot())
}

func (w *Webhooks) handleSetMode(rw http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(rw, r, &req) {
		return
	}
	var errs []error
	set := func(name string, v *bool) {
		if v != nil {
			errs = append(errs, w.st.SetMode(name, *v))
		}
	}
	// Gaming first so that a request enabling conversation and disabling
	// gaming succeeds.
	set("gaming", req.Gaming)
	set("conversation", req.Conversation)
	set("muted", req.Muted)
	set("listening", req.Listening)
	if req.Toggle != "" {
		errs = append(errs, w.st.Toggle(req.Toggle))
	}
	if err := errors.Join(errs...); err != nil {
		status := http.StatusConflict
		if errors.Is(err, state.ErrUnknownMode) {
			status = http.StatusBadRequest
		}
		writeError(rw, status, err)
		return
	}
	writeJSON(rw, http.StatusOK, w.st.Snapshot())
}

func decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBody)).Decode(v); err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("notify: decode body: %w", err))
		return false
	}
	return true
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		slog.Debug("notify: encode response", "err", err)
	}
}
