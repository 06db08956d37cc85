package tracking

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doar-mail/doar/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the tracking URL contract the injector emits:
// GET /t/o/{emailID}, GET /t/c/{emailID}?url=..., GET /unsubscribe/{emailID}.
type Handler struct {
	store *Store
}

// NewHandler creates a tracking handler backed by the given event store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/t/o/{emailID}", h.HandleOpen)
	r.Get("/t/c/{emailID}", h.HandleClick)
	r.Get("/unsubscribe/{emailID}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open event and serves the pixel. The pixel is always
// served, even when recording fails; a broken image in the mail client is
// worse than a lost event.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")

	evt := &Event{
		EmailID:    emailID,
		EventType:  EventOpen,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		DeviceType: detectDevice(r.UserAgent()),
		EventAt:    time.Now().UTC(),
	}
	if err := h.store.RecordEvent(r.Context(), evt); err != nil {
		logger.Error("failed to record open event", "email_id", emailID, "error", err)
	} else {
		h.store.BumpCampaignStat(r.Context(), emailID, EventOpen)
	}

	logger.Debug("open tracked", "email_id", emailID)
	h.servePixel(w)
}

// HandleClick records a click event and redirects to the original URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	originalURL := r.URL.Query().Get("url")
	if originalURL == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	evt := &Event{
		EmailID:    emailID,
		EventType:  EventClick,
		LinkURL:    originalURL,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		DeviceType: detectDevice(r.UserAgent()),
		EventAt:    time.Now().UTC(),
	}
	if err := h.store.RecordEvent(r.Context(), evt); err != nil {
		logger.Error("failed to record click event", "email_id", emailID, "error", err)
	} else {
		h.store.BumpCampaignStat(r.Context(), emailID, EventClick)
	}

	logger.Debug("click tracked", "email_id", emailID, "url", originalURL)
	http.Redirect(w, r, originalURL, http.StatusFound)
}

// HandleUnsubscribe records the unsubscribe, flips the recipient status and
// renders a confirmation page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")

	evt := &Event{
		EmailID:   emailID,
		EventType: EventUnsubscribe,
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
		EventAt:   time.Now().UTC(),
	}
	if err := h.store.RecordEvent(r.Context(), evt); err != nil {
		logger.Error("failed to record unsubscribe event", "email_id", emailID, "error", err)
	} else {
		h.store.BumpCampaignStat(r.Context(), emailID, EventUnsubscribe)
		if err := h.store.MarkUnsubscribed(r.Context(), emailID); err != nil {
			logger.Error("failed to mark recipient unsubscribed", "email_id", emailID, "error", err)
		}
	}

	logger.Info("unsubscribe recorded", "email_id", emailID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html dir="rtl" lang="he"><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>הוסרת מרשימת התפוצה</h1>
		<p>לא תקבל מאיתנו אימיילים נוספים.</p>
	</body></html>`))
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func detectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}
