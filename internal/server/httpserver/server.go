// Package httpserver exposes the buyersign HTTP/JSON API.
package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/convert"
	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/pdf"
	"github.com/dwellingly/buyersign/internal/service"
)

// Advisor produces optional AI assistance. Implementations must degrade
// gracefully; the server never fails a request over advisor output.
type Advisor interface {
	SummarizeAgreement(ctx context.Context, tmpl model.AgreementTemplate) []model.SummarySection
	AgentInsight(ctx context.Context, inv *model.BuyerInvite) string
}

// Server wires services into HTTP handlers.
type Server struct {
	auth    service.AuthService
	invites service.InviteService
	reports service.ReportService
	advisor Advisor
	signKey []byte
	baseURL string
	now     func() time.Time
}

// New constructs a server with injected services. A nil now falls back to
// time.Now; a nil advisor disables AI fields.
func New(auth service.AuthService, invites service.InviteService, reports service.ReportService,
	advisor Advisor, signKey []byte, baseURL string, now func() time.Time,
) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{
		auth: auth, invites: invites, reports: reports,
		advisor: advisor, signKey: signKey, baseURL: baseURL, now: now,
	}
}

// Routes builds the full route table. Sign and certificate endpoints are
// public; everything else under /api requires a bearer token.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.HandleFunc("POST /api/invites", s.requireAgent(s.handleCreateInvite))
	mux.HandleFunc("GET /api/invites", s.requireAgent(s.handleListInvites))
	mux.HandleFunc("GET /api/invites/{id}", s.requireAgent(s.handleGetInvite))
	mux.HandleFunc("POST /api/invites/{id}/events", s.requireAgent(s.handleAddEvent))
	mux.HandleFunc("GET /api/invites/{id}/insight", s.requireAgent(s.handleInsight))

	mux.HandleFunc("GET /api/reports/kpis", s.requireAgent(s.handleKPIs))
	mux.HandleFunc("GET /api/reports/notifications", s.requireAgent(s.handleNotifications))
	mux.HandleFunc("GET /api/reports/activity", s.requireAgent(s.handleActivity))

	mux.HandleFunc("GET /api/sign/{token}", s.handleOpenSignPage)
	mux.HandleFunc("POST /api/sign/{token}", s.handleSign)
	mux.HandleFunc("GET /api/certificates/{id}", s.handleVerifyCertificate)
	mux.HandleFunc("GET /api/certificates/{id}/pdf", s.handleCertificatePDF)

	return mux
}

// requireAgent authenticates the request and stores the agent ID in context.
func (s *Server) requireAgent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.agentIDFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "no auth")
			return
		}
		next(w, r.WithContext(WithAgentID(r.Context(), id)))
	}
}

// --- Auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "empty username/password")
		return
	}
	agentID, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "username taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "register failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agentId": agentID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	tok, agent, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, clientIP(r.RemoteAddr))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "bad credentials")
		case errors.Is(err, errs.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": tok.AccessToken,
		"expiresAt":   tok.ExpiresAt,
		"agentId":     agent.ID.String(),
	})
}

// --- Invites ---

type createInviteRequest struct {
	BuyerName    string                  `json:"buyerName"`
	BuyerContact string                  `json:"buyerContact"`
	TTLDays      int                     `json:"ttlDays"`
	Template     model.AgreementTemplate `json:"template"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentIDFromCtx(r.Context())

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.BuyerName == "" || req.BuyerContact == "" || req.Template.Name == "" {
		writeError(w, http.StatusBadRequest, "buyer name, contact and template are required")
		return
	}

	created, err := s.invites.Create(r.Context(), agentID, service.CreateInviteInput{
		BuyerName:    req.BuyerName,
		BuyerContact: req.BuyerContact,
		TTLDays:      req.TTLDays,
		Template:     req.Template,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	// The raw token surfaces exactly here and is never persisted.
	writeJSON(w, http.StatusCreated, map[string]any{
		"invite":   convert.Invite(created.Invite, s.now()),
		"rawToken": created.RawToken,
		"signUrl":  s.baseURL + "/sign/" + created.RawToken,
	})
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.invites.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, convert.Invites(invites, s.now()))
}

func (s *Server) handleGetInvite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id")
		return
	}
	inv, err := s.invites.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, convert.Invite(inv, s.now()))
}

type addEventRequest struct {
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id")
		return
	}
	var req addEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	t := model.EventType(req.Type)
	if t != model.EventInviteSent && t != model.EventInviteRevoked {
		writeError(w, http.StatusBadRequest, "only INVITE_SENT and INVITE_REVOKED may be appended")
		return
	}
	if err := s.invites.AddEvent(r.Context(), id, t, req.Metadata); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id")
		return
	}
	inv, err := s.invites.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	var insight string
	if s.advisor != nil {
		insight = s.advisor.AgentInsight(r.Context(), inv)
	}
	writeJSON(w, http.StatusOK, map[string]string{"insight": insight})
}

// --- Reports ---

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.reports.KPIs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "kpis failed")
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.reports.Notifications(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "notifications failed")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	as, err := s.reports.Activities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "activity failed")
		return
	}
	writeJSON(w, http.StatusOK, as)
}

// --- Buyer-facing signing ---

func (s *Server) handleOpenSignPage(w http.ResponseWriter, r *http.Request) {
	opened, err := s.invites.OpenByToken(r.Context(), r.PathValue("token"),
		r.UserAgent(), r.Header.Get("Sec-Ch-Ua-Platform"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown link")
			return
		}
		writeError(w, http.StatusInternalServerError, "open failed")
		return
	}
	var summary []model.SummarySection
	if s.advisor != nil {
		summary = s.advisor.SummarizeAgreement(r.Context(), opened.Invite.TemplateSnapshot)
	}
	writeJSON(w, http.StatusOK, convert.SignPage(opened.Invite, opened.Gate, summary, s.now()))
}

type signRequest struct {
	TypedName             string `json:"typedName"`
	SignatureImageDataURL string `json:"signatureImageDataUrl,omitempty"`
	Consent               bool   `json:"consent"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	opened, err := s.invites.OpenByToken(r.Context(), r.PathValue("token"),
		r.UserAgent(), r.Header.Get("Sec-Ch-Ua-Platform"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown link")
			return
		}
		writeError(w, http.StatusInternalServerError, "open failed")
		return
	}

	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.TypedName == "" {
		writeError(w, http.StatusBadRequest, "typed name is required")
		return
	}
	if !req.Consent {
		writeError(w, http.StatusBadRequest, "consent is required")
		return
	}

	certID, err := s.invites.Sign(r.Context(), opened.Invite.ID, service.SignInput{
		TypedName:             req.TypedName,
		SignatureImageDataURL: req.SignatureImageDataURL,
		Consent:               req.Consent,
		UserAgent:             r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrSigningClosed), errors.Is(err, errs.ErrAlreadySigned):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		default:
			writeError(w, http.StatusInternalServerError, "sign failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"certificateId": certID})
}

// --- Certificates ---

func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invites.VerifyCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown certificate")
			return
		}
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}
	writeJSON(w, http.StatusOK, convert.Certificate(inv))
}

func (s *Server) handleCertificatePDF(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invites.VerifyCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown certificate")
			return
		}
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}
	// Render fully before writing so a render error never follows a 200.
	var buf bytes.Buffer
	if err := pdf.RenderCertificate(&buf, inv); err != nil {
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="certificate-`+inv.CertificateID+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// --- helpers ---

// clientIP strips the ephemeral port so the limiter buckets by host, not by
// TCP connection.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
