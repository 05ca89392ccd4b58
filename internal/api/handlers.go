package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/plan"
	"github.com/sendrotor/sendrotor/internal/queue"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type enqueueRequest struct {
	TenantID      string `json:"tenant_id"`
	Tier          string `json:"tier"`
	Kind          string `json:"kind"`
	Target        string `json:"target"`
	Payload       []byte `json:"payload,omitempty"`
	RotationGroup string `json:"rotation_group,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	item, err := s.engine.Enqueue(queue.WorkItem{
		TenantID:      req.TenantID,
		Tier:          plan.Tier(req.Tier),
		Kind:          queue.Kind(req.Kind),
		Target:        req.Target,
		Payload:       req.Payload,
		RotationGroup: req.RotationGroup,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "enqueue failed: %v", err)
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

type itemResponse struct {
	Item     queue.WorkItem        `json:"item"`
	Status   queue.Status          `json:"status"`
	Attempts []queue.AttemptRecord `json:"attempts"`
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	item, status, attempts, err := s.engine.Get(id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "item %s not found", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, itemResponse{Item: item, Status: status, Attempts: attempts})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetStats())
}

type registerAccountRequest struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	RotationGroup string `json:"rotation_group,omitempty"`
	SkipVerify    bool   `json:"skip_verify,omitempty"`
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	sealed, err := s.box.Seal(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot seal credentials: %v", err)
		return
	}

	acct := account.Account{
		ID:            req.ID,
		TenantID:      req.TenantID,
		Host:          req.Host,
		Port:          req.Port,
		Username:      req.Username,
		Credentials:   sealed,
		RotationGroup: req.RotationGroup,
	}

	if err := acct.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account: %v", err)
		return
	}

	if s.verifier != nil && !req.SkipVerify {
		if err := s.verifier.Verify(r.Context(), acct); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "account verification failed: %v", err)
			return
		}
	}

	if err := s.accounts.Register(acct); err != nil {
		writeError(w, http.StatusConflict, "registration failed: %v", err)
		return
	}

	status, err := s.accounts.Query(acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registered but lookup failed: %v", err)
		return
	}

	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, s.accounts.ListTenant(tenant))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := s.accounts.Query(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "account lookup failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleResetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.accounts.Reset(id); err != nil {
		writeError(w, http.StatusNotFound, "reset failed: %v", err)
		return
	}

	status, err := s.accounts.Query(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reset but lookup failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := queue.DLQQuery{TenantID: q.Get("tenant")}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: %v", err)
			return
		}
		query.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until: %v", err)
			return
		}
		query.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", v)
			return
		}
		query.Limit = n
	}

	entries, err := s.engine.DeadLetters(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dead letter listing failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := s.engine.DeadLetter(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "dead letter %s not found", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	item, err := s.engine.Requeue(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "dead letter %s not found", id)
			return
		}
		writeError(w, http.StatusConflict, "requeue failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handlePauseTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.engine.Pause(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenant_id": id, "paused": true})
}

func (s *Server) handleResumeTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.engine.Resume(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenant_id": id, "paused": false})
}

type checkEmailRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "validator is not configured")
		return
	}

	var req checkEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	verdict, err := s.checker.CheckEmail(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusBadGateway, "check failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

type checkDomainRequest struct {
	Domain        string   `json:"domain"`
	DKIMSelectors []string `json:"dkim_selectors,omitempty"`
}

func (s *Server) handleCheckDomain(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "validator is not configured")
		return
	}

	var req checkDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	report, err := s.checker.CheckDomain(r.Context(), req.Domain, req.DKIMSelectors)
	if err != nil {
		writeError(w, http.StatusBadGateway, "check failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
