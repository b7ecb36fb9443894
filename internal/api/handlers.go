package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/digkill/QuickDatePay/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleAamarpayGet(w http.ResponseWriter, r *http.Request) {
	f, err := s.readForm(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	url, err := s.payments.IssueAamarpay(r.Context(), service.AamarpayRequest{
		Type:  f.get("type"),
		Price: f.get("price"),
		Name:  f.get("name"),
		Email: f.get("email"),
		Phone: f.get("phone"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": http.StatusOK,
		"url":    url,
	})
}

// handleAamarpaySuccess is the public endpoint Aamarpay calls after checkout.
func (s *Server) handleAamarpaySuccess(w http.ResponseWriter, r *http.Request) {
	f, err := s.readForm(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.payments.ConfirmAamarpay(r.Context(), service.AamarpayCallback{
		Type:      f.get("type"),
		Amount:    f.get("amount"),
		MerTxnID:  f.get("mer_txnid"),
		PayStatus: f.get("pay_status"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "SUCCESS",
		"code":    http.StatusOK,
	})
}

func (s *Server) handleAuthorizeConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.payments.AuthorizeConfig()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     http.StatusOK,
		"apiLoginId": cfg.APILoginID,
		"clientKey":  cfg.ClientKey,
		"mode":       cfg.Mode,
	})
}

func (s *Server) handleAuthorizePay(w http.ResponseWriter, r *http.Request) {
	f, err := s.readForm(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.payments.ChargeAuthorize(r.Context(), service.AuthorizeRequest{
		Type:           f.get("type"),
		Price:          f.get("price"),
		Name:           f.get("name"),
		Email:          f.get("email"),
		Phone:          f.get("phone"),
		DataDescriptor: f.get("dataDescriptor"),
		DataValue:      f.get("dataValue"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{
		"status":  http.StatusOK,
		"message": result.Message,
		"url":     result.URL,
	}
	if result.CreditAmount != nil {
		resp["credit_amount"] = *result.CreditAmount
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDebugDB(w http.ResponseWriter, r *http.Request) {
	snap, err := s.payments.Snapshot(r.Context())
	if err != nil {
		s.log.Error("debug snapshot", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody(http.StatusInternalServerError, "internal_error"))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports oversize bodies as 413, validation and gateway failures as 400 and
// everything else as 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if tooLarge(err) {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(http.StatusRequestEntityTooLarge, "request_too_large"))
		return
	}
	var reqErr *service.RequestError
	if !errors.As(err, &reqErr) {
		s.log.Error("unexpected handler error", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody(http.StatusInternalServerError, "internal_error"))
		return
	}
	if errors.Is(reqErr.Kind, service.ErrInternal) {
		s.log.Error("payment handler error", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody(http.StatusInternalServerError, reqErr.Message))
		return
	}
	s.log.Debug("payment request rejected", "err", err)
	s.writeJSON(w, http.StatusBadRequest, errorBody(http.StatusBadRequest, reqErr.Message))
}

func errorBody(status int, message string) map[string]any {
	return map[string]any{
		"status":  status,
		"message": message,
	}
}
