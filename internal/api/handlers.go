package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/custody"
	"github.com/dharsanguruparan/ShieldVault/internal/documents"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/signature"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

// Policies

type resolveBody struct {
	Role       model.Role                  `json:"role"`
	Attributes model.TransactionAttributes `json:"attributes"`
	Document   *model.Document             `json:"document,omitempty"`
}

type resolveResponse struct {
	Policy        retention.Policy `json:"policy"`
	RequiredDays  *int             `json:"requiredRetentionDays,omitempty"`
	DocumentMatch *bool            `json:"documentMatches,omitempty"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"policies": s.Resolver.Catalog().Policies()})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.Resolver.Catalog().Lookup(chi.URLParam(r, "policyID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleResolvePolicy(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	p, err := s.Resolver.Resolve(body.Role, body.Attributes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := resolveResponse{Policy: p}
	if body.Document != nil {
		days := retention.RequiredRetentionDays(*body.Document, p)
		match := retention.Matches(*body.Document, p)
		resp.RequiredDays = &days
		resp.DocumentMatch = &match
	}
	respondJSON(w, http.StatusOK, resp)
}

// Documents

type registerBody struct {
	Name          string      `json:"name"`
	Category      string      `json:"category"`
	Owner         model.Actor `json:"owner"`
	TransactionID string      `json:"transactionId"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body registerBody
		if err := readJSON(r, &body); err != nil {
			badRequest(w, "invalid json body")
			return
		}
		s.register(w, r, documents.Upload{
			Name:          body.Name,
			Category:      body.Category,
			Owner:         body.Owner,
			TransactionID: body.TransactionID,
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		badRequest(w, "expecting multipart form or json body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file part")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxFileSize+1))
	if err != nil {
		badRequest(w, "read file")
		return
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		badRequest(w, fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
		return
	}
	if len(data) == 0 {
		badRequest(w, "empty file")
		return
	}
	contentType := http.DetectContentType(data)
	if !s.cfg.Allowed(contentType) {
		badRequest(w, fmt.Sprintf("content type %s not allowed", contentType))
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = filepath.Base(header.Filename)
	}
	base, _, _ := mime.ParseMediaType(contentType)
	s.register(w, r, documents.Upload{
		Name:          name,
		Category:      r.FormValue("category"),
		Owner:         model.Actor{ID: r.FormValue("ownerId"), Role: model.Role(r.FormValue("ownerRole"))},
		TransactionID: r.FormValue("transactionId"),
		ContentType:   base,
		Size:          int64(len(data)),
		Body:          bytes.NewReader(data),
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, in documents.Upload) {
	doc, err := s.Registry.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Registry.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	var (
		page activity.Page
		err  error
	)
	switch r.URL.Query().Get("archived") {
	case "", "false":
		page, err = s.Registry.Activity(r.Context(), id)
	case "true":
		page, err = s.Registry.History(r.Context(), id)
	default:
		badRequest(w, "archived must be true or false")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleContentURL(w http.ResponseWriter, r *http.Request) {
	if s.Presigner == nil {
		writeErrorCode(w, http.StatusNotImplemented, "unsupported", "content links need object storage", nil)
		return
	}
	doc, err := s.Registry.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc.ContentRef == "" {
		writeErrorCode(w, http.StatusNotFound, "not_found", "document has no content", nil)
		return
	}
	url, err := s.Presigner.PresignContentURL(r.Context(), doc.ContentRef, s.cfg.SignatureTTL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleTransactionDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.Registry.Transaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Verification

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := s.Tracker.Submit(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"trackingId": id,
		"status":     string(model.StatusSubmitted),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.Tracker.Poll(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleMarkProcessing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trackingID")
	if err := s.Tracker.MarkProcessing(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"trackingId": id, "status": string(model.StatusProcessing)})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var res tracker.Result
	if err := readJSON(r, &res); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	id := chi.URLParam(r, "trackingID")
	if err := s.Tracker.Report(r.Context(), id, res); err != nil {
		s.writeError(w, r, err)
		return
	}
	attempt, err := s.Tracker.Poll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

// Custody

type lockBody struct {
	Actor           model.Actor                 `json:"actor"`
	Attributes      model.TransactionAttributes `json:"attributes"`
	ExpectedVersion *int                        `json:"expectedVersion,omitempty"`
}

type lockAllBody struct {
	Actor       model.Actor                 `json:"actor"`
	Attributes  model.TransactionAttributes `json:"attributes"`
	DocumentIDs []string                    `json:"documentIds,omitempty"`
}

type lockResultView struct {
	DocumentID string            `json:"documentId"`
	Lock       *model.LockRecord `json:"lock,omitempty"`
	Skipped    bool              `json:"skipped,omitempty"`
	Error      *errorBody        `json:"error,omitempty"`
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request) {
	lock, err := s.Custody.Custody(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lock)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var body lockBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	lock, err := s.Custody.VerifyAndLock(r.Context(), custody.LockRequest{
		DocumentID:      chi.URLParam(r, "documentID"),
		Actor:           body.Actor,
		Attributes:      body.Attributes,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lock)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body lockBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	lock, err := s.Custody.Unlock(r.Context(), custody.UnlockRequest{
		DocumentID:      chi.URLParam(r, "documentID"),
		Actor:           body.Actor,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lock)
}

func (s *Server) handleLockAll(w http.ResponseWriter, r *http.Request) {
	var body lockAllBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	results, err := s.Custody.LockAll(r.Context(), custody.LockAllRequest{
		TransactionID: chi.URLParam(r, "transactionID"),
		DocumentIDs:   body.DocumentIDs,
		Actor:         body.Actor,
		Attributes:    body.Attributes,
	})
	if err != nil && results == nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]lockResultView, 0, len(results))
	for _, res := range results {
		v := lockResultView{DocumentID: res.DocumentID, Lock: res.Lock, Skipped: res.Skipped}
		if res.Err != nil {
			_, code := classify(res.Err)
			v.Error = &errorBody{Code: code, Message: res.Err.Error(), Details: errorDetails(res.Err)}
		}
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results":   views,
		"cancelled": err != nil,
	})
}

// Signatures

type createSignatureBody struct {
	CreatedBy model.Actor                 `json:"createdBy"`
	Terms     model.TransactionAttributes `json:"terms"`
	Signers   []signature.SignerSpec      `json:"signers"`
	Send      bool                        `json:"send"`
}

type placeFieldsBody struct {
	SignerID string                `json:"signerId"`
	Fields   []signature.FieldSpec `json:"fields"`
}

type captureBody struct {
	Values          map[string]string `json:"values"`
	ExpectedVersion *int              `json:"expectedVersion,omitempty"`
}

type signatureResponse struct {
	Request     model.SignatureRequest `json:"request"`
	Invitations []signature.Invitation `json:"invitations,omitempty"`
}

func (s *Server) handleCreateSignature(w http.ResponseWriter, r *http.Request) {
	var body createSignatureBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	documentID := chi.URLParam(r, "documentID")
	req, err := s.Signatures.Create(r.Context(), signature.CreateRequest{
		DocumentID: documentID,
		CreatedBy:  body.CreatedBy,
		Terms:      body.Terms,
		Signers:    body.Signers,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := signatureResponse{Request: req}
	if body.Send {
		resp.Request, resp.Invitations, err = s.Signatures.Send(r.Context(), documentID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	req, err := s.Signatures.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signatureResponse{Request: req})
}

func (s *Server) handlePlaceFields(w http.ResponseWriter, r *http.Request) {
	var body placeFieldsBody
	if err := readJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req, err := s.Signatures.PlaceFields(r.Context(), chi.URLParam(r, "documentID"), body.SignerID, body.Fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signatureResponse{Request: req})
}

func (s *Server) handleFieldsOnPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		badRequest(w, "page must be a positive integer")
		return
	}
	fields, err := s.Signatures.FieldsOnPage(r.Context(), chi.URLParam(r, "documentID"), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"page": page, "fields": fields})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, invitations, err := s.Signatures.Send(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signatureResponse{Request: req, Invitations: invitations})
}

func (s *Server) handleValidateInvitation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	valid := s.Signatures.ValidateInvitation(r.Context(),
		chi.URLParam(r, "documentID"), chi.URLParam(r, "signerID"), q.Get("expires"), q.Get("token"))
	if !valid {
		writeErrorCode(w, http.StatusForbidden, "invalid_invitation", "invitation is invalid or expired", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) captureRequest(r *http.Request) (signature.CaptureRequest, error) {
	var body captureBody
	if err := readJSON(r, &body); err != nil {
		return signature.CaptureRequest{}, fmt.Errorf("invalid json body: %w", model.ErrInvalidInput)
	}
	return signature.CaptureRequest{
		DocumentID:      chi.URLParam(r, "documentID"),
		SignerID:        chi.URLParam(r, "signerID"),
		Values:          body.Values,
		ExpectedVersion: body.ExpectedVersion,
	}, nil
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	in, err := s.captureRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := s.Signatures.Preview(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	in, err := s.captureRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.Signatures.Capture(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signatureResponse{Request: req})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json body")
		return
	}
	req, err := s.Signatures.Reject(r.Context(), chi.URLParam(r, "documentID"), chi.URLParam(r, "signerID"), strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signatureResponse{Request: req})
}
