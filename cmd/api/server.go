package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rfiflow/rfi"
	"rfiflow/sla"
)

// rfiService is the slice of rfi.Service the HTTP layer depends on.
type rfiService interface {
	Create(ctx context.Context, params rfi.CreateParams) (rfi.InformationRequest, error)
	Get(ctx context.Context, id string) (rfi.InformationRequest, error)
	List(ctx context.Context, f rfi.Filters) ([]rfi.InformationRequest, error)
	Assign(ctx context.Context, params rfi.AssignParams) (rfi.InformationRequest, error)
	SubmitResponse(ctx context.Context, params rfi.SubmitResponseParams) (rfi.InformationRequest, error)
	Close(ctx context.Context, params rfi.CloseParams) (rfi.InformationRequest, error)
	Cancel(ctx context.Context, params rfi.CancelParams) (rfi.InformationRequest, error)
	ConvertToRFP(ctx context.Context, id, actor string) (string, error)
	AddQuestion(ctx context.Context, params rfi.AddQuestionParams) (rfi.Question, error)
	AssignQuestion(ctx context.Context, params rfi.AssignQuestionParams) (rfi.Question, error)
	AnswerQuestion(ctx context.Context, params rfi.AnswerQuestionParams) (rfi.Question, error)
	ApproveQuestion(ctx context.Context, params rfi.ApproveQuestionParams) (rfi.Question, error)
	AddCommunication(ctx context.Context, params rfi.AddCommunicationParams) (rfi.Communication, error)
	AddDocument(ctx context.Context, params rfi.AddDocumentParams) (rfi.Document, error)
	Statistics(ctx context.Context) (rfi.Statistics, error)
	Overdue(ctx context.Context) ([]rfi.InformationRequest, error)
	AtRisk(ctx context.Context) ([]rfi.InformationRequest, error)
	PendingByUser(ctx context.Context, userID string) (rfi.PendingWork, error)
}

type Server struct {
	rfiService rfiService
	log        *slog.Logger
}

func NewServer(svc rfiService, log *slog.Logger) *Server {
	return &Server{rfiService: svc, log: log}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rfis", s.handleRFIs)
	mux.HandleFunc("/api/rfis/", s.handleRFIDetail)
	mux.HandleFunc("/api/statistics", s.handleStatistics)
	mux.HandleFunc("/api/overdue", s.handleOverdue)
	mux.HandleFunc("/api/at-risk", s.handleAtRisk)
	mux.HandleFunc("/api/pending/", s.handlePending)
	return mux
}

type rfiResponse struct {
	ID             string                  `json:"id"`
	Number         string                  `json:"number"`
	Status         string                  `json:"status"`
	Priority       string                  `json:"priority"`
	Source         string                  `json:"source"`
	CustomerID     string                  `json:"customerId"`
	CustomerName   string                  `json:"customerName"`
	ContactName    string                  `json:"contactName,omitempty"`
	ContactEmail   string                  `json:"contactEmail,omitempty"`
	Subject        string                  `json:"subject"`
	Description    string                  `json:"description,omitempty"`
	ReceivedAt     string                  `json:"receivedAt"`
	DueAt          string                  `json:"dueAt"`
	RespondedAt    *string                 `json:"respondedAt,omitempty"`
	ClosedAt       *string                 `json:"closedAt,omitempty"`
	SLAHours       int                     `json:"slaHours"`
	SLAStatus      string                  `json:"slaStatus"`
	AssignedToID   *string                 `json:"assignedToId,omitempty"`
	AssignedToName *string                 `json:"assignedToName,omitempty"`
	RelatedRFPID   *string                 `json:"relatedRfpId,omitempty"`
	CancelReason   *string                 `json:"cancelReason,omitempty"`
	Questions      []questionResponse      `json:"questions,omitempty"`
	Documents      []documentResponse      `json:"documents,omitempty"`
	Communications []communicationResponse `json:"communications,omitempty"`
}

type questionResponse struct {
	ID           string  `json:"id"`
	Seq          int     `json:"seq"`
	Category     string  `json:"category"`
	Question     string  `json:"question"`
	Status       string  `json:"status"`
	AssignedToID *string `json:"assignedToId,omitempty"`
	Answer       *string `json:"answer,omitempty"`
	AnsweredBy   *string `json:"answeredBy,omitempty"`
	AnsweredAt   *string `json:"answeredAt,omitempty"`
	ApprovedBy   *string `json:"approvedBy,omitempty"`
	ApprovedAt   *string `json:"approvedAt,omitempty"`
}

type documentResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploadedBy"`
	UploadedAt string `json:"uploadedAt"`
}

type communicationResponse struct {
	ID           string   `json:"id"`
	Channel      string   `json:"channel"`
	Subject      string   `json:"subject,omitempty"`
	Content      string   `json:"content"`
	Participants []string `json:"participants,omitempty"`
	OccurredAt   string   `json:"occurredAt"`
	CreatedBy    string   `json:"createdBy"`
}

func toRFIResponse(r rfi.InformationRequest) rfiResponse {
	resp := rfiResponse{
		ID:             r.ID,
		Number:         r.Number,
		Status:         string(r.Status),
		Priority:       string(r.Priority),
		Source:         string(r.Source),
		CustomerID:     r.CustomerID,
		CustomerName:   r.CustomerName,
		ContactName:    r.ContactName,
		ContactEmail:   r.ContactEmail,
		Subject:        r.Subject,
		Description:    r.Description,
		ReceivedAt:     r.ReceivedAt.Format(time.RFC3339),
		DueAt:          r.DueAt.Format(time.RFC3339),
		RespondedAt:    fmtTimePtr(r.RespondedAt),
		ClosedAt:       fmtTimePtr(r.ClosedAt),
		SLAHours:       r.SLAHours,
		SLAStatus:      string(r.SLAStatus),
		AssignedToID:   r.AssignedToID,
		AssignedToName: r.AssignedToName,
		RelatedRFPID:   r.RelatedRFPID,
		CancelReason:   r.CancelReason,
	}
	for _, q := range r.Questions {
		resp.Questions = append(resp.Questions, toQuestionResponse(q))
	}
	for _, d := range r.Documents {
		resp.Documents = append(resp.Documents, documentResponse{
			ID: d.ID, Name: d.Name, MimeType: d.MimeType, SizeBytes: d.SizeBytes,
			URL: d.URL, UploadedBy: d.UploadedBy, UploadedAt: d.UploadedAt.Format(time.RFC3339),
		})
	}
	for _, c := range r.Communications {
		resp.Communications = append(resp.Communications, communicationResponse{
			ID: c.ID, Channel: string(c.Channel), Subject: c.Subject, Content: c.Content,
			Participants: c.Participants, OccurredAt: c.OccurredAt.Format(time.RFC3339), CreatedBy: c.CreatedBy,
		})
	}
	return resp
}

func toQuestionResponse(q rfi.Question) questionResponse {
	return questionResponse{
		ID:           q.ID,
		Seq:          q.Seq,
		Category:     q.Category,
		Question:     q.Text,
		Status:       string(q.Status),
		AssignedToID: q.AssignedToID,
		Answer:       q.Answer,
		AnsweredBy:   q.AnsweredBy,
		AnsweredAt:   fmtTimePtr(q.AnsweredAt),
		ApprovedBy:   q.ApprovedBy,
		ApprovedAt:   fmtTimePtr(q.ApprovedAt),
	}
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (s *Server) handleRFIs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRFIs(w, r)
	case http.MethodPost:
		s.handleCreateRFI(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListRFIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rfi.Filters{
		Status:       rfi.Status(q.Get("status")),
		Priority:     sla.Priority(q.Get("priority")),
		CustomerID:   q.Get("customerId"),
		AssignedToID: q.Get("assignedTo"),
	}
	if raw := q.Get("receivedFrom"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid receivedFrom")
			return
		}
		f.ReceivedFrom = &from
	}
	if raw := q.Get("receivedTo"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid receivedTo")
			return
		}
		f.ReceivedTo = &to
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = limit
	}

	items, err := s.rfiService.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]rfiResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toRFIResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp, "total": len(resp)})
}

type createRFIRequest struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail"`
	ContactPhone string `json:"contactPhone"`
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
	Source       string `json:"source"`
	Questions    []struct {
		Category string `json:"category"`
		Question string `json:"question"`
		Context  string `json:"context"`
	} `json:"questions"`
	Actor string `json:"actor"`
}

func (s *Server) handleCreateRFI(w http.ResponseWriter, r *http.Request) {
	var req createRFIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := rfi.CreateParams{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Subject:      req.Subject,
		Description:  req.Description,
		Priority:     sla.Priority(req.Priority),
		Source:       rfi.Source(req.Source),
		Actor:        req.Actor,
	}
	for _, q := range req.Questions {
		params.Questions = append(params.Questions, rfi.QuestionDraft{
			Category: q.Category,
			Text:     q.Question,
			Context:  q.Context,
		})
	}

	created, err := s.rfiService.Create(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRFIResponse(created))
}

func (s *Server) handleRFIDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rfis/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "rfi id required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		found, err := s.rfiService.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRFIResponse(found))
	case len(parts) == 2:
		s.handleRFIAction(w, r, id, parts[1])
	case len(parts) == 4 && parts[1] == "questions":
		s.handleQuestionAction(w, r, id, parts[2], parts[3])
	default:
		writeError(w, http.StatusBadRequest, "unknown path")
	}
}

func (s *Server) handleRFIAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		AssigneeID   string   `json:"assigneeId"`
		AssigneeName string   `json:"assigneeName"`
		Summary      string   `json:"summary"`
		DocumentID   *string  `json:"documentId"`
		Notes        *string  `json:"notes"`
		Reason       *string  `json:"reason"`
		Category     string   `json:"category"`
		Question     string   `json:"question"`
		Context      string   `json:"context"`
		Channel      string   `json:"channel"`
		Subject      string   `json:"subject"`
		Content      string   `json:"content"`
		Participants []string `json:"participants"`
		Name         string   `json:"name"`
		MimeType     string   `json:"mimeType"`
		SizeBytes    int64    `json:"sizeBytes"`
		URL          string   `json:"url"`
		Actor        string   `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch action {
	case "assign":
		updated, err := s.rfiService.Assign(r.Context(), rfi.AssignParams{
			ID: id, AssigneeID: body.AssigneeID, AssigneeName: body.AssigneeName, Actor: body.Actor,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRFIResponse(updated))
	case "response":
		updated, err := s.rfiService.SubmitResponse(r.Context(), rfi.SubmitResponseParams{
			ID: id, Summary: body.Summary, DocumentID: body.DocumentID, Actor: body.Actor,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRFIResponse(updated))
	case "close":
		updated, err := s.rfiService.Close(r.Context(), rfi.CloseParams{ID: id, Actor: body.Actor, Notes: body.Notes})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRFIResponse(updated))
	case "cancel":
		updated, err := s.rfiService.Cancel(r.Context(), rfi.CancelParams{ID: id, Actor: body.Actor, Reason: body.Reason})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRFIResponse(updated))
	case "convert":
		rfpID, err := s.rfiService.ConvertToRFP(r.Context(), id, body.Actor)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"rfpId": rfpID})
	case "questions":
		added, err := s.rfiService.AddQuestion(r.Context(), rfi.AddQuestionParams{
			RFIID: id, Category: body.Category, Text: body.Question, Context: body.Context, Actor: body.Actor,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQuestionResponse(added))
	case "communications":
		added, err := s.rfiService.AddCommunication(r.Context(), rfi.AddCommunicationParams{
			RFIID: id, Channel: rfi.Channel(body.Channel), Subject: body.Subject,
			Content: body.Content, Participants: body.Participants, Actor: body.Actor,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, communicationResponse{
			ID: added.ID, Channel: string(added.Channel), Subject: added.Subject, Content: added.Content,
			Participants: added.Participants, OccurredAt: added.OccurredAt.Format(time.RFC3339), CreatedBy: added.CreatedBy,
		})
	case "documents":
		added, err := s.rfiService.AddDocument(r.Context(), rfi.AddDocumentParams{
			RFIID: id, Name: body.Name, MimeType: body.MimeType,
			SizeBytes: body.SizeBytes, URL: body.URL, Actor: body.Actor,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, documentResponse{
			ID: added.ID, Name: added.Name, MimeType: added.MimeType, SizeBytes: added.SizeBytes,
			URL: added.URL, UploadedBy: added.UploadedBy, UploadedAt: added.UploadedAt.Format(time.RFC3339),
		})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleQuestionAction(w http.ResponseWriter, r *http.Request, id, questionID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		AssigneeID   string `json:"assigneeId"`
		AssigneeName string `json:"assigneeName"`
		Answer       string `json:"answer"`
		Actor        string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		question rfi.Question
		err      error
	)
	switch action {
	case "assign":
		question, err = s.rfiService.AssignQuestion(r.Context(), rfi.AssignQuestionParams{
			RFIID: id, QuestionID: questionID,
			AssigneeID: body.AssigneeID, AssigneeName: body.AssigneeName, Actor: body.Actor,
		})
	case "answer":
		question, err = s.rfiService.AnswerQuestion(r.Context(), rfi.AnswerQuestionParams{
			RFIID: id, QuestionID: questionID, Answer: body.Answer, Actor: body.Actor,
		})
	case "approve":
		question, err = s.rfiService.ApproveQuestion(r.Context(), rfi.ApproveQuestionParams{
			RFIID: id, QuestionID: questionID, Actor: body.Actor,
		})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuestionResponse(question))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.rfiService.Statistics(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	byStatus := make(map[string]int, len(stats.ByStatus))
	for k, v := range stats.ByStatus {
		byStatus[string(k)] = v
	}
	byPriority := make(map[string]int, len(stats.ByPriority))
	for k, v := range stats.ByPriority {
		byPriority[string(k)] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":             stats.Total,
		"byStatus":          byStatus,
		"byPriority":        byPriority,
		"byCategory":        stats.ByCategory,
		"meanResponseHours": stats.MeanResponseHours,
		"slaCompliance":     stats.SLACompliance,
		"open":              stats.Open,
		"overdue":           stats.Overdue,
	})
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	s.handleWatchlist(w, r, s.rfiService.Overdue)
}

func (s *Server) handleAtRisk(w http.ResponseWriter, r *http.Request) {
	s.handleWatchlist(w, r, s.rfiService.AtRisk)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request, fetch func(context.Context) ([]rfi.InformationRequest, error)) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := fetch(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]rfiResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toRFIResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp, "total": len(resp)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/pending/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	work, err := s.rfiService.PendingByUser(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rfis := make([]rfiResponse, 0, len(work.RFIs))
	for _, item := range work.RFIs {
		rfis = append(rfis, toRFIResponse(item))
	}
	questions := make([]questionResponse, 0, len(work.Questions))
	for _, q := range work.Questions {
		questions = append(questions, toQuestionResponse(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rfis": rfis, "questions": questions})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rfi.ErrNotFound), errors.Is(err, rfi.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rfi.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
