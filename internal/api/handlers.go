package api

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/metadata"
	"github.com/metatrace/metascan/internal/model"
	"github.com/metatrace/metascan/internal/pipeline"
	"github.com/metatrace/metascan/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.runAnalysis(w, r, s.svc.AnalyzeStatistical)
}

func (s *Server) handleAnalyzeNarrative(w http.ResponseWriter, r *http.Request) {
	s.runAnalysis(w, r, s.svc.AnalyzeNarrative)
}

// runAnalysis spools the multipart upload to a temp file, runs the given
// path, and removes the temp file on every exit.
func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request,
	analyze func(ctx context.Context, req pipeline.AnalyzeRequest) (*model.AnalysisRecord, error)) {

	req, tmpPath, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	defer os.Remove(tmpPath)

	rec, err := analyze(r.Context(), req)
	if err != nil {
		zap.L().Error("api: analysis failed", zap.String("file", req.FileName), zap.Error(err))
		writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpload registers a file without analyzing it: extract, fingerprint,
// persist, attest, archive. The uploader email is required.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	req, tmpPath, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	defer os.Remove(tmpPath)

	if req.UploaderEmail == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	rec, att, err := s.svc.Ingest(r.Context(), req)
	if err != nil {
		zap.L().Error("api: ingest upload", zap.String("file", req.FileName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register upload")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"record":      rec,
		"attestation": att,
	})
}

// handleExplain takes an already-extracted metadata document and returns a
// plain-language explanation of it. Nothing is stored.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var doc metadata.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid metadata document")
		return
	}
	if len(doc) == 0 {
		writeError(w, http.StatusBadRequest, "no metadata provided")
		return
	}

	summary, err := s.svc.ExplainMetadata(r.Context(), doc)
	if err != nil {
		zap.L().Error("api: explain metadata", zap.Error(err))
		writeError(w, http.StatusBadGateway, "explanation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, att, err := s.svc.GetRecord(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if isNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, "record not found")
		return
	}

	findings := make([]map[string]any, 0, 2)
	for _, e := range pipeline.EvidenceFromRecord(rec) {
		findings = append(findings, map[string]any{
			"source":  e.Source(),
			"flagged": e.Flagged(),
			"summary": e.Summary(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record":      rec,
		"attestation": att,
		"evidence":    findings,
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Category:      model.FileCategory(r.URL.Query().Get("category")),
		UploaderEmail: r.URL.Query().Get("uploader"),
	}
	if v := r.URL.Query().Get("tampered"); v != "" {
		tampered, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "tampered must be a boolean")
			return
		}
		filter.Tampered = &tampered
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	recs, err := s.svc.ListRecords(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if recs == nil {
		recs = []model.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// receiveUpload parses the multipart form and writes the file part to a
// temp file. On failure it writes the error response itself and returns
// ok=false. Callers own removing the temp file.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (pipeline.AnalyzeRequest, string, bool) {
	maxBytes := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return pipeline.AnalyzeRequest{}, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return pipeline.AnalyzeRequest{}, "", false
	}
	defer file.Close()

	tmpPath, err := spoolToTemp(file)
	if err != nil {
		zap.L().Error("api: spool upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return pipeline.AnalyzeRequest{}, "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return pipeline.AnalyzeRequest{
		Path:          tmpPath,
		FileName:      header.Filename,
		ContentType:   contentType,
		UploaderEmail: r.FormValue("email"),
	}, tmpPath, true
}

func spoolToTemp(file multipart.File) (string, error) {
	tmp, err := os.CreateTemp("", "metascan-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func isNotFound(err error) bool {
	return eris.Is(err, store.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
