package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	costmodeldomain "github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
	"github.com/oddurs/prime-coordinator/internal/app/services/costmodel"
)

type okResponse struct {
	OK bool `json:"ok"`
}

type errResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// registerRequest mirrors the worker/register wire body.
type registerRequest struct {
	WorkerID      string          `json:"worker_id"`
	Hostname      string          `json:"hostname"`
	Cores         int             `json:"cores"`
	SearchType    string          `json:"search_type"`
	SearchParams  json.RawMessage `json:"search_params"`
	WorkerVersion string          `json:"worker_version"`
}

func (s *Server) handleWorkerRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	_, err := s.registry.Register(r.Context(), worker.Worker{
		WorkerID:      req.WorkerID,
		Hostname:      req.Hostname,
		Cores:         req.Cores,
		SearchType:    req.SearchType,
		SearchParams:  req.SearchParams,
		WorkerVersion: req.WorkerVersion,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// heartbeatRequest mirrors the worker/heartbeat wire body.
type heartbeatRequest struct {
	WorkerID   string          `json:"worker_id"`
	Tested     int64           `json:"tested"`
	Found      int64           `json:"found"`
	Current    string          `json:"current"`
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
	Metrics    json.RawMessage `json:"metrics,omitempty"`
}

type heartbeatResponse struct {
	OK      bool   `json:"ok"`
	Command string `json:"command,omitempty"`
}

func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, apperr.Validationf("httpapi.Heartbeat", "worker_id must not be empty"))
		return
	}

	if _, err := s.registry.Heartbeat(r.Context(), req.WorkerID, req.Tested, req.Found, req.Current, req.Checkpoint, req.Metrics); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeJSON(w, http.StatusNotFound, errResponse{OK: false, Error: "unknown worker, re-register"})
			return
		}
		writeServiceError(w, err)
		return
	}

	command, err := s.registry.TakeCommand(r.Context(), req.WorkerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{OK: true, Command: command})
}

type deregisterRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleWorkerDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := s.registry.Deregister(r.Context(), req.WorkerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// primeReportRequest mirrors the worker/prime wire body.
type primeReportRequest struct {
	Form         string          `json:"form"`
	Expression   string          `json:"expression"`
	Digits       int64           `json:"digits"`
	SearchParams json.RawMessage `json:"search_params"`
	ProofMethod  string          `json:"proof_method"`
}

func (s *Server) handleWorkerPrime(w http.ResponseWriter, r *http.Request) {
	var req primeReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	_, _, err := s.verification.ReportPrime(r.Context(), prime.Prime{
		Form:         req.Form,
		Expression:   req.Expression,
		Digits:       req.Digits,
		SearchParams: req.SearchParams,
		ProofMethod:  req.ProofMethod,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// blockResponse is the wire shape of a claimed block handed to a worker.
type blockResponse struct {
	BlockID    string `json:"block_id"`
	JobID      string `json:"job_id"`
	BlockStart int64  `json:"block_start"`
	BlockEnd   int64  `json:"block_end"`
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	workerID := r.URL.Query().Get("worker_id")
	if jobID == "" || workerID == "" {
		writeError(w, http.StatusBadRequest, apperr.Validationf("httpapi.Work", "job_id and worker_id are required"))
		return
	}

	var digitsHint int64
	if j, err := s.scheduler.GetJob(r.Context(), jobID); err == nil {
		digitsHint = costmodel.DigitsHint(j.Params)
	}

	b, ok, err := s.scheduler.ClaimBlock(r.Context(), jobID, workerID, digitsHint)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{
		BlockID:    b.ID,
		JobID:      b.JobID,
		BlockStart: b.BlockStart,
		BlockEnd:   b.BlockEnd,
	})
}

// workResultRequest mirrors the work/result wire body.
type workResultRequest struct {
	BlockID   string  `json:"block_id"`
	WorkerID  string  `json:"worker_id"`
	Tested    int64   `json:"tested"`
	Found     int64   `json:"found"`
	CoresUsed int     `json:"cores_used"`
	Duration  float64 `json:"duration_secs"`
}

func (s *Server) handleWorkResult(w http.ResponseWriter, r *http.Request) {
	var req workResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.BlockID == "" {
		writeError(w, http.StatusBadRequest, apperr.Validationf("httpapi.WorkResult", "block_id must not be empty"))
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, apperr.Validationf("httpapi.WorkResult", "worker_id must not be empty"))
		return
	}
	b, err := s.scheduler.CompleteBlock(r.Context(), req.BlockID, req.WorkerID, req.Tested, req.Found, req.Duration, req.CoresUsed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.recordCostObservation(r.Context(), b)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// artifactResponse is the wire shape of a resolved release artifact.
type artifactResponse struct {
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
	SigURL string `json:"sig_url,omitempty"`
	Size   int64  `json:"size"`
}

// recordCostObservation feeds a completed block's timing into the cost
// model so later fits reflect real throughput. Failures here are logged,
// not surfaced: a missing observation never blocks the worker's result
// report.
func (s *Server) recordCostObservation(ctx context.Context, b block.Block) {
	if s.costmodel == nil || b.DurationSecs <= 0 {
		return
	}
	j, err := s.scheduler.GetJob(ctx, b.JobID)
	if err != nil {
		return
	}
	digits := costmodel.DigitsHint(j.Params)
	if digits <= 0 {
		return
	}
	obs := costmodeldomain.Observation{
		Form:        j.Form,
		Digits:      digits,
		Secs:        b.DurationSecs / float64(b.Width()),
		CompletedAt: time.Now().UTC(),
	}
	if err := s.costmodel.RecordObservation(ctx, obs); err != nil {
		s.log.WithField("job_id", j.ID).WithError(err).Warn("record cost observation failed")
	}
}

func (s *Server) handleReleaseResolve(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	workerID := r.URL.Query().Get("worker_id")
	osName := r.URL.Query().Get("os")
	arch := r.URL.Query().Get("arch")

	artifact, err := s.release.Resolve(r.Context(), channel, workerID, osName, arch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactResponse{
		OS:     artifact.OS,
		Arch:   artifact.Arch,
		URL:    artifact.URL,
		SHA256: artifact.SHA256,
		SigURL: artifact.SigURL,
		Size:   artifact.Size,
	})
}
