package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/feedpipe/internal/core"
	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/feedsource"
)

// maxFormValue caps the non-file parts of a multipart ingest request.
const maxFormValue = 1 << 10

// ingestURLRequest is the JSON body of an ingest by URL.
type ingestURLRequest struct {
	URL      string `json:"url" validate:"required"`
	Format   string `json:"format" validate:"omitempty,oneof=csv json xml"`
	Encoding string `json:"encoding"`
	Wait     bool   `json:"wait"`
}

// ingestResponse is returned by the ingest endpoint. Status is only set
// for runs ingested with wait.
type ingestResponse struct {
	RunID  string          `json:"run_id"`
	Status *core.RunStatus `json:"status,omitempty"`
}

// handleIngest starts an ingestion run from a multipart upload (part
// "file") or from a JSON body naming a feed URL.
//
// Uploads are spooled to a temporary file first: the run reads its source
// after this handler has returned.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "ws", "sup")
	if err != nil {
		respondError(w, r, err)
		return
	}

	req := core.IngestRequest{WorkspaceID: params[0], SupplierID: params[1]}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		err = s.ingestFromUpload(w, r, &req)
	} else {
		err = s.ingestFromURL(w, r, &req)
	}
	if err != nil {
		if req.Source != nil {
			closeReader(req.Source)
		}
		respondError(w, r, err)
		return
	}

	if v := r.URL.Query().Get("wait"); v != "" {
		if b, perr := strconv.ParseBool(v); perr == nil {
			req.Wait = b
		}
	}

	runID, err := s.service.StartIngestion(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if !req.Wait {
		writeJSONStatus(w, http.StatusAccepted, ingestResponse{RunID: runID})
		return
	}
	st, err := s.service.GetRunStatus(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, ingestResponse{RunID: runID, Status: &st})
}

// ingestFromUpload streams the multipart body, spooling the file part and
// reading the format, encoding and wait fields.
func (s *Server) ingestFromUpload(w http.ResponseWriter, r *http.Request, req *core.IngestRequest) error {
	limit := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+maxJSONBody)

	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return fmt.Errorf("%w: upload exceeds %d bytes", feed.ErrFeedTooLarge, limit)
			}
			return fmt.Errorf("%w: read multipart: %v", core.ErrInvalidRequest, err)
		}

		switch part.FormName() {
		case "file":
			if req.Source != nil {
				part.Close()
				return fmt.Errorf("%w: more than one file part", core.ErrInvalidRequest)
			}
			spooled, err := feedsource.Spool(part, "", limit)
			part.Close()
			if err != nil {
				return err
			}
			req.Source = spooled
			req.Size = spooled.Size
			req.SourceName = part.FileName()
			req.ContentType = part.Header.Get("Content-Type")
		case "format", "encoding", "wait":
			b, err := io.ReadAll(io.LimitReader(part, maxFormValue))
			part.Close()
			if err != nil {
				return fmt.Errorf("%w: read form field: %v", core.ErrInvalidRequest, err)
			}
			setFormValue(req, part.FormName(), strings.TrimSpace(string(b)))
		default:
			part.Close()
		}
	}

	if req.Source == nil {
		return fmt.Errorf("%w: no feed provided", core.ErrInvalidRequest)
	}
	return nil
}

func setFormValue(req *core.IngestRequest, name, value string) {
	switch name {
	case "format":
		req.Format = value
	case "encoding":
		req.Charset = value
	case "wait":
		req.Wait, _ = strconv.ParseBool(value)
	}
}

// ingestFromURL opens the feed named in a JSON body.
func (s *Server) ingestFromURL(w http.ResponseWriter, r *http.Request, req *core.IngestRequest) error {
	var body ingestURLRequest
	if err := decodeJSON(w, r, &body); err != nil {
		return err
	}
	if err := validateBody(body); err != nil {
		return err
	}

	opened, err := s.opener.Open(r.Context(), body.URL)
	if err != nil {
		return err
	}

	req.Source = opened.Body
	req.SourceName = opened.Name
	req.ContentType = opened.ContentType
	req.Size = opened.Size
	req.Format = body.Format
	req.Charset = body.Encoding
	req.Wait = body.Wait
	return nil
}

func closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

// handleGetRun returns the live or stored state of a run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "runID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	st, err := s.service.GetRunStatus(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, st)
}

// handleRunErrors returns the item errors of a run in item order.
func (s *Server) handleRunErrors(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "runID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	errs, err := s.service.ListFeedErrors(r.Context(), params[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"run_id": params[0], "errors": errs})
}

// handleCancelRun requests cancellation of an active run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	params, err := pathParams(r, "runID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.service.CancelRun(params[0]); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"run_id": params[0], "status": "cancelling"})
}
