package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/logging"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/tracking"
)

// Server exposes a storage.Repository over HTTP. Routing follows the
// teacher's own use of gorilla/mux; request logging is wired through
// gorilla/handlers the same way cmd/registry wires it over the registry
// HTTP API.
type Server struct {
	repo storage.Repository
	log  logging.Logger
}

// NewHandler builds the complete mux.Router serving repo, wrapped in
// gorilla/handlers' combined logging middleware.
func NewHandler(repo storage.Repository, out io.Writer) http.Handler {
	s := &Server{repo: repo, log: logging.Default()}
	r := mux.NewRouter()

	r.HandleFunc("/objects/resolve/{prefix}", s.handleResolveDigest).Methods(http.MethodGet)
	r.HandleFunc("/objects", s.handleListDigests).Methods(http.MethodGet)
	r.HandleFunc("/objects", s.handleWriteObject).Methods(http.MethodPost)
	r.HandleFunc("/objects/{digest}", s.handleReadObject).Methods(http.MethodGet)
	r.HandleFunc("/objects/{digest}", s.handleRemoveObject).Methods(http.MethodDelete)

	r.HandleFunc("/payloads/{digest}", s.handleHasPayload).Methods(http.MethodHead)
	r.HandleFunc("/payloads/{digest}", s.handleOpenPayload).Methods(http.MethodGet)
	r.HandleFunc("/payloads", s.handleWritePayload).Methods(http.MethodPost)
	r.HandleFunc("/payloads/{digest}", s.handleRemovePayload).Methods(http.MethodDelete)

	r.HandleFunc("/tags/resolve", s.handleResolveTag).Methods(http.MethodGet)
	r.HandleFunc("/tags/read", s.handleReadTag).Methods(http.MethodGet)
	r.HandleFunc("/tags/ls", s.handleLsTags).Methods(http.MethodGet)
	r.HandleFunc("/tags/find", s.handleFindTags).Methods(http.MethodGet)
	r.HandleFunc("/tags/streams", s.handleIterTagStreams).Methods(http.MethodGet)
	r.HandleFunc("/tags/push", s.handlePushTag).Methods(http.MethodPost)
	r.HandleFunc("/tags/insert", s.handleInsertTag).Methods(http.MethodPost)
	r.HandleFunc("/tags", s.handleRemoveTag).Methods(http.MethodDelete)
	r.HandleFunc("/tags/stream", s.handleRemoveTagStream).Methods(http.MethodDelete)

	return handlers.CombinedLoggingHandler(out, r)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var se *spfserr.Error
	status := http.StatusInternalServerError
	resp := errorResponse{Message: err.Error()}
	if errors.As(err, &se) {
		resp.Kind = string(se.Kind)
		resp.Code = se.Code
		switch se.Kind {
		case spfserr.KindNotFound:
			status = http.StatusNotFound
		case spfserr.KindAmbiguous:
			status = http.StatusConflict
		case spfserr.KindPinning:
			status = http.StatusForbidden
		case spfserr.KindInvariant, spfserr.KindCorruption:
			status = http.StatusUnprocessableEntity
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReadObject(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_digest", err.Error()))
		return
	}
	obj, err := s.repo.ReadObject(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := graph.Encode(w, obj, object.DefaultStrategy, object.DefaultFormat); err != nil {
		s.log.Errorf("encode object %s for response: %s", d, err)
	}
}

func (s *Server) handleWriteObject(w http.ResponseWriter, r *http.Request) {
	obj, _, err := graph.Decode(r.Body)
	if err != nil {
		s.writeError(w, spfserr.Corruption("decode posted object", err))
		return
	}
	d, err := s.repo.WriteObject(r.Context(), obj)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, d.String())
}

func (s *Server) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_digest", err.Error()))
		return
	}
	if err := s.repo.RemoveObject(r.Context(), d); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	it, err := s.repo.IterDigests(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer it.Close()
	var out []encoding.Digest
	for {
		d, err := it.Next(r.Context())
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, d)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleResolveDigest(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	d, err := s.repo.ResolveFullDigest(r.Context(), prefix)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, d.String())
}

func (s *Server) handleHasPayload(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := s.repo.HasPayload(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleOpenPayload(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_digest", err.Error()))
		return
	}
	rc, err := s.repo.OpenPayload(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Errorf("stream payload %s to client: %s", d, err)
	}
}

func (s *Server) handleWritePayload(w http.ResponseWriter, r *http.Request) {
	d, size, err := s.repo.WritePayload(r.Context(), r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payloadWriteResponse{Digest: d, Size: size})
}

func (s *Server) handleRemovePayload(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_digest", err.Error()))
		return
	}
	if err := s.repo.RemovePayload(r.Context(), d); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func specFromQuery(r *http.Request) tracking.TagSpec {
	q := r.URL.Query()
	version, _ := strconv.ParseUint(q.Get("version"), 10, 64)
	return tracking.TagSpec{Org: q.Get("org"), Name: q.Get("name"), Version: version}
}

func (s *Server) handleResolveTag(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.ResolveTag(r.Context(), specFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTagWire(t))
}

func (s *Server) handleReadTag(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.ReadTag(r.Context(), specFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]tagWire, len(entries))
	for i, e := range entries {
		out[i] = toTagWire(e)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleLsTags(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.LsTags(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]entryTypeWire, len(entries))
	for i, e := range entries {
		out[i] = toEntryTypeWire(e)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleFindTags(w http.ResponseWriter, r *http.Request) {
	d, err := encoding.Parse(r.URL.Query().Get("digest"))
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_digest", err.Error()))
		return
	}
	specs, err := s.repo.FindTags(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]tagSpecWire, len(specs))
	for i, sp := range specs {
		out[i] = toTagSpecWire(sp)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleIterTagStreams(w http.ResponseWriter, r *http.Request) {
	it, err := s.repo.IterTagStreams(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer it.Close()
	var out []streamWire
	for {
		spec, entries, err := it.Next(r.Context())
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		wire := streamWire{Spec: toTagSpecWire(spec)}
		for _, e := range entries {
			wire.Entries = append(wire.Entries, toTagWire(e))
		}
		out = append(out, wire)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

type pushTagRequest struct {
	Org    string          `json:"org"`
	Name   string          `json:"name"`
	Target encoding.Digest `json:"target"`
}

func (s *Server) handlePushTag(w http.ResponseWriter, r *http.Request) {
	var req pushTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_request", err.Error()))
		return
	}
	t, err := s.repo.PushTag(r.Context(), tracking.TagSpec{Org: req.Org, Name: req.Name}, req.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTagWire(t))
}

func (s *Server) handleInsertTag(w http.ResponseWriter, r *http.Request) {
	var wire tagWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_request", err.Error()))
		return
	}
	t, err := wire.toTag()
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_request", err.Error()))
		return
	}
	if err := s.repo.InsertTag(r.Context(), t); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	var wire tagWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_request", err.Error()))
		return
	}
	t, err := wire.toTag()
	if err != nil {
		s.writeError(w, spfserr.New(spfserr.KindInvariant, "bad_request", err.Error()))
		return
	}
	if err := s.repo.RemoveTag(r.Context(), t); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveTagStream(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.RemoveTagStream(r.Context(), specFromQuery(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
