package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/cas"
	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/docs"
	"github.com/jcdickinson/ferrisindex/internal/registry"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/jcdickinson/ferrisindex/internal/search"
	"golang.org/x/sync/singleflight"
)

type Server struct {
	db         *db.DB
	hub        *registry.Hub
	reg        *registry.Registry
	searcher   *search.Searcher
	fetcher    *docs.Fetcher
	cfg        *config.Config
	socketPath string
	httpServer *http.Server
	listener   net.Listener
	watcher    *Watcher

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	fetchGroup singleflight.Group
}

// NewServer wires a daemon around database. Tables flow through hub into a
// fresh registry once Restore has replayed what the database already holds.
func NewServer(cfg *config.Config, database *db.DB, hub *registry.Hub, socketPath string) *Server {
	reg := registry.New()
	return &Server{
		db:         database,
		hub:        hub,
		reg:        reg,
		searcher:   search.NewSearcher(reg),
		fetcher:    docs.NewFetcher(cfg.Fetch.BaseURL, cfg.Fetch.UserAgent, cfg.Fetch.Timeout),
		cfg:        cfg,
		socketPath: socketPath,
		expiration: cfg.Expiration(),
	}
}

// Restore republishes every stored artifact from the content store, then
// attaches the registry and searcher so buffered tables are delivered in
// load order.
// Artifacts whose content is missing or no longer parses are skipped.
func (s *Server) Restore() (int, error) {
	stored, err := s.db.ListArtifacts()
	if err != nil {
		return 0, fmt.Errorf("listing stored artifacts: %w", err)
	}
	for _, rec := range stored {
		if !cas.Has(rec.ContentHash) {
			log.Printf("daemon: restore %s %s: content %s missing", rec.Source, rec.Path, rec.ContentHash)
			continue
		}
		raw, err := cas.Read(rec.ContentHash)
		if err != nil {
			log.Printf("daemon: restore %s %s: %v", rec.Source, rec.Path, err)
			continue
		}
		a, err := docs.ParseArtifact(rec.Path, raw)
		if err != nil {
			log.Printf("daemon: restore %s %s: %v", rec.Source, rec.Path, err)
			continue
		}
		if err := s.hub.Publish(a); err != nil {
			log.Printf("daemon: restore %s %s: %v", rec.Source, rec.Path, err)
		}
	}
	// The registry must see each table before the searcher re-collects.
	n := s.hub.Attach(registry.Fanout{s.reg, s.searcher})
	log.Printf("daemon: restored %d of %d stored artifacts", n, len(stored))
	return n, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /load", s.withExpReset(s.handleLoad))
	mux.HandleFunc("POST /implementors", s.withExpReset(s.handleImplementors))
	mux.HandleFunc("POST /traits-for-type", s.withExpReset(s.handleTraitsForType))
	mux.HandleFunc("POST /sidebar", s.withExpReset(s.handleSidebar))
	mux.HandleFunc("POST /search", s.withExpReset(s.handleSearch))
	mux.HandleFunc("POST /export", s.withExpReset(s.handleExport))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /clear", s.withExpReset(s.handleClear))
	mux.HandleFunc("POST /forget", s.withExpReset(s.handleForget))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Restore(); err != nil {
		return err
	}

	if len(s.cfg.Watch.Roots) > 0 {
		w, err := NewWatcher(s.cfg.Watch.Roots, s.cfg.Debounce(), s.reloadFile)
		if err != nil {
			log.Printf("daemon: watcher disabled: %v", err)
		} else {
			s.watcher = w
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	log.Printf("daemon: listening on %s (expires after %s of inactivity)", s.socketPath, s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			log.Printf("daemon: watcher close error: %v", err)
			errs = append(errs, err)
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("daemon: shutdown error: %v", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("daemon: listener close error: %v", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("daemon: socket remove error: %v", err)
		errs = append(errs, err)
	}
	s.hub.Detach()
	if err := s.db.Close(); err != nil {
		log.Printf("daemon: db close error: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	log.Printf("daemon: expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

// --- Loading ---

// ingest stores a parsed artifact and publishes it. Artifacts whose content
// is already stored unchanged under source are not republished.
func (s *Server) ingest(source string, a *docs.Artifact) (bool, error) {
	hash, err := cas.Write(a.Raw)
	if err != nil {
		return false, fmt.Errorf("storing %s: %w", a.Path, err)
	}
	_, changed, err := s.db.StoreArtifact(source, a, hash)
	if err != nil {
		return false, fmt.Errorf("recording %s: %w", a.Path, err)
	}
	if !changed {
		return false, nil
	}
	if err := s.hub.Publish(a); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) loadRoot(ctx context.Context, root string, progress func(string)) rpc.LoadResult {
	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}
	result := rpc.LoadResult{Source: root}

	progress(fmt.Sprintf("scanning %s", root))
	artifacts, err := docs.LoadDir(ctx, root, s.cfg.Load.Concurrency)
	if artifacts == nil && err != nil {
		result.Error = err.Error()
		return result
	}
	result.Errors = splitErrors(err)

	for _, a := range artifacts {
		published, err := s.ingest(root, a)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !published {
			result.Unchanged++
			continue
		}
		result.Artifacts++
		result.Entries += a.Len()
	}
	progress(fmt.Sprintf("%s: %d artifacts, %d entries, %d unchanged", root, result.Artifacts, result.Entries, result.Unchanged))
	return result
}

func (s *Server) loadFetch(ctx context.Context, spec rpc.FetchSpec, progress func(string)) rpc.LoadResult {
	version := spec.Version
	if version == "" {
		version = "latest"
	}
	source := spec.Crate + "@" + version
	result := rpc.LoadResult{Source: source}
	if spec.Crate == "" {
		result.Error = "missing crate name"
		return result
	}

	for _, rel := range spec.Paths {
		// Singleflight: dedup concurrent fetches for the same artifact
		key := source + "/" + rel
		v, err, _ := s.fetchGroup.Do(key, func() (interface{}, error) {
			progress(fmt.Sprintf("fetching %s", s.fetcher.URL(spec.Crate, version, rel)))
			data, err := s.fetcher.Fetch(ctx, spec.Crate, version, rel)
			if err != nil {
				return nil, err
			}
			a, err := docs.ParseArtifact(rel, data)
			if err != nil {
				return nil, err
			}
			published, err := s.ingest(source, a)
			if err != nil {
				return nil, err
			}
			return fetchOutcome{artifact: a, published: published}, nil
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		out := v.(fetchOutcome)
		if !out.published {
			result.Unchanged++
			continue
		}
		result.Artifacts++
		result.Entries += out.artifact.Len()
	}
	return result
}

type fetchOutcome struct {
	artifact  *docs.Artifact
	published bool
}

// reloadFile is the watcher callback for a changed artifact.
func (s *Server) reloadFile(root, rel string) {
	a, err := docs.LoadFile(root, rel)
	if err != nil {
		log.Printf("daemon: reload %s: %v", rel, err)
		return
	}
	published, err := s.ingest(root, a)
	if err != nil {
		log.Printf("daemon: reload %s: %v", rel, err)
		return
	}
	if published {
		log.Printf("daemon: reloaded %s (%d entries)", rel, a.Len())
	}
}

func splitErrors(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req rpc.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		if line.Message != "" {
			log.Printf("daemon: %s", line.Message)
		}
		if err := enc.Encode(line); err != nil {
			log.Printf("daemon: client disconnected: %v", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}
	progress := func(msg string) {
		send(rpc.ProgressLine{Type: "progress", Message: msg})
	}

	ctx := r.Context()
	for _, root := range req.Roots {
		result := s.loadRoot(ctx, root, progress)
		if !send(rpc.ProgressLine{Type: "result", Result: &result}) {
			return
		}
	}
	for _, spec := range req.Fetches {
		result := s.loadFetch(ctx, spec, progress)
		if !send(rpc.ProgressLine{Type: "result", Result: &result}) {
			return
		}
	}
}

// --- Queries ---

func (s *Server) handleImplementors(w http.ResponseWriter, r *http.Request) {
	var req rpc.ImplementorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trait == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}
	if req.Source != "" {
		rows, err := s.db.ImplementorsForTrait(req.Trait)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		f, ok := storedImplementors(req.Trait, req.Source, rows)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s stored no implementors for %s", req.Source, req.Trait))
			return
		}
		writeJSON(w, http.StatusOK, implementorsResponse(f, req.Library))
		return
	}
	f, ok := s.reg.Implementors(req.Trait)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no implementors registered for %s", req.Trait))
		return
	}
	writeJSON(w, http.StatusOK, implementorsResponse(f, req.Library))
}

func (s *Server) handleTraitsForType(w http.ResponseWriter, r *http.Request) {
	var req rpc.TraitsForTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.Type == "" && req.Library == "":
		writeError(w, http.StatusBadRequest, "missing type or library")
		return
	case req.Type == "":
		rows, err := s.db.ImplementorsForLibraries([]string{req.Library})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rpc.TraitsForTypeResponse{Results: storedTraitImpls(rows, req.Source)})
		return
	case req.Source != "":
		rows, err := s.db.TraitsForType(req.Type, req.Library)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rpc.TraitsForTypeResponse{Results: storedTraitImpls(rows, req.Source)})
		return
	}
	results := []rpc.TraitImpl{}
	for _, ti := range s.reg.TraitsForType(req.Type, req.Library) {
		results = append(results, rpc.TraitImpl{
			Trait:     ti.Trait,
			Library:   ti.Library,
			Header:    ti.Implementor.Header(),
			Synthetic: ti.Implementor.Synthetic,
		})
	}
	writeJSON(w, http.StatusOK, rpc.TraitsForTypeResponse{Results: results})
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	var req rpc.SidebarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Module == "" {
		writeError(w, http.StatusBadRequest, "missing module")
		return
	}
	if req.Source != "" {
		rows, err := s.db.SidebarForModule(req.Module)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		f, ok := storedSidebar(req.Module, req.Source, rows)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s stored no sidebar for %s", req.Source, req.Module))
			return
		}
		writeJSON(w, http.StatusOK, sidebarResponse(f))
		return
	}
	f, ok := s.reg.Sidebar(req.Module)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no sidebar registered for %s", req.Module))
		return
	}
	writeJSON(w, http.StatusOK, sidebarResponse(f))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req rpc.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	results := s.searcher.Search(req.Query, req.Limit)
	if results == nil {
		results = []rpc.SymbolResult{}
	}
	writeJSON(w, http.StatusOK, rpc.SearchResponse{Results: results})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req rpc.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "missing subject")
		return
	}
	a, ok := s.lookupArtifact(req.Subject, docs.ArtifactKind(req.Kind))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("nothing registered for %s", req.Subject))
		return
	}
	resp, err := export(a, req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookupArtifact builds an artifact view of the merged table for subject.
func (s *Server) lookupArtifact(subject string, kind docs.ArtifactKind) (*docs.Artifact, bool) {
	if kind == "" || kind == docs.KindImplementors {
		if f, ok := s.reg.Implementors(subject); ok {
			return &docs.Artifact{Kind: docs.KindImplementors, Path: docs.ImplementorsPath(subject), Subject: subject, Implementors: f}, true
		}
	}
	if kind == "" || kind == docs.KindSidebar {
		if f, ok := s.reg.Sidebar(subject); ok {
			return &docs.Artifact{Kind: docs.KindSidebar, Path: docs.SidebarPath(subject), Subject: subject, Sidebar: f}, true
		}
	}
	return nil, false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.reg.Stats()
	resp := rpc.StatusResponse{
		Traits:       st.Traits,
		Modules:      st.Modules,
		Implementors: st.Implementors,
		SidebarItems: st.SidebarItems,
		Pending:      s.hub.Pending(),
		Driver:       s.db.Driver(),
		Libraries:    s.reg.Libraries(),
	}
	if counts, err := s.db.Counts(); err == nil {
		resp.Stored = counts.Artifacts
	} else {
		log.Printf("daemon: counting stored artifacts: %v", err)
	}
	if s.watcher != nil {
		resp.Watching = s.watcher.Roots()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reg.Reset()
	s.searcher.Invalidate()
	log.Printf("daemon: index cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleForget removes everything one source stored and rebuilds the
// registry from what remains.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req rpc.ForgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "missing source")
		return
	}

	stored, err := s.db.ListArtifacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	removed := 0
	for _, rec := range stored {
		if rec.Source != req.Source {
			continue
		}
		if err := s.db.DeleteArtifact(rec.Source, rec.Path); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		removed++
	}
	if removed == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("nothing stored for %s", req.Source))
		return
	}

	s.hub.Detach()
	s.reg.Reset()
	s.searcher.Invalidate()
	restored, err := s.Restore()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("daemon: forgot %s (%d artifacts)", req.Source, removed)
	writeJSON(w, http.StatusOK, rpc.ForgetResponse{Removed: removed, Restored: restored})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
