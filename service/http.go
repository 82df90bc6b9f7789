package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Comcast/automata/auth"
	"github.com/Comcast/automata/automata"
	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

// DefaultHistoryLimit bounds a history page when the request doesn't.
var DefaultHistoryLimit = 100

type identityKey struct{}

func withIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the verified caller, if any.
func IdentityFrom(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*auth.Identity)
	return id, ok
}

// Router returns the HTTP handler.
//
// Routes other than health and metrics require a bearer token.  A
// websocket upgrade may instead carry the token in the "token" query
// parameter since browsers can't set headers on upgrades.
func (s *Service) Router() http.Handler {
	router := chi.NewRouter()

	router.Handle("/metrics", s.Metrics.Handler())

	api := func(r chi.Router) {
		r.Get("/health", s.health)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/blueprints", s.postBlueprint)
			r.Get("/blueprints/{id}", s.getBlueprint)
			r.Get("/blueprints/{id}/doc", s.getBlueprintDoc)

			r.Post("/automata", s.postAutomata)
			r.Get("/automata", s.listAutomata)
			r.Get("/automata/{id}", s.getAutomata)
			r.Post("/automata/{id}/events", s.postEvent)
			r.Get("/automata/{id}/events", s.getHistory)
			r.Get("/automata/{id}/events/{base}", s.getReconciliation)
			r.Post("/automata/{id}/archive", s.postArchive)

			r.Get("/ws", s.serveWebsocket)
		})
	}

	if base := strings.TrimSuffix(s.Config.HTTP.BasePath, "/"); base == "" {
		api(router)
	} else {
		router.Route(base, api)
	}

	return router
}

func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok && websocket.IsWebSocketUpgrade(r) {
			token = r.URL.Query().Get("token")
			ok = token != ""
		}
		if !ok {
			writeError(w, r, fmt.Errorf("%w: bearer token required", auth.ErrInvalidToken))
			return
		}
		id, err := s.Verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// identity is only called behind authenticate.
func identity(r *http.Request) *auth.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// decode reads and validates a JSON body.
func decode(r *http.Request, x interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(x); err != nil {
		return fmt.Errorf("%w: %v", BadRequest, err)
	}
	return validate.Struct(x)
}

func (s *Service) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type blueprintRequest struct {
	Content          json.RawMessage `json:"content" validate:"required"`
	Signature        string          `json:"signature"`
	CreatorAccountID string          `json:"creatorAccountId"`
}

func (s *Service) postBlueprint(w http.ResponseWriter, r *http.Request) {
	var req blueprintRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := blueprint.Parse(req.Content)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: content: %v", BadRequest, err))
		return
	}
	// A user blueprint's creator is its signing Account.  Builtins
	// record the caller.
	creator := req.CreatorAccountID
	if c.Builtin {
		creator = identity(r).SubjectID
	}
	id, err := s.Resolver.Resolve(r.Context(), c, req.Signature, creator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"blueprintId": id})
}

func (s *Service) loadBlueprint(r *http.Request) (*blueprint.Content, *storage.Blueprint, error) {
	id := chi.URLParam(r, "id")
	c, b, err := s.Resolver.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: blueprint %s", core.NotFound, id)
	}
	return c, b, err
}

func (s *Service) getBlueprint(w http.ResponseWriter, r *http.Request) {
	_, b, err := s.loadBlueprint(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Service) getBlueprintDoc(w http.ResponseWriter, r *http.Request) {
	c, _, err := s.loadBlueprint(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(blueprint.RenderHTML(c))
}

type createRequest struct {
	ID          string `json:"automataId,omitempty"`
	BlueprintID string `json:"blueprintId" validate:"required"`
	RealmID     string `json:"realmId" validate:"required"`
}

func (s *Service) postAutomata(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := identity(r)
	if !auth.NewPermissionChecker(id).CanWriteAutomata(req.ID, req.RealmID) {
		writeError(w, r, core.Forbidden)
		return
	}
	a, err := s.Store.Create(r.Context(), &automata.CreateRequest{
		ID:               req.ID,
		BlueprintID:      req.BlueprintID,
		TenantID:         id.TenantID,
		RealmID:          req.RealmID,
		CreatorSubjectID: id.SubjectID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// listAutomata lists the realm given by the "realmId" query parameter
// or, without one, the Automata the caller created.  Either way the
// caller only sees what it may read.
func (s *Service) listAutomata(w http.ResponseWriter, r *http.Request) {
	var (
		id      = identity(r)
		checker = auth.NewPermissionChecker(id)
		realm   = r.URL.Query().Get("realmId")
		as      []*core.Automata
		err     error
	)
	if realm != "" {
		as, err = s.Store.ListByRealm(r.Context(), id.TenantID, realm)
	} else {
		as, err = s.Store.ListBySubject(r.Context(), id.SubjectID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	acc := make([]*core.Automata, 0, len(as))
	for _, a := range as {
		if checker.Authorize(a, auth.Read) == nil {
			acc = append(acc, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"automata": acc})
}

// readable loads the Automata named in the path if the caller may
// read it.
func (s *Service) readable(r *http.Request) (*core.Automata, error) {
	a, err := s.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := auth.NewPermissionChecker(identity(r)).Authorize(a, auth.Read); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) getAutomata(w http.ResponseWriter, r *http.Request) {
	a, err := s.readable(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Service) postEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", BadRequest, err))
		return
	}
	req.AutomataID = chi.URLParam(r, "id")
	result, err := s.Apply(r.Context(), identity(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) getHistory(w http.ResponseWriter, r *http.Request) {
	a, err := s.readable(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := DefaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit <= 0 {
			writeError(w, r, fmt.Errorf("%w: bad limit %q", BadRequest, l))
			return
		}
	}
	from := version.Version(r.URL.Query().Get("from"))
	evs, err := s.Store.History(r.Context(), a.ID, from, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

func (s *Service) getReconciliation(w http.ResponseWriter, r *http.Request) {
	a, err := s.readable(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" {
		writeError(w, r, fmt.Errorf("%w: eventId required", BadRequest))
		return
	}
	base := version.Version(chi.URLParam(r, "base"))
	rec, err := s.Store.Reconcile(r.Context(), a.ID, base, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type archiveRequest struct {
	Version version.Version `json:"version" validate:"required"`
}

func (s *Service) postArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := version.Check(string(req.Version)); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.NewPermissionChecker(identity(r)).Authorize(a, auth.Write); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.Archive(r.Context(), a.ID, req.Version); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"automataId": a.ID,
		"status":     string(core.StatusArchived),
	})
}
