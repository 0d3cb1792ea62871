package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Hydraverse/db/db"
	"github.com/Hydraverse/db/namegen"
)

// nameDraws is how many generated labels are tried before falling back
// to a uuid-derived one.
const nameDraws = 5

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TgUserID int64 `json:"tg_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.TgUserID <= 0 {
		s.error(w, r, fmt.Errorf("%w: tg_user_id required", errBadRequest))
		return
	}

	var user *db.User
	for draw := 0; ; draw++ {
		name := namegen.New()
		if draw >= nameDraws {
			name = namegen.Fallback()
		}

		err := s.dbc.WithTx(r.Context(), func(st *db.Store) error {
			u, err := st.CreateUser(r.Context(), req.TgUserID, name)
			user = u
			return err
		})
		if err == nil {
			break
		}
		// A generated name (or timestamp) collided; draw again.
		if db.IsUniqueViolation(err) && draw <= nameDraws {
			continue
		}
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, user)
}

func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	pk, _ := strconv.ParseInt(mux.Vars(r)["pk"], 10, 64)

	user, err := s.dbc.Store().UserByPK(r.Context(), pk)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if user == nil {
		s.error(w, r, fmt.Errorf("%w: user %d", errNotFound, pk))
		return
	}
	s.respond(w, http.StatusOK, user)
}

func (s *Server) handleUserGetTg(w http.ResponseWriter, r *http.Request) {
	tgid, _ := strconv.ParseInt(mux.Vars(r)["tgid"], 10, 64)

	user, err := s.dbc.Store().UserByTgID(r.Context(), tgid)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if user == nil {
		s.error(w, r, fmt.Errorf("%w: tg user %d", errNotFound, tgid))
		return
	}
	s.respond(w, http.StatusOK, user)
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	pk, _ := strconv.ParseInt(mux.Vars(r)["pk"], 10, 64)

	var deleted bool
	err := s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		ok, err := st.DeleteUser(r.Context(), pk)
		deleted = ok
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if !deleted {
		s.error(w, r, fmt.Errorf("%w: user %d", errNotFound, pk))
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	pk, _ := strconv.ParseInt(mux.Vars(r)["pk"], 10, 64)

	var req struct {
		Info db.JSONMap `json:"info"`
		Over bool       `json:"over"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var user *db.User
	err := s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		u, err := st.UpdateUserInfo(r.Context(), pk, req.Info, req.Over)
		user = u
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if user == nil {
		s.error(w, r, fmt.Errorf("%w: user %d", errNotFound, pk))
		return
	}
	s.respond(w, http.StatusOK, user)
}
