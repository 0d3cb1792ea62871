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

type subResult struct {
	UserAddr *db.UserAddrResult `json:"user_addr"`
	Addr     *db.AddrResult     `json:"addr"`
}

func (s *Server) subResult(r *http.Request, ua *db.UserAddr) (*subResult, error) {
	addr, err := s.dbc.Store().AddrByPK(r.Context(), ua.AddrPK)
	if err != nil {
		return nil, err
	}
	res := &subResult{UserAddr: db.NewUserAddrResult(ua)}
	if addr != nil {
		res.Addr = db.NewAddrResult(addr)
	}
	return res, nil
}

// handleSubAdd subscribes the user to an address, interning it on first
// sight. The name is validated before the intern so a rejected request
// never leaves behind an address row nobody watches. The probe and
// explorer fetch run outside the transaction.
func (s *Server) handleSubAdd(w http.ResponseWriter, r *http.Request) {
	pk, _ := strconv.ParseInt(mux.Vars(r)["pk"], 10, 64)

	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	name := req.Name
	if name == "" {
		name = namegen.New()
	}
	if err := db.ValidateSubName(name); err != nil {
		s.error(w, r, err)
		return
	}

	user, err := s.dbc.Store().UserByPK(r.Context(), pk)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if user == nil {
		s.error(w, r, fmt.Errorf("%w: user %d", errNotFound, pk))
		return
	}

	addr, err := s.reg.Get(r.Context(), s.dbc.Store(), req.Address, true, 0)
	if err != nil {
		s.error(w, r, err)
		return
	}

	var ua *db.UserAddr
	err = s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		u, err := st.AddUserAddr(r.Context(), pk, addr.PKID, name)
		ua = u
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}

	res, err := s.subResult(r, ua)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, res)
}

func (s *Server) handleSubList(w http.ResponseWriter, r *http.Request) {
	pk, _ := strconv.ParseInt(mux.Vars(r)["pk"], 10, 64)

	subs, err := s.dbc.Store().UserAddrsForUser(r.Context(), pk)
	if err != nil {
		s.error(w, r, err)
		return
	}
	out := make([]*db.UserAddrResult, 0, len(subs))
	for _, ua := range subs {
		out = append(out, db.NewUserAddrResult(ua))
	}
	s.respond(w, http.StatusOK, map[string]any{"addrs": out})
}

// handleSubGet reads a subscription by address string or by its own id.
func (s *Server) handleSubGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	ref := vars["addr"]

	store := s.dbc.Store()

	var ua *db.UserAddr
	if uaPK, err := strconv.ParseInt(ref, 10, 64); err == nil {
		ua, err = store.UserAddrByPK(r.Context(), pk, uaPK)
		if err != nil {
			s.error(w, r, err)
			return
		}
	} else {
		addr, err := s.reg.Get(r.Context(), store, ref, false, 0)
		if err != nil {
			s.error(w, r, err)
			return
		}
		if addr != nil {
			if ua, err = store.UserAddrByAddr(r.Context(), pk, addr.PKID); err != nil {
				s.error(w, r, err)
				return
			}
		}
	}
	if ua == nil {
		s.error(w, r, fmt.Errorf("%w: subscription %s", errNotFound, ref))
		return
	}

	res, err := s.subResult(r, ua)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleSubUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	uaPK, _ := strconv.ParseInt(vars["ua"], 10, 64)

	var req struct {
		Name *string    `json:"name"`
		Info db.JSONMap `json:"info"`
		Data db.JSONMap `json:"data"`
		Over bool       `json:"over"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var ua *db.UserAddr
	err := s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		u, err := st.UpdateUserAddr(r.Context(), pk, uaPK, db.UserAddrUpdate{
			Name: req.Name, Info: req.Info, Data: req.Data, Over: req.Over,
		})
		ua = u
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if ua == nil {
		s.error(w, r, fmt.Errorf("%w: subscription %d", errNotFound, uaPK))
		return
	}

	res, err := s.subResult(r, ua)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleSubDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	uaPK, _ := strconv.ParseInt(vars["ua"], 10, 64)

	var deleted bool
	err := s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		ok, err := st.RemoveUserAddr(r.Context(), pk, uaPK)
		deleted = ok
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if !deleted {
		s.error(w, r, fmt.Errorf("%w: subscription %d", errNotFound, uaPK))
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleSubHist pages the subscription's counter snapshots, newest
// first. limit defaults to 100.
func (s *Server) handleSubHist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	uaPK, _ := strconv.ParseInt(vars["ua"], 10, 64)

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.error(w, r, fmt.Errorf("%w: bad limit %q", errBadRequest, v))
			return
		}
		limit = n
	}

	store := s.dbc.Store()
	ua, err := store.UserAddrByPK(r.Context(), pk, uaPK)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if ua == nil {
		s.error(w, r, fmt.Errorf("%w: subscription %d", errNotFound, uaPK))
		return
	}

	hist, err := store.UserAddrHistForSub(r.Context(), uaPK, limit)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"hist": hist})
}

func (s *Server) handleTokenAdd(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	uaPK, _ := strconv.ParseInt(vars["ua"], 10, 64)

	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	n, err := s.reg.Normalize(r.Context(), req.Address, 0)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if n.Type != db.AddrTypeToken && n.Type != db.AddrTypeNFT {
		s.error(w, r, fmt.Errorf("%w: %s is not a token contract", errBadRequest, req.Address))
		return
	}

	var ua *db.UserAddr
	err = s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		u, err := st.AddWatchedToken(r.Context(), pk, uaPK, n.Hex)
		ua = u
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if ua == nil {
		s.error(w, r, fmt.Errorf("%w: subscription %d", errNotFound, uaPK))
		return
	}
	s.respond(w, http.StatusOK, db.NewUserAddrResult(ua))
}

func (s *Server) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pk, _ := strconv.ParseInt(vars["pk"], 10, 64)
	uaPK, _ := strconv.ParseInt(vars["ua"], 10, 64)

	n, err := s.reg.Normalize(r.Context(), vars["addr"], 0)
	if err != nil {
		s.error(w, r, err)
		return
	}

	var ua *db.UserAddr
	err = s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		u, err := st.RemoveWatchedToken(r.Context(), pk, uaPK, n.Hex)
		ua = u
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}
	if ua == nil {
		s.error(w, r, fmt.Errorf("%w: subscription %d", errNotFound, uaPK))
		return
	}
	s.respond(w, http.StatusOK, db.NewUserAddrResult(ua))
}
