package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
)

// AdminCache is the full cache access the admin surface needs.
type AdminCache interface {
	Get(addr string) (geostore.GeoRecord, bool, error)
	Upsert(addr string, up geostore.Update) (geostore.GeoRecord, error)
	Delete(addr string) error
}

// Scheduler queues addresses for immediate lookup.
type Scheduler interface {
	Enqueue(addr string, network addrutil.Network)
}

type Admin struct {
	Cache    AdminCache
	Sched    Scheduler
	AdminKey string
	Logger   *zap.Logger
}

func NewAdmin(cache AdminCache, sched Scheduler, key string, logger *zap.Logger) *Admin {
	return &Admin{Cache: cache, Sched: sched, AdminKey: key, Logger: logger}
}

func (a *Admin) auth(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("x-admin-key") != a.AdminKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// POST /admin/lookup
func (a *Admin) ForceLookup(w http.ResponseWriter, r *http.Request) {
	if !a.auth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	addr := addrutil.Normalize(req.Address)
	rec, err := a.Cache.Upsert(addr, geostore.Update{
		Network:      addrutil.Classify(addr),
		ResetBackoff: true,
	})
	if err != nil {
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	a.Sched.Enqueue(rec.Address, rec.Network)
	a.Logger.Info("admin_force_lookup", zap.String("address", rec.Address))
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "address": rec.Address})
}

// GET and DELETE /admin/cache?address=
func (a *Admin) CacheRecord(w http.ResponseWriter, r *http.Request) {
	if !a.auth(w, r) {
		return
	}
	addr := r.URL.Query().Get("address")
	if addr == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	addr = addrutil.Normalize(addr)
	switch r.Method {
	case http.MethodGet:
		rec, ok, err := a.Cache.Get(addr)
		if err != nil {
			http.Error(w, "cache unavailable", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := a.Cache.Delete(addr); err != nil {
			http.Error(w, "cache unavailable", http.StatusInternalServerError)
			return
		}
		a.Logger.Info("admin_cache_delete", zap.String("address", addr))
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "address": addr})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
