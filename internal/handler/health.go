package handler

import (
	"database/sql"
	"net/http"

	"github.com/dukerupert/starchart/internal/backup"
)

type backupStatuser interface {
	Status() backup.Status
}

type HealthHandler struct {
	db     *sql.DB
	backup backupStatuser
}

func NewHealthHandler(db *sql.DB, b backupStatuser) *HealthHandler {
	return &HealthHandler{db: db, backup: b}
}

type healthResponse struct {
	Status string         `json:"status"`
	Backup *backup.Status `json:"backup,omitempty"`
}

// Health reports "ok" when the database answers a ping, and includes the
// backup state when a manager is configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.backup != nil {
		st := h.backup.Status()
		resp.Backup = &st
	}

	if err := h.db.PingContext(r.Context()); err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
