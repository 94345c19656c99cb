// Package admin exposes a running Connection's parameter-get surface
// (spec §4.9) over HTTP, for the debug/ops sibling of the public
// handle API (cmd/quicoreadmin). It never mutates connection state;
// everything here is read-only.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	quicore "github.com/nitishtalasu/msquic"
)

var statParams = []quicore.ParamID{
	quicore.ParamIdleTimeout,
	quicore.ParamKeepAliveInterval,
	quicore.ParamMaxIncomingBidiStreams,
	quicore.ParamMaxIncomingUniStreams,
	quicore.ParamHandshakeComplete,
	quicore.ParamBytesInFlight,
}

// NewServer builds an *http.Server serving conn's stats at addr. The
// caller owns starting/stopping it (ListenAndServe/Shutdown).
func NewServer(addr string, conn *quicore.Connection) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]any, len(statParams))
		for _, id := range statParams {
			v, err := conn.GetParam(id)
			if err != nil {
				continue
			}
			out[id.String()] = v
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}).Methods(http.MethodGet)

	r.HandleFunc("/params/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		id, ok := paramByName(name)
		if !ok {
			http.Error(w, "unknown parameter "+name, http.StatusNotFound)
			return
		}
		v, err := conn.GetParam(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"name": name, "value": v})
	}).Methods(http.MethodGet)

	return &http.Server{Addr: addr, Handler: r}
}

func paramByName(name string) (quicore.ParamID, bool) {
	for _, id := range statParams {
		if id.String() == name {
			return id, true
		}
	}
	return 0, false
}
