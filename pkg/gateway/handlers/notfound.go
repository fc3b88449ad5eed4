package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-relay/pkg/core"
	"github.com/vango-go/vai-relay/pkg/gateway/apierror"
	"github.com/vango-go/vai-relay/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	notFound := core.NewNotFoundError("not found")
	notFound.RequestID = reqID
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: notFound})
}
